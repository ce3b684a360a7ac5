package voice

import (
	"github.com/foxseedlab/streamkoshin/internal/audio"
	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/discord"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Relay, error) {
		cfg := do.MustInvoke[*config.Config](i)
		dc := do.MustInvoke[discord.Client](i)
		manager := do.MustInvoke[*session.Manager](i)
		newMixer := do.MustInvoke[audio.MixerFactory](i)
		return NewRelay(cfg.DiscordGuildID, cfg.DefaultTranscribeLanguage, dc, manager, newMixer), nil
	})
}
