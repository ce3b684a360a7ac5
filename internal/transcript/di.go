package transcript

import (
	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/foxseedlab/streamkoshin/internal/webhook"
	"github.com/samber/do/v2"
)

// RegisterDI provides the recorder. The repository is only resolved when
// persistence is enabled.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Recorder, error) {
		cfg := do.MustInvoke[*config.Config](i)
		var repo repository.Repository
		if cfg.PersistenceEnabled() {
			r, err := do.Invoke[repository.Repository](i)
			if err != nil {
				return nil, err
			}
			repo = r
		}
		var sender webhook.Sender
		if cfg.TranscriptWebhookURL != "" {
			sender = do.MustInvoke[webhook.Sender](i)
		}
		return NewRecorder(repo, sender), nil
	})
}
