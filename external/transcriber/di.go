package transcriber

import (
	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*CloudSpeechTransport, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewCloudSpeechTransport(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.Transport, error) {
		return do.MustInvoke[*CloudSpeechTransport](i), nil
	})
}
