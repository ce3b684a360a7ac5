package httpapi

import (
	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/observe"
	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*session.Manager](i)

		opts := []Option{WithStopTimeout(cfg.StopDrainTimeout() + readinessTimeout)}
		if m, err := do.Invoke[*observe.Metrics](i); err == nil {
			opts = append(opts, WithMetrics(m))
		}
		if cfg.PersistenceEnabled() {
			repo, err := do.Invoke[repository.Repository](i)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithReadiness(repo))
		}
		return NewServer(manager, opts...), nil
	})
}
