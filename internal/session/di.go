package session

import (
	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"github.com/samber/do/v2"
)

// RegisterDI provides the session manager. Sinks and metrics registered in
// the injector as []Sink and Metrics are attached when present.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		transport := do.MustInvoke[transcriber.Transport](i)

		var opts []Option
		if mt, err := do.Invoke[Metrics](i); err == nil {
			opts = append(opts, WithMetrics(mt))
		}
		if sinks, err := do.Invoke[[]Sink](i); err == nil {
			for _, s := range sinks {
				opts = append(opts, WithSink(s))
			}
		}
		return NewManager(transport, OptionsFromConfig(cfg), opts...), nil
	})
}
