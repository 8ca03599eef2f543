package backend

import (
	"github.com/foxseedlab/teleconsult/internal/backend"
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/credentials"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (backend.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPClient(HTTPClientConfig{
			BaseURL: c.BackendBaseURL,
			Timeout: c.BackendRequestTimeout,
			Store:   do.MustInvoke[credentials.Store](i),
			Metrics: do.MustInvoke[*metrics.Metrics](i),
		}), nil
	})
}
