package credentials

import (
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/credentials"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (credentials.Store, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewKeyringStore(c.KeyringService), nil
	})
}
