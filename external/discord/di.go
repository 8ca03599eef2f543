package discord

import (
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/notify"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (notify.Notifier, error) {
		c := do.MustInvoke[*config.Config](i)
		if !c.DiscordEnabled() {
			return notify.Noop{}, nil
		}
		return NewNotifier(c.DiscordToken, c.DiscordNotifyChannelID)
	})
}
