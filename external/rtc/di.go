package rtc

import (
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (media.Transport, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewTransport(Config{
			SignalingURL: c.RTCSignalingURL,
			STUNServers:  c.RTCSTUNServers,
			JoinTimeout:  c.RTCJoinTimeout,
		}), nil
	})
}
