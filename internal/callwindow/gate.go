package callwindow

import (
	"context"
	"sync"
	"time"
)

const DefaultRefreshInterval = 60 * time.Second

// Gate re-evaluates the window on a fixed cadence and publishes each snapshot.
// The underlying quantity has no event source, so it is polled.
type Gate struct {
	appointment time.Time
	interval    time.Duration
	now         func() time.Time
	publish     func(Status)

	mu      sync.RWMutex
	current Status
}

type GateConfig struct {
	Appointment time.Time
	Interval    time.Duration
	Now         func() time.Time
	Publish     func(Status)
}

func NewGate(cfg GateConfig) *Gate {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	g := &Gate{
		appointment: cfg.Appointment,
		interval:    interval,
		now:         now,
		publish:     cfg.Publish,
	}
	g.current = Evaluate(now(), cfg.Appointment)
	return g
}

// Run publishes a snapshot immediately and then once per interval until ctx
// is done. The ticker is released on return.
func (g *Gate) Run(ctx context.Context) {
	g.recompute()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.recompute()
		}
	}
}

func (g *Gate) Current() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

func (g *Gate) recompute() {
	st := Evaluate(g.now(), g.appointment)
	g.mu.Lock()
	g.current = st
	g.mu.Unlock()
	if g.publish != nil {
		g.publish(st)
	}
}
