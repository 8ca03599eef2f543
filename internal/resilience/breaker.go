// Package resilience guards calls to flaky providers with a circuit breaker
// and fails over between equivalent providers.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrBreakerOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker. Default 3.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown time.Duration
	Now      func() time.Time
}

// Breaker is a closed/open/half-open circuit breaker. In half-open a single
// probe call is let through; its outcome closes or re-opens the breaker.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         cfg.Now,
		state:       BreakerClosed,
	}
}

func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		slog.Info("circuit breaker probing", "name", b.name)
		return true, nil
	case BreakerHalfOpen:
		if b.probing {
			return false, ErrBreakerOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if err == nil {
		if b.state != BreakerClosed {
			slog.Info("circuit breaker closed", "name", b.name)
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	b.failures++
	if probe || b.failures >= b.maxFailures {
		if b.state != BreakerOpen {
			slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}
