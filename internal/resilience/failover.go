package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

var ErrAllProvidersFailed = errors.New("all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds a primary provider and ordered fallbacks, each behind its own
// breaker. Members are fixed after construction.
type Failover[T any] struct {
	members []member[T]
}

func NewFailover[T any](cfg BreakerConfig, primaryName string, primary T) *Failover[T] {
	f := &Failover[T]{}
	f.add(cfg, primaryName, primary)
	return f
}

func (f *Failover[T]) With(cfg BreakerConfig, name string, fallback T) *Failover[T] {
	f.add(cfg, name, fallback)
	return f
}

func (f *Failover[T]) add(cfg BreakerConfig, name string, value T) {
	cfg.Name = name
	f.members = append(f.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

func (f *Failover[T]) Names() []string {
	names := make([]string, 0, len(f.members))
	for _, m := range f.members {
		names = append(names, m.name)
	}
	return names
}

// Call runs fn against members in order and returns the first success.
// Members whose breaker is open are skipped.
func Call[T, R any](f *Failover[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var lastErr error
	for i := range f.members {
		m := &f.members[i]
		var out R
		err := m.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(m.value)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider with open breaker", "provider", m.name)
			continue
		}
		slog.Warn("provider failed; trying next", "provider", m.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}
