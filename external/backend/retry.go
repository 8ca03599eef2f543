package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/teleconsult/internal/credentials"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credentials.Tokens, error)
}

// RetryCoordinator owns the access token for one client. Concurrent requests
// that hit 401 share a single refresh; each retries its request once.
type RetryCoordinator struct {
	store     credentials.Store
	refresher Refresher
	metrics   *metrics.Metrics
	group     singleflight.Group
}

func NewRetryCoordinator(store credentials.Store, refresher Refresher, m *metrics.Metrics) *RetryCoordinator {
	return &RetryCoordinator{store: store, refresher: refresher, metrics: m}
}

// AccessToken returns the stored access token, or "" when none is stored.
func (r *RetryCoordinator) AccessToken(ctx context.Context) (string, error) {
	tokens, err := r.store.Load(ctx)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// Refresh returns an access token newer than rejected. When another request
// already refreshed past rejected, the stored token is returned without a
// second exchange.
func (r *RetryCoordinator) Refresh(ctx context.Context, rejected string) (string, error) {
	v, err, shared := r.group.Do("refresh", func() (any, error) {
		tokens, err := r.store.Load(ctx)
		if err != nil {
			return "", fmt.Errorf("load credentials: %w", err)
		}
		if tokens.AccessToken != "" && tokens.AccessToken != rejected {
			return tokens.AccessToken, nil
		}
		if tokens.RefreshToken == "" {
			return "", errors.New("no refresh token stored")
		}
		next, err := r.refresher.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("refresh access token: %w", err)
		}
		if next.RefreshToken == "" {
			next.RefreshToken = tokens.RefreshToken
		}
		if err := r.store.Save(ctx, next); err != nil {
			return "", fmt.Errorf("save refreshed credentials: %w", err)
		}
		r.metrics.IncTokenRefresh()
		slog.Info("portal access token refreshed")
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	slog.Debug("access token refresh resolved", "shared", shared)
	return v.(string), nil
}
