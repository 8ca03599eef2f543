// Package credentials stores the portal session tokens used by the backend
// client.
package credentials

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("no stored credentials")

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Store interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
}
