package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/foxseedlab/teleconsult/internal/credentials"
	"github.com/zalando/go-keyring"
)

const keyringUser = "portal"

// KeyringStore keeps the portal tokens as one JSON secret in the system
// keyring (macOS Keychain, Windows Credential Manager, Secret Service).
type KeyringStore struct {
	service string
	mu      sync.Mutex
}

func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Load(_ context.Context) (credentials.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := keyring.Get(s.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return credentials.Tokens{}, credentials.ErrNotFound
	}
	if err != nil {
		return credentials.Tokens{}, fmt.Errorf("read keyring: %w", err)
	}
	var tokens credentials.Tokens
	if err := json.Unmarshal([]byte(secret), &tokens); err != nil {
		return credentials.Tokens{}, fmt.Errorf("decode stored credentials: %w", err)
	}
	return tokens, nil
}

func (s *KeyringStore) Save(_ context.Context, tokens credentials.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := keyring.Set(s.service, keyringUser, string(data)); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring entry: %w", err)
	}
	return nil
}
