package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoKey is returned by AccessToken when no key is selected.
	ErrNoKey = errors.New("no API key selected")
	// ErrEmptyKey is returned by Stage for a blank key.
	ErrEmptyKey = errors.New("api key must not be empty")
)

// SessionCapability exposes one session's keys in a KeyStore as a
// credential capability. The selector is confirmed by promoting the key the
// user staged beforehand.
type SessionCapability struct {
	store     KeyStore
	sessionID string
}

// NewSessionCapability creates a capability bound to sessionID.
func NewSessionCapability(store KeyStore, sessionID string) *SessionCapability {
	return &SessionCapability{store: store, sessionID: sessionID}
}

// HasSelectedCredential reports whether a key is selected.
func (c *SessionCapability) HasSelectedCredential(ctx context.Context) (bool, error) {
	key, err := c.store.Selected(ctx, c.sessionID)
	if err != nil {
		return false, fmt.Errorf("load selected key: %w", err)
	}
	return key != "", nil
}

// OpenCredentialSelector selects the staged key.
func (c *SessionCapability) OpenCredentialSelector(ctx context.Context) error {
	if err := c.store.Promote(ctx, c.sessionID); err != nil {
		return fmt.Errorf("select key: %w", err)
	}
	return nil
}

// AccessToken returns the selected key.
func (c *SessionCapability) AccessToken(ctx context.Context) (string, error) {
	key, err := c.store.Selected(ctx, c.sessionID)
	if err != nil {
		return "", fmt.Errorf("load selected key: %w", err)
	}
	if key == "" {
		return "", ErrNoKey
	}
	return key, nil
}

// Stage offers key for selection.
func (c *SessionCapability) Stage(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	return c.store.Stage(ctx, c.sessionID, key)
}

// Release drops every key held for the session.
func (c *SessionCapability) Release(ctx context.Context) error {
	return c.store.Clear(ctx, c.sessionID)
}

// EnvCapability serves a single key fixed at deployment time.
type EnvCapability struct {
	key string
}

// NewEnvCapability creates a capability for a deployment wide key.
func NewEnvCapability(key string) *EnvCapability {
	return &EnvCapability{key: strings.TrimSpace(key)}
}

// HasSelectedCredential reports whether a key is configured.
func (c *EnvCapability) HasSelectedCredential(context.Context) (bool, error) {
	return c.key != "", nil
}

// OpenCredentialSelector fails when no key is configured; there is nothing
// for the user to pick.
func (c *EnvCapability) OpenCredentialSelector(context.Context) error {
	if c.key == "" {
		return ErrNoKey
	}
	return nil
}

// AccessToken returns the configured key.
func (c *EnvCapability) AccessToken(context.Context) (string, error) {
	if c.key == "" {
		return "", ErrNoKey
	}
	return c.key, nil
}
