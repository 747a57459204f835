// Package account stores the user's autemo credentials and hands out session
// tokens, caching the current token until it is invalidated.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ErrNoAccount means no credentials have been configured. Callers that
// require an existing account treat this as a programming-contract
// violation, not a recoverable runtime condition.
var ErrNoAccount = errors.New("account: no credentials configured")

// Authenticator logs in against the remote site and returns a session token.
type Authenticator interface {
	Token(ctx context.Context, email, password string) (string, error)
}

// Credentials is the stored username/secret pair. On autemo the username is
// the registered email address.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Manager is the credential-and-token provider. Credentials live in a JSON
// file owned by the user; the session token is held only in memory.
type Manager struct {
	auth   Authenticator
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	token string
}

// NewManager creates a manager reading credentials from the file at path.
func NewManager(auth Authenticator, path string, logger *slog.Logger) *Manager {
	return &Manager{
		auth:   auth,
		path:   path,
		logger: logger,
	}
}

// Save persists credentials, replacing any previous ones, and drops the
// cached token so the next Token call authenticates with the new pair.
func (m *Manager) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()

	m.logger.Info("Credentials saved", "path", m.path)
	return nil
}

// Credentials loads the stored pair, or ErrNoAccount when none exist.
func (m *Manager) Credentials() (Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNoAccount
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if creds.Email == "" {
		return Credentials{}, ErrNoAccount
	}

	return creds, nil
}

// Token returns the cached session token, authenticating first when none is
// held. Returns ErrNoAccount when no credentials are configured.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token != "" {
		return token, nil
	}

	creds, err := m.Credentials()
	if err != nil {
		return "", err
	}

	token, err = m.auth.Token(ctx, creds.Email, creds.Password)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	m.logger.Debug("Session token cached")
	return token, nil
}

// Invalidate drops the cached token if it matches the given one. A token
// acquired concurrently by another caller survives.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == token {
		m.token = ""
		m.logger.Debug("Session token invalidated")
	}
}
