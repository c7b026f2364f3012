package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voice-code/internal/domain"
)

// SecretStore persists secrets outside the process lifetime.
type SecretStore interface {
	ReadSecret(ctx context.Context, name string) (string, bool, error)
	WriteSecret(ctx context.Context, name, value string) error
}

// SecretPrompter asks the user for a secret with masked input.
type SecretPrompter interface {
	PromptSecret(ctx context.Context, name string) (string, error)
}

// CredentialStore resolves provider keys: persisted value first, then a
// prompt whose answer is persisted before it is returned.
type CredentialStore struct {
	store    SecretStore
	prompter SecretPrompter
	logger   *slog.Logger

	// promptMu keeps at most one prompt on screen.
	promptMu sync.Mutex
}

func NewCredentialStore(store SecretStore, prompter SecretPrompter, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		store:    store,
		prompter: prompter,
		logger:   logger,
	}
}

func (s *CredentialStore) Get(ctx context.Context, name string) (domain.Credential, error) {
	value, ok, err := s.store.ReadSecret(ctx, name)
	switch {
	case err != nil:
		s.logger.Warn("reading stored credential failed, prompting", "name", name, "error", err)
	case ok && value != "":
		return domain.Credential{Provider: name, Secret: value}, nil
	default:
		s.logger.Info("no stored credential, prompting", "name", name)
	}

	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	// Another caller may have stored the key while we waited for the prompt.
	if value, ok, err := s.store.ReadSecret(ctx, name); err == nil && ok && value != "" {
		return domain.Credential{Provider: name, Secret: value}, nil
	}

	return s.promptLocked(ctx, name)
}

// Reprompt asks for a new value even when one is stored. It is used after the
// provider rejected the current key.
func (s *CredentialStore) Reprompt(ctx context.Context, name string) (domain.Credential, error) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	return s.promptLocked(ctx, name)
}

func (s *CredentialStore) Set(ctx context.Context, name, value string) error {
	if err := s.store.WriteSecret(ctx, name, value); err != nil {
		return fmt.Errorf("storing credential %s: %w", name, err)
	}
	s.logger.Info("credential updated", "name", name)
	return nil
}

func (s *CredentialStore) promptLocked(ctx context.Context, name string) (domain.Credential, error) {
	value, err := s.prompter.PromptSecret(ctx, name)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("prompting for %s: %w", name, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Credential{}, fmt.Errorf("%s: %w", name, domain.ErrCredentialMissing)
	}

	if err := s.store.WriteSecret(ctx, name, value); err != nil {
		s.logger.Warn("persisting credential failed, using it for this session only", "name", name, "error", err)
	}

	return domain.Credential{Provider: name, Secret: value}, nil
}
