package domain

import "log/slog"

type GenerationRequest struct {
	ID            string
	UtteranceText string
	ProviderKey   string
}

type GenerationResult struct {
	RequestID string
	Code      string
	Err       error
}

// Credential is a provider API key. It never prints its secret.
type Credential struct {
	Provider string
	Secret   string
}

func (c Credential) String() string {
	return c.Provider + ":[redacted]"
}

func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Provider),
		slog.String("secret", "[redacted]"),
	)
}
