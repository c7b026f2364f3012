package application

import (
	"context"

	"voice-code/internal/domain"
)

// CodeGenerator turns an utterance into code. Implementations return only
// the fenced code payload when the provider wraps it in prose, and classify
// failures as domain.ErrProviderAuth, domain.ErrProviderQuota or
// domain.ErrProviderRequest.
type CodeGenerator interface {
	Generate(ctx context.Context, utterance string, cred domain.Credential) (string, error)
	Name() string
}
