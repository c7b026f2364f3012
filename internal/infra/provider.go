package infra

import (
	"bytes"
	"fmt"
	"net/http"

	"voice-code/internal/domain"
)

const maxErrorBody = 512

// ClassifyStatus maps a failed provider response onto the provider error
// taxonomy. Quota exhaustion is recognised from the status code or from the
// error payload, since some providers report it with a generic 4xx.
func ClassifyStatus(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrProviderAuth
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return domain.ErrProviderQuota
	}

	lower := bytes.ToLower(body)
	if bytes.Contains(lower, []byte("insufficient_quota")) || bytes.Contains(lower, []byte("resource_exhausted")) {
		return domain.ErrProviderQuota
	}
	return domain.ErrProviderRequest
}

// StatusError builds the error returned for a non-200 provider response.
func StatusError(provider string, statusCode int, body []byte) error {
	return fmt.Errorf("%s API error %d: %s: %w", provider, statusCode, truncate(body), ClassifyStatus(statusCode, body))
}

// RequestError wraps a transport failure. The cause stays inspectable so
// callers can tell a cancelled request apart.
func RequestError(provider string, err error) error {
	return fmt.Errorf("sending %s request: %w: %w", provider, domain.ErrProviderRequest, err)
}

func truncate(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
