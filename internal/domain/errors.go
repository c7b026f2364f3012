package domain

import "errors"

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrAlreadyListening  = errors.New("already listening")

	ErrProviderAuth    = errors.New("provider rejected credential")
	ErrProviderRequest = errors.New("provider request failed")
	ErrProviderQuota   = errors.New("provider quota exceeded")

	ErrCredentialMissing = errors.New("no credential provided")
	ErrInsertionFailure  = errors.New("editor rejected the edit")
)
