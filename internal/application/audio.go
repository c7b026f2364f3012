package application

import (
	"context"

	"voice-code/internal/domain"
)

// AudioSource opens capture streams. Open fails with domain.ErrPermissionDenied
// or domain.ErrDeviceUnavailable when capture cannot begin.
type AudioSource interface {
	Open(ctx context.Context) (AudioStream, error)
	Name() string
}

// AudioStream is the handle returned by Open. NextFrame blocks until a frame
// is available, ctx is done, or the stream ends with io.EOF.
type AudioStream interface {
	NextFrame(ctx context.Context) (domain.AudioFrame, error)
	SampleRate() int
	Close() error
}
