package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

// FileSource replays a PCM16 WAV file as a capture stream. The stream ends
// with io.EOF after the last frame.
type FileSource struct {
	path         string
	frameSamples int
	realtime     bool
}

func NewFileSource(path string, frameSamples int, realtime bool) *FileSource {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &FileSource{
		path:         path,
		frameSamples: frameSamples,
		realtime:     realtime,
	}
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) Open(ctx context.Context) (application.AudioStream, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("reading %s: %w", f.path, domain.ErrPermissionDenied)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w: %w", f.path, domain.ErrDeviceUnavailable, err)
	}

	samples, sampleRate, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w: %w", f.path, domain.ErrDeviceUnavailable, err)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("decoding %s: sample rate %d: %w", f.path, sampleRate, domain.ErrDeviceUnavailable)
	}

	frames := chunk(samples, f.frameSamples)
	stream := newFrameStream(sampleRate, 0, nil)

	go func() {
		var pace *time.Ticker
		if f.realtime {
			pace = time.NewTicker(time.Duration(f.frameSamples) * time.Second / time.Duration(sampleRate))
			defer pace.Stop()
		}

		for _, frame := range frames {
			if pace != nil {
				select {
				case <-pace.C:
				case <-stream.closed():
					stream.finish(nil)
					return
				case <-ctx.Done():
					stream.finish(ctx.Err())
					return
				}
			}
			if !stream.push(ctx, frame) {
				stream.finish(ctx.Err())
				return
			}
		}
		stream.finish(nil)
	}()

	return stream, nil
}
