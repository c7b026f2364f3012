//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"

	"voice-code/internal/application"
	"voice-code/internal/domain"
)

// MicrophoneSource captures from the default input device. Frames are
// buffered for up to the configured duration while recognition is busy.
type MicrophoneSource struct {
	sampleRate   int
	frameSamples int
	bufferFrames int
	logger       *slog.Logger
}

func NewMicrophoneSource(sampleRate, frameSamples int, buffer time.Duration, logger *slog.Logger) *MicrophoneSource {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &MicrophoneSource{
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		bufferFrames: bufferFrames(buffer, sampleRate, frameSamples),
		logger:       logger,
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Open(ctx context.Context) (application.AudioStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classifyOpenError("initializing portaudio", err)
	}

	buffer := make([]int16, m.frameSamples)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buffer), buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, classifyOpenError("opening stream", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classifyOpenError("starting stream", err)
	}

	frames := newFrameStream(m.sampleRate, m.bufferFrames, nil)
	readerDone := make(chan struct{})

	frames.onClose = func() error {
		// Stop unblocks a pending Read; the reader exits before Close runs.
		stopErr := stream.Stop()
		<-readerDone
		closeErr := stream.Close()
		portaudio.Terminate()
		return errors.Join(stopErr, closeErr)
	}

	go func() {
		defer close(readerDone)
		captureLoop(ctx, stream.Read, buffer, frames, isInputOverflow, m.logger)
	}()

	m.logger.Info("microphone started", "sampleRate", m.sampleRate, "bufferFrames", m.bufferFrames)
	return frames, nil
}

func isInputOverflow(err error) bool {
	return errors.Is(err, portaudio.InputOverflowed)
}

func classifyOpenError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDeviceUnavailable, err)
	}
}
