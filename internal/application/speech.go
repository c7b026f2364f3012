package application

import (
	"context"
	"fmt"

	"voice-code/internal/domain"
)

// SpeechRecognizer creates one Recognizer per listening session.
type SpeechRecognizer interface {
	NewRecognizer(ctx context.Context, sampleRate int) (Recognizer, error)
	Name() string
}

// Recognizer buffers audio until the decoder reaches an utterance boundary.
// PushFrame returns nil until then. Finish flushes and returns the trailing
// utterance, if any; calling it again returns nil.
type Recognizer interface {
	PushFrame(ctx context.Context, frame domain.AudioFrame) (*domain.Utterance, error)
	Finish(ctx context.Context) (*domain.Utterance, error)
}

// Transcriber turns one WAV-encoded segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// NoopTranscriber is used when no batch transcription backend is configured.
type NoopTranscriber struct{}

func (n *NoopTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return "", fmt.Errorf("speech-to-text not configured, set recognition.whisper.api_key or use recognition.engine vosk: %w", domain.ErrCredentialMissing)
}
