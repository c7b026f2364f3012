package audio

import (
	"context"
	"io"
	"sync"
	"time"

	"voice-code/internal/domain"
)

// DefaultFrameSamples matches the buffer size PortAudio is opened with.
const DefaultFrameSamples = 1024

// frameStream is a channel-backed application.AudioStream. A producer
// goroutine calls push and then finish; the consumer calls NextFrame and
// Close.
type frameStream struct {
	frames     chan domain.AudioFrame
	done       chan struct{}
	sampleRate int
	sequence   uint64

	// batchMu keeps concurrent pushBatch callers from interleaving.
	batchMu sync.Mutex

	mu  sync.Mutex
	err error

	onClose   func() error
	closeOnce sync.Once
	closeErr  error
}

func newFrameStream(sampleRate, buffer int, onClose func() error) *frameStream {
	return &frameStream{
		frames:     make(chan domain.AudioFrame, buffer),
		done:       make(chan struct{}),
		sampleRate: sampleRate,
		onClose:    onClose,
	}
}

func (s *frameStream) SampleRate() int {
	return s.sampleRate
}

func (s *frameStream) NextFrame(ctx context.Context) (domain.AudioFrame, error) {
	select {
	case <-ctx.Done():
		return domain.AudioFrame{}, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return domain.AudioFrame{}, s.err
			}
			return domain.AudioFrame{}, io.EOF
		}
		return frame, nil
	}
}

// push delivers samples as one frame. It blocks until the consumer has room
// and reports false once the stream is closed or ctx is done.
func (s *frameStream) push(ctx context.Context, samples []int16) bool {
	s.sequence++
	frame := domain.AudioFrame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Sequence:   s.sequence,
	}
	select {
	case s.frames <- frame:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// offer delivers samples as one frame without waiting and reports false if
// the buffer was full. A dropped frame still consumes a sequence number.
func (s *frameStream) offer(samples []int16) bool {
	s.sequence++
	frame := domain.AudioFrame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Sequence:   s.sequence,
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// pushBatch delivers frames contiguously. Concurrent callers are served one
// batch at a time, so sequence numbers stay ordered and batches never mix.
func (s *frameStream) pushBatch(ctx context.Context, frames [][]int16) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	for _, samples := range frames {
		if !s.push(ctx, samples) {
			return false
		}
	}
	return true
}

// finish ends the stream. Only the producer may call it, exactly once.
func (s *frameStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.frames)
}

func (s *frameStream) closed() <-chan struct{} {
	return s.done
}

func (s *frameStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.closeErr = s.onClose()
		}
	})
	return s.closeErr
}

// chunk splits samples into frames of at most size samples.
func chunk(samples []int16, size int) [][]int16 {
	if size <= 0 {
		size = DefaultFrameSamples
	}
	var out [][]int16
	for len(samples) > 0 {
		n := min(size, len(samples))
		out = append(out, samples[:n])
		samples = samples[n:]
	}
	return out
}

// bufferFrames is the number of frames that hold d of audio, at least 8.
func bufferFrames(d time.Duration, sampleRate, frameSamples int) int {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return max(8, samplesFor(d, sampleRate)/frameSamples)
}
