package audio

import (
	"context"
	"fmt"
	"log/slog"
)

// captureLoop copies each buffer filled by read into frames until read fails
// or frames is closed. Errors accepted by recoverable are logged and the
// buffer is still delivered. The loop never waits on the consumer: while
// frames is full, new buffers are dropped so the device keeps being read.
func captureLoop(ctx context.Context, read func() error, buffer []int16, frames *frameStream, recoverable func(error) bool, logger *slog.Logger) {
	var dropped int
	for {
		if err := read(); err != nil {
			select {
			case <-frames.closed():
				frames.finish(nil)
				return
			default:
			}
			if !recoverable(err) {
				frames.finish(fmt.Errorf("reading from stream: %w", err))
				return
			}
			logger.Warn("audio input overflowed, continuing", "error", err)
		}
		if err := ctx.Err(); err != nil {
			frames.finish(err)
			return
		}

		samples := make([]int16, len(buffer))
		copy(samples, buffer)
		if !frames.offer(samples) {
			if dropped == 0 {
				logger.Warn("capture buffer full, dropping audio until recognition catches up")
			}
			dropped++
			continue
		}
		if dropped > 0 {
			logger.Info("capture resumed", "dropped_frames", dropped)
			dropped = 0
		}
	}
}
