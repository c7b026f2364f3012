package domain

import "time"

type AudioFrame struct {
	Samples    []int16
	SampleRate int
	Sequence   uint64
}

// Duration reports how much audio the frame carries.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

type Utterance struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}
