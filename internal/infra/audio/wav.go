package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

var errNotWAV = errors.New("not a PCM16 WAV stream")

// encodeWAV wraps mono PCM16 samples in a canonical 44-byte RIFF header.
func encodeWAV(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * 2
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1))
	binary.Write(&buf, binary.LittleEndian, int16(1))
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, int16(2))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// decodeWAV returns mono samples from a PCM16 WAV file. Multi-channel input
// is averaged down to one channel.
func decodeWAV(data []byte) ([]int16, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, 0, errNotWAV
	}
	if d.WavAudioFormat != 1 || d.BitDepth != 16 || d.SampleRate == 0 {
		return nil, 0, fmt.Errorf("format %d, %d bits, %d Hz: %w", d.WavAudioFormat, d.BitDepth, d.SampleRate, errNotWAV)
	}

	// IsValidFile reads past the headers, so the samples come from a fresh decoder.
	buf, err := wav.NewDecoder(bytes.NewReader(data)).FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading samples: %w: %w", errNotWAV, err)
	}
	channels, sampleRate := buf.Format.NumChannels, buf.Format.SampleRate
	if channels < 1 || sampleRate <= 0 {
		return nil, 0, fmt.Errorf("%d channels at %d Hz: %w", channels, sampleRate, errNotWAV)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return downmix(samples, channels), sampleRate, nil
}

func pcm16(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples
}

func downmix(samples []int16, channels int) []int16 {
	if channels == 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}
