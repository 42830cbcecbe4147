// Package audio converts engine sample buffers into the uncompressed WAV
// container served to clients.
package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth    = 16
	numChannels = 1 // mono
	// PCM format tag in the WAV header.
	wavAudioFormat = 1

	filePermissions = 0o600
)

// FloatToPCM16 converts normalized float samples in [-1, 1] to 16-bit PCM
// values. Out-of-range samples are clamped rather than wrapped.
func FloatToPCM16(samples []float64) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		out[i] = int(math.Round(s * math.MaxInt16))
	}

	return out
}

// EncodeWAV writes samples as 16-bit mono PCM WAV at the given sample rate.
func EncodeWAV(w io.WriteSeeker, samples []float64, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, bitDepth, numChannels, wavAudioFormat)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: numChannels,
			SampleRate:  sampleRate,
		},
		Data:           FloatToPCM16(samples),
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	return nil
}

// WriteWAVFile encodes samples to a WAV file at path. On encoding failure the
// file is left in place for the caller to clean up, so callers that must not
// leak partial artifacts remove it on error.
func WriteWAVFile(path string, samples []float64, sampleRate int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}

	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audio file: %w", err)
	}

	return nil
}
