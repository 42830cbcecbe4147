// Package tts wraps the external Kokoro synthesis engine: it drives one
// engine run per request, selects the final audio buffer from the engine's
// output sequence, and writes it as a WAV artifact.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kokorotts/kokoro-server/internal/audio"
	"github.com/kokorotts/kokoro-server/internal/observability"
	"github.com/kokorotts/kokoro-server/internal/store"
)

// ErrNoAudio indicates the engine run completed without producing any usable
// audio buffer.
var ErrNoAudio = errors.New("no audio produced by the engine")

// Synthesizer adapts the engine to the request lifecycle: one fresh engine
// run per call, last valid buffer wins, artifact written via the store.
type Synthesizer struct {
	engine     Engine
	store      *store.Store
	sampleRate int
	logger     zerolog.Logger
}

// NewSynthesizer creates a Synthesizer writing artifacts at the given sample
// rate into the store's scratch directory.
func NewSynthesizer(engine Engine, st *store.Store, sampleRate int, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		engine:     engine,
		store:      st,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Available reports whether the underlying engine loaded at process start.
func (s *Synthesizer) Available() bool {
	return s.engine.Available()
}

// Synthesize runs the engine for the job and writes the final audio buffer
// to a uniquely named WAV file, returning the filename. The engine yields a
// sequence of intermediate segments; the most recently produced buffer is
// kept as the final output and segments without samples are skipped. On any
// failure no artifact is left behind.
func (s *Synthesizer) Synthesize(ctx context.Context, job Job) (string, error) {
	pipeline, err := s.engine.Start(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to start engine run: %w", err)
	}
	defer pipeline.Close()

	var last []float64
	segments := 0

	for seg := range pipeline.Segments() {
		segments++
		if len(seg.Samples) == 0 {
			continue
		}
		last = seg.Samples
	}

	if err := pipeline.Err(); err != nil {
		return "", fmt.Errorf("engine run failed: %w", err)
	}

	if last == nil {
		s.logger.Error().
			Int("segments", segments).
			Msg("Engine run yielded no audio buffer")
		return "", ErrNoAudio
	}

	name := s.store.NewFilename()
	path := s.store.Path(name)

	if err := audio.WriteWAVFile(path, last, s.sampleRate); err != nil {
		// No residual partial artifacts.
		s.store.Remove(name)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	observability.RecordArtifactWritten()
	s.logger.Info().
		Str("filename", name).
		Int("segments", segments).
		Int("samples", len(last)).
		Msg("Generated audio artifact")

	return name, nil
}
