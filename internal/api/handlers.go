// Package api implements the HTTP surface of the TTS server: the synthesis
// endpoint, the artifact download endpoint, and the cross-origin middleware
// in front of both.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/kokorotts/kokoro-server/internal/config"
	"github.com/kokorotts/kokoro-server/internal/observability"
	"github.com/kokorotts/kokoro-server/internal/resilience"
	"github.com/kokorotts/kokoro-server/internal/store"
	"github.com/kokorotts/kokoro-server/internal/tts"
)

// Synthesizer is the synthesis backend the handlers drive.
type Synthesizer interface {
	Available() bool
	Synthesize(ctx context.Context, job tts.Job) (string, error)
}

// Handler serves the synthesis and download endpoints.
type Handler struct {
	cfg    *config.Config
	synth  Synthesizer
	store  *store.Store
	logger zerolog.Logger

	// sem bounds concurrent synthesis runs when configured; nil means
	// unbounded.
	sem chan struct{}
}

// NewHandler wires the handlers to their collaborators.
func NewHandler(cfg *config.Config, synth Synthesizer, st *store.Store, logger zerolog.Logger) *Handler {
	var sem chan struct{}
	if cfg.SynthesisConcurrency > 0 {
		sem = make(chan struct{}, cfg.SynthesisConcurrency)
	}

	return &Handler{
		cfg:    cfg,
		synth:  synth,
		store:  st,
		logger: logger,
		sem:    sem,
	}
}

// Register attaches the API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tts", h.HandleSynthesize)
	mux.HandleFunc("GET /download/{filename}", h.HandleDownload)
}

// HandleSynthesize validates the request, runs synthesis under the timeout
// and retry policy, and returns a download reference. Validation failures
// are rejected before any engine work.
func (h *Handler) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With().Str("request_id", observability.NewRequestID()).Logger()

	var req SynthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.RecordSynthesisRejected("invalid_input")
		logger.Warn().Err(err).Msg("Malformed synthesis request body")
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body.")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		observability.RecordSynthesisRejected("invalid_input")
		logger.Warn().Msg("Synthesis request with empty text")
		writeError(w, http.StatusUnprocessableEntity, "The 'text' field is required and cannot be empty.")
		return
	}

	textLen := utf8.RuneCountInString(text)
	if textLen > h.cfg.MaxTextLength {
		observability.RecordSynthesisRejected("payload_too_large")
		logger.Info().
			Int("text_len", textLen).
			Int("max", h.cfg.MaxTextLength).
			Msg("Synthesis request over the text length limit")
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Text too long (max %d characters).", h.cfg.MaxTextLength))
		return
	}

	job := tts.Job{
		Text:  text,
		Voice: req.Voice,
		Lang:  req.Lang,
		Speed: req.Speed,
	}
	if job.Voice == "" {
		job.Voice = h.cfg.DefaultVoice
	}
	if job.Lang == "" {
		job.Lang = h.cfg.DefaultLang
	}
	if job.Speed == 0 {
		job.Speed = h.cfg.DefaultSpeed
	}

	if !h.synth.Available() {
		observability.RecordSynthesisRejected("unavailable")
		logger.Error().Msg("Synthesis requested while the engine is unavailable")
		writeError(w, http.StatusServiceUnavailable, "TTS engine not available.")
		return
	}

	logger.Info().
		Int("text_len", textLen).
		Str("voice", job.Voice).
		Str("lang", job.Lang).
		Float64("speed", job.Speed).
		Msg("Synthesis requested")

	start := time.Now()
	observability.RecordSynthesisStart()

	var filename string
	attempt := func() error {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.SynthesisTimeout())
		defer cancel()

		if err := h.acquireSlot(ctx); err != nil {
			return err
		}
		defer h.releaseSlot()

		name, err := h.synth.Synthesize(ctx, job)
		if err != nil {
			return err
		}
		filename = name
		return nil
	}

	// One retry with a fresh engine run, for non-timeout failures only.
	err := resilience.Retry(attempt, resilience.SynthesisRetryConfig(),
		func(err error) bool {
			return !errors.Is(err, context.DeadlineExceeded)
		},
		func(attemptNum int, err error) {
			observability.RecordSynthesisRetry()
			logger.Warn().
				Err(err).
				Int("attempt", attemptNum).
				Msg("Retrying synthesis with a fresh engine run")
		})
	if err != nil {
		h.writeSynthesisError(w, logger, err, start)
		return
	}

	observability.RecordSynthesisEnd("success", start)
	logger.Info().
		Str("filename", filename).
		Dur("elapsed", time.Since(start)).
		Msg("Synthesis succeeded")

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Audio generated successfully.",
		Data: &SynthesisResult{
			Filename:    filename,
			DownloadURL: "/download/" + filename,
		},
	})
}

func (h *Handler) writeSynthesisError(w http.ResponseWriter, logger zerolog.Logger, err error, start time.Time) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		observability.RecordSynthesisEnd("timeout", start)
		logger.Error().
			Dur("timeout", h.cfg.SynthesisTimeout()).
			Msg("Synthesis timed out")
		writeError(w, http.StatusGatewayTimeout, "Synthesis took too long (timeout).")
	case errors.Is(err, tts.ErrEngineUnavailable):
		observability.RecordSynthesisEnd("unavailable", start)
		logger.Error().Err(err).Msg("Engine became unavailable")
		writeError(w, http.StatusServiceUnavailable, "TTS engine not available.")
	default:
		// Covers engine failures after the retry and ErrNoAudio. The raw
		// error is logged, never surfaced to the caller.
		observability.RecordSynthesisEnd("error", start)
		logger.Error().Err(err).Msg("Synthesis failed")
		writeError(w, http.StatusInternalServerError, "Internal error during synthesis.")
	}
}

func (h *Handler) acquireSlot(ctx context.Context) error {
	if h.sem == nil {
		return nil
	}

	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) releaseSlot() {
	if h.sem != nil {
		<-h.sem
	}
}

// HandleDownload streams a previously generated artifact and schedules its
// deferred deletion. The filename is caller-controlled and resolved against
// the scratch directory; anything that does not resolve there is a 404.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	path, err := h.store.Resolve(name)
	if err != nil {
		observability.RecordDownload("not_found")
		h.logger.Warn().
			Str("filename", name).
			Msg("Download requested for missing artifact")
		writeError(w, http.StatusNotFound, "File not found.")
		return
	}

	// Scheduled before serving; the response is not blocked by it.
	h.store.RemoveAfter(name, h.cfg.CleanupDelay())

	observability.RecordDownload("success")
	h.logger.Info().
		Str("filename", name).
		Msg("Serving artifact")

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
