package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrEngineUnavailable indicates the engine binary was not found at process
// start; no synthesis can be attempted.
var ErrEngineUnavailable = errors.New("tts engine not available")

// Engine process output lines can carry large sample arrays.
const maxOutputLineBytes = 64 * 1024 * 1024

// KokoroEngine runs the Kokoro synthesis binary as a supervised subprocess,
// one process per request. The process is spawned with the request context,
// so a timed-out or abandoned request kills it rather than leaving work
// running in the background.
type KokoroEngine struct {
	command string
	path    string
	logger  zerolog.Logger
}

// NewKokoroEngine resolves the engine binary on PATH once. A missing binary
// is not an error here: the engine is constructed unavailable and every
// request fails fast until the process is restarted with the binary present.
func NewKokoroEngine(command string, logger zerolog.Logger) *KokoroEngine {
	e := &KokoroEngine{
		command: command,
		logger:  logger,
	}

	path, err := exec.LookPath(command)
	if err != nil {
		logger.Error().
			Err(err).
			Str("command", command).
			Msg("TTS engine binary not found; synthesis requests will be rejected")
		return e
	}

	e.path = path

	return e
}

// Available reports whether the engine binary was found at startup.
func (e *KokoroEngine) Available() bool {
	return e.path != ""
}

// Start launches one engine process for the job. The process reads text on
// stdin and emits one JSON segment per stdout line.
func (e *KokoroEngine) Start(ctx context.Context, job Job) (Pipeline, error) {
	if !e.Available() {
		return nil, ErrEngineUnavailable
	}

	cmd := exec.CommandContext(ctx, e.path,
		"--lang", job.Lang,
		"--voice", job.Voice,
		"--speed", strconv.FormatFloat(job.Speed, 'f', 2, 64),
	)
	cmd.Stdin = strings.NewReader(job.Text)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine process: %w", err)
	}

	p := &kokoroPipeline{
		cmd:      cmd,
		segments: make(chan Segment),
		logger:   e.logger,
	}

	go p.run(ctx, stdout, &stderr)

	return p, nil
}

type kokoroPipeline struct {
	cmd      *exec.Cmd
	segments chan Segment
	logger   zerolog.Logger

	// err is written by run before segments is closed; the channel close
	// orders it before any Err call by the consumer.
	err error
}

func (p *kokoroPipeline) Segments() <-chan Segment {
	return p.segments
}

func (p *kokoroPipeline) Err() error {
	return p.err
}

// Close kills the engine process if it is still running. Draining consumers
// reach this after the process has already exited, where it is a no-op.
func (p *kokoroPipeline) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

func (p *kokoroPipeline) run(ctx context.Context, stdout io.Reader, stderr *bytes.Buffer) {
	defer close(p.segments)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var seg Segment
		if err := json.Unmarshal(line, &seg); err != nil {
			p.logger.Debug().
				Err(err).
				Msg("Skipping unparseable engine output line")
			continue
		}

		p.segments <- seg
	}

	scanErr := scanner.Err()
	waitErr := p.cmd.Wait()

	switch {
	case ctx.Err() != nil:
		// The deadline or cancellation killed the process; report the
		// context error so callers can tell a timeout from a crash.
		p.err = ctx.Err()
	case waitErr != nil:
		p.err = fmt.Errorf("engine process failed: %w (stderr: %s)",
			waitErr, strings.TrimSpace(stderr.String()))
	case scanErr != nil:
		p.err = fmt.Errorf("failed to read engine output: %w", scanErr)
	}
}
