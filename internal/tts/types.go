package tts

import "context"

// Job is one validated synthesis request handed to the engine.
type Job struct {
	Text  string
	Voice string
	Lang  string
	Speed float64
}

// Segment is one intermediate engine result. The engine emits a sequence of
// these per run; only segments carrying samples contribute audio.
type Segment struct {
	Graphemes string    `json:"graphemes"`
	Phonemes  string    `json:"phonemes"`
	Samples   []float64 `json:"samples"`
}

// Pipeline is a single engine run scoped to one request. Consumers must
// drain Segments until it is closed; Err is only meaningful after that.
type Pipeline interface {
	// Segments yields intermediate results in order and is closed when the
	// run ends, successfully or not.
	Segments() <-chan Segment

	// Err reports why the run failed, or nil. Valid after Segments closes.
	Err() error

	// Close releases the run's resources. Safe to call at any point; a run
	// that is still executing is terminated.
	Close() error
}

// Engine creates one Pipeline per synthesis request. There is no session
// reuse across requests.
type Engine interface {
	// Available reports whether the engine loaded at process start.
	Available() bool

	// Start launches a run for the job. The context bounds the whole run;
	// cancellation terminates the underlying engine process.
	Start(ctx context.Context, job Job) (Pipeline, error)
}
