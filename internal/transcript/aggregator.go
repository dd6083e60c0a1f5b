// Package transcript accumulates streaming transcription fragments into a
// bounded conversation history.
//
// Fragments arrive mid-word and mid-sentence; the aggregator buffers them per
// direction until the turn completes, then folds the finished utterances into
// the history as speaker-prefixed lines. Only the most recent lines are kept.
package transcript

import (
	"strings"
	"sync"
)

// DefaultHistoryLimit is the number of finished lines retained.
const DefaultHistoryLimit = 10

const (
	userPrefix    = "You: "
	teacherPrefix = "Teacher: "
)

// Option is a functional option for configuring an Aggregator.
type Option func(*Aggregator)

// WithHistoryLimit overrides the retained line count.
func WithHistoryLimit(n int) Option {
	return func(a *Aggregator) { a.limit = n }
}

// View is an immutable snapshot of the aggregator state.
type View struct {
	// Lines holds the finished history, oldest first, each prefixed with
	// its speaker label.
	Lines []string

	// PartialInput and PartialOutput hold the in-progress utterances of the
	// current turn.
	PartialInput  string
	PartialOutput string
}

// Render returns the history plus any in-progress utterances, formatted the
// same way finished lines are.
func (v View) Render() []string {
	out := make([]string, 0, len(v.Lines)+2)
	out = append(out, v.Lines...)
	if v.PartialInput != "" {
		out = append(out, userPrefix+v.PartialInput)
	}
	if v.PartialOutput != "" {
		out = append(out, teacherPrefix+v.PartialOutput)
	}
	return out
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu     sync.Mutex
	limit  int
	lines  []string
	input  strings.Builder
	output strings.Builder
}

// New creates an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{limit: DefaultHistoryLimit}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AddInput appends a fragment of the user's speech transcription.
func (a *Aggregator) AddInput(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(fragment)
}

// AddOutput appends a fragment of the model's speech transcription.
func (a *Aggregator) AddOutput(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(fragment)
}

// CompleteTurn folds the buffered utterances into the history and clears the
// partial state. Every turn appends exactly two lines, user first, with the
// utterance text verbatim; an empty utterance still gets its prefixed line.
// The history is trimmed to the configured limit, dropping the oldest lines
// first.
func (a *Aggregator) CompleteTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lines = append(a.lines,
		userPrefix+a.input.String(),
		teacherPrefix+a.output.String(),
	)
	a.input.Reset()
	a.output.Reset()

	if excess := len(a.lines) - a.limit; excess > 0 {
		a.lines = append([]string(nil), a.lines[excess:]...)
	}
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return View{
		Lines:         append([]string(nil), a.lines...),
		PartialInput:  a.input.String(),
		PartialOutput: a.output.String(),
	}
}

// Reset discards all history and partial state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = nil
	a.input.Reset()
	a.output.Reset()
}
