package logger

import (
	"context"
	"sync"
)

// Entry is a captured log line.
type Entry struct {
	Level     string
	Component string
	Message   string
	Err       error
	Fields    Fields
}

// Recorder is a Logger that keeps every entry in memory. It is meant for tests
// asserting on emitted telemetry.
type Recorder struct {
	mu        *sync.Mutex
	entries   *[]Entry
	component string
	base      Fields
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}, base: Fields{}}
}

func (r *Recorder) record(level, msg string, err error, fields []Fields) {
	all := append([]Fields{r.base}, fields...)
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{
		Level:     level,
		Component: r.component,
		Message:   msg,
		Err:       err,
		Fields:    Merge(all...),
	})
}

func (r *Recorder) Debug(ctx context.Context, msg string, fields ...Fields) {
	r.record("debug", msg, nil, fields)
}

func (r *Recorder) Info(ctx context.Context, msg string, fields ...Fields) {
	r.record("info", msg, nil, fields)
}

func (r *Recorder) Warn(ctx context.Context, msg string, fields ...Fields) {
	r.record("warn", msg, nil, fields)
}

func (r *Recorder) Error(ctx context.Context, msg string, err error, fields ...Fields) {
	r.record("error", msg, err, fields)
}

func (r *Recorder) WithFields(fields Fields) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, component: r.component, base: Merge(r.base, fields)}
}

func (r *Recorder) WithComponent(component string) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, component: component, base: r.base}
}

// Entries returns a snapshot of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// EntriesAt returns the recorded entries of one level.
func (r *Recorder) EntriesAt(level string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
