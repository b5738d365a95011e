package logging

import (
	"context"
	"sync"
)

// Entry is a single record captured by a Recorder.
type Entry struct {
	Level     LogLevel
	Component string
	Message   string
	Err       error
	Fields    map[string]interface{}
}

// Recorder is an in-memory Logger used by tests and by the CLI's
// diagnostics output.
type Recorder struct {
	mu        *sync.Mutex
	entries   *[]Entry
	component string
	fields    []interface{}
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

// Entries returns a snapshot of captured records.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Count returns the number of records captured at the given level.
func (r *Recorder) Count(level LogLevel) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (r *Recorder) record(level LogLevel, err error, msg string, fields []interface{}) {
	all := append(append([]interface{}{}, r.fields...), fields...)
	m := make(map[string]interface{}, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		if key, ok := all[i].(string); ok {
			m[key] = all[i+1]
		}
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{
		Level:     level,
		Component: r.component,
		Message:   msg,
		Err:       err,
		Fields:    m,
	})
	r.mu.Unlock()
}

func (r *Recorder) Debug(_ context.Context, msg string, fields ...interface{}) {
	r.record(LevelDebug, nil, msg, fields)
}

func (r *Recorder) Info(_ context.Context, msg string, fields ...interface{}) {
	r.record(LevelInfo, nil, msg, fields)
}

func (r *Recorder) Warn(_ context.Context, err error, msg string, fields ...interface{}) {
	r.record(LevelWarn, err, msg, fields)
}

func (r *Recorder) Error(_ context.Context, err error, msg string, fields ...interface{}) {
	r.record(LevelError, err, msg, fields)
}

func (r *Recorder) With(fields ...interface{}) Logger {
	return &Recorder{
		mu:        r.mu,
		entries:   r.entries,
		component: r.component,
		fields:    append(append([]interface{}{}, r.fields...), fields...),
	}
}

func (r *Recorder) WithComponent(component string) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, component: component, fields: r.fields}
}
