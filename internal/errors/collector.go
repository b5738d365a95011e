package errors

import (
	"fmt"
	"sync"
	"time"
)

// Failure records one isolated failure: a library that did not load, an
// extension that could not be instantiated, a field that did not evaluate.
type Failure struct {
	Unit      string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Unit, f.Err)
}

// ErrorCollector collects isolated failures so a caller can report them
// after a batch operation has completed.
type ErrorCollector struct {
	failures []Failure
	mutex    sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{failures: make([]Failure, 0)}
}

// Add records a failure for unit. Nil errors are ignored.
func (ec *ErrorCollector) Add(unit string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = append(ec.failures, Failure{Unit: unit, Err: err, Timestamp: time.Now()})
}

// Failures returns a copy of the collected failures.
func (ec *ErrorCollector) Failures() []Failure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]Failure, len(ec.failures))
	copy(result, ec.failures)
	return result
}

// ForUnit returns the failures recorded against unit.
func (ec *ErrorCollector) ForUnit(unit string) []Failure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var out []Failure
	for _, f := range ec.failures {
		if f.Unit == unit {
			out = append(out, f)
		}
	}
	return out
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = ec.failures[:0]
}
