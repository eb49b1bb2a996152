package quake

import (
	"errors"
	"fmt"
)

// ErrEmptyRun signals that a run produced zero valid features. Callers treat
// it as "nothing to persist", not a failure, but log it distinctly.
var ErrEmptyRun = errors.New("run contains no valid features")

// FetchError reports a failed capture: non-2xx status, transport failure, or
// a payload that is not valid feed JSON. Fetch errors are retryable and never
// leave partial archive writes behind.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a single malformed feed record. The normalizer policy is
// skip-and-count, so parse errors abort a record, never the run.
type ParseError struct {
	EventID string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("parse feature: %s", e.Reason)
	}
	return fmt.Sprintf("parse feature %s: %s", e.EventID, e.Reason)
}

// SyncError reports a failed relational upsert. It aborts only the current
// run's sync; previously synced runs are untouched.
type SyncError struct {
	RunID string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync run %s: %v", e.RunID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
