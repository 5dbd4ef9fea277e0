package crawler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProxyExhausted is matched by every ProxyExhaustedError.
	ErrProxyExhausted = errors.New("all relays failed")
	// ErrPageRetryExhausted signals a page failed every retry attempt.
	ErrPageRetryExhausted = errors.New("page retries exhausted")
	// ErrExtractionAnomaly marks malformed input skipped by the extractor.
	ErrExtractionAnomaly = errors.New("extraction anomaly")
	// ErrConcurrencyConflict is returned when a job is already active.
	ErrConcurrencyConflict = errors.New("a scrape job is already running")
	// ErrJobNotFound is returned by stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotFound is returned by stores for other unknown records.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by stores when a unique key already exists.
	ErrDuplicate = errors.New("record already exists")
)

// RelayError is a single relay attempt failure.
type RelayError struct {
	Relay   string
	Attempt int
	Err     error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s (attempt %d): %v", e.Relay, e.Attempt, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// ProxyExhaustedError is raised once every relay attempt for a URL failed.
type ProxyExhaustedError struct {
	URL      string
	Attempts []*RelayError
}

func (e *ProxyExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("fetch %s: %s", e.URL, ErrProxyExhausted)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempts: %v",
		e.URL, ErrProxyExhausted, len(e.Attempts), e.Last())
}

// Last returns the final attempt failure.
func (e *ProxyExhaustedError) Last() *RelayError {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

// Relays lists the relays tried, in order.
func (e *ProxyExhaustedError) Relays() string {
	names := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		names = append(names, attempt.Relay)
	}
	return strings.Join(names, ",")
}

// Is lets errors.Is match ErrProxyExhausted.
func (e *ProxyExhaustedError) Is(target error) bool {
	return target == ErrProxyExhausted
}

// Unwrap exposes the last relay failure.
func (e *ProxyExhaustedError) Unwrap() error {
	if last := e.Last(); last != nil {
		return last
	}
	return nil
}

// JobFatalError aborts a job and moves it to the error state.
type JobFatalError struct {
	JobID string
	Err   error
}

func (e *JobFatalError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.JobID, e.Err)
}

func (e *JobFatalError) Unwrap() error {
	return e.Err
}
