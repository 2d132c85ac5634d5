package poll

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("poll timed out")
	// ErrTerminal matches every *TerminalError.
	ErrTerminal = errors.New("terminal failure status observed")
	// ErrNoDeadline is returned when a poll has neither Timeout nor a context deadline.
	ErrNoDeadline = errors.New("poll needs a timeout or a context deadline")
)

// TimeoutError reports a poll that ran out of time or attempts before reaching Ready.
type TimeoutError struct {
	Subject  string
	Last     Status
	Found    bool
	Detail   string
	Attempts int
	Waited   time.Duration
	LastErr  error
}

func (e *TimeoutError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "timed out waiting for %s to become %s after %s (%d attempts)",
		e.Subject, Ready, e.Waited.Round(time.Millisecond), e.Attempts)
	if e.Found {
		fmt.Fprintf(&sb, ", last status %s", e.Last)
	} else {
		sb.WriteString(", nothing observed")
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, " (%s)", e.Detail)
	}
	if e.LastErr != nil {
		fmt.Fprintf(&sb, ", last error: %v", e.LastErr)
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrTimeout) work.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Unwrap returns the last check error, if any.
func (e *TimeoutError) Unwrap() error { return e.LastErr }

// TerminalError reports a Failed observation. It is distinct from a timeout:
// the pipeline errored rather than stalled.
type TerminalError struct {
	Subject  string
	Detail   string
	Attempts int
	Waited   time.Duration
}

func (e *TerminalError) Error() string {
	msg := fmt.Sprintf("%s reached %s after %s (%d attempts)", e.Subject, Failed, e.Waited.Round(time.Millisecond), e.Attempts)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is makes errors.Is(err, ErrTerminal) work.
func (e *TerminalError) Is(target error) bool { return target == ErrTerminal }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a check error as fatal, the poll stops and returns it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
