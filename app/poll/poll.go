// Package poll waits for asynchronous backend effects with bounded, back-off retries.
// Until observes a resource moving through Pending, Processing and Ready or Failed;
// WaitTrue is the plain predicate form used for UI waits.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/go-pkgz/lgr"
)

// Status is the observed state of the awaited resource.
type Status int

// observed resource states
const (
	Pending Status = iota
	Processing
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Processing:
		return "Processing"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// defaults applied to zero Options fields
const (
	DefaultInterval   = 500 * time.Millisecond
	DefaultMultiplier = 1.0
)

// Observation is a single look at the resource. Found is false while nothing matching
// exists yet, which counts as Pending. Detail is free text kept for diagnostics.
type Observation[T any] struct {
	Found  bool
	Status Status
	Value  T
	Detail string
}

// Check looks at the resource once. Errors are treated as transient unless wrapped with Permanent.
type Check[T any] func(ctx context.Context) (Observation[T], error)

// Options bound a poll. Either Timeout or a deadline on the context is required.
// MaxAttempts caps the number of checks when set. Multiplier 1 gives a fixed interval.
type Options struct {
	Subject     string
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Timeout     time.Duration
	MaxAttempts int
}

// With returns a copy of o with the subject replaced.
func (o Options) With(subject string) Options {
	o.Subject = subject
	return o
}

func (o Options) normalize() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = o.Interval
		if o.Multiplier > 1 {
			o.MaxInterval = 10 * o.Interval
		}
	}
	if o.Subject == "" {
		o.Subject = "condition"
	}
	return o
}

func (o Options) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.Interval
	b.MaxInterval = o.MaxInterval
	b.Multiplier = o.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // deadline is enforced by the context
	b.Reset()
	return b
}

// Until calls check until it reports Ready and returns the observed value.
// A Failed observation ends the poll at once with *TerminalError. Running out of time
// or attempts gives *TimeoutError carrying the last observation. On error the last
// observed value is still returned for diagnostics.
func Until[T any](ctx context.Context, opts Options, check Check[T]) (T, error) {
	opts = opts.normalize()
	var zero T

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	} else if _, ok := ctx.Deadline(); !ok {
		return zero, fmt.Errorf("poll %s: %w", opts.Subject, ErrNoDeadline)
	}

	start := time.Now()
	b := opts.backoff()
	var last Observation[T]
	var lastErr error

	timeout := func(attempts int) error {
		return &TimeoutError{Subject: opts.Subject, Last: last.Status, Found: last.Found, Detail: last.Detail,
			Attempts: attempts, Waited: time.Since(start), LastErr: lastErr}
	}

	for attempt := 1; ; attempt++ {
		obs, err := check(ctx)
		switch {
		case err != nil:
			var perm *permanentError
			if errors.As(err, &perm) {
				return last.Value, fmt.Errorf("poll %s: %w", opts.Subject, perm.err)
			}
			if ctx.Err() != nil {
				if lastErr == nil && !last.Found {
					lastErr = err
				}
				return last.Value, timeout(attempt)
			}
			lastErr = err
			log.Printf("[DEBUG] poll %s, attempt %d failed: %v", opts.Subject, attempt, err)
		case ctx.Err() != nil:
			// observed after the deadline, too late to count
			return last.Value, timeout(attempt)
		case !obs.Found:
			last, lastErr = obs, nil
			log.Printf("[DEBUG] poll %s, attempt %d: nothing observed yet", opts.Subject, attempt)
		default:
			last, lastErr = obs, nil
			switch obs.Status {
			case Ready:
				log.Printf("[DEBUG] poll %s ready after %d attempts", opts.Subject, attempt)
				return obs.Value, nil
			case Failed:
				return obs.Value, &TerminalError{Subject: opts.Subject, Detail: obs.Detail,
					Attempts: attempt, Waited: time.Since(start)}
			default:
				log.Printf("[DEBUG] poll %s, attempt %d: %s", opts.Subject, attempt, obs.Status)
			}
		}

		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return last.Value, timeout(attempt)
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return last.Value, timeout(attempt)
		case <-timer.C:
		}
	}
}

// WaitTrue polls pred until it returns true. Predicate errors are transient unless
// wrapped with Permanent.
func WaitTrue(ctx context.Context, opts Options, pred func(ctx context.Context) (bool, error)) error {
	_, err := Until(ctx, opts, func(ctx context.Context) (Observation[struct{}], error) {
		ok, err := pred(ctx)
		if err != nil {
			return Observation[struct{}]{}, err
		}
		if !ok {
			return Observation[struct{}]{Found: true, Status: Pending, Detail: "condition not met"}, nil
		}
		return Observation[struct{}]{Found: true, Status: Ready}, nil
	})
	return err
}
