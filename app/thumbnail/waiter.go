// Package thumbnail waits for the thumbnail pipeline of a model version,
// either by polling the database or by listening to hub notifications.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/app/poll"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/app/store"
	"github.com/modelibr/e2e/lib/modelibr"
)

// Reader is the part of the store the waiter needs.
type Reader interface {
	LatestThumbnail(ctx context.Context, m store.Match) (store.Thumbnail, store.Confidence, error)
	VersionSnapshot(ctx context.Context, versionID int) (store.Descriptor, error)
}

// Notifications is a live hub subscription.
type Notifications interface {
	Events() <-chan modelibr.ThumbnailEvent
	Errors() <-chan error
}

// Waiter polls for thumbnail state with shared poll options.
type Waiter struct {
	Store   Reader
	Options poll.Options
}

// Target names the version being awaited. VersionID is preferred; ModelID and
// ModelName are fallbacks when the upload response did not carry a version id.
type Target struct {
	VersionID int
	ModelID   int
	ModelName string
}

func (t Target) match() store.Match {
	return store.Match{VersionID: t.VersionID, ModelID: t.ModelID, Name: t.ModelName}
}

// WaitReady polls the database until the thumbnail of target is Ready.
// A missing row counts as pending; a Failed row ends the wait with the backend's error message.
func (w *Waiter) WaitReady(ctx context.Context, target Target) (store.Thumbnail, error) {
	match := target.match()
	var warnOnce sync.Once

	check := func(ctx context.Context) (poll.Observation[store.Thumbnail], error) {
		th, conf, err := w.Store.LatestThumbnail(ctx, match)
		if errors.Is(err, store.ErrNotFound) {
			return poll.Observation[store.Thumbnail]{}, nil
		}
		if err != nil {
			return poll.Observation[store.Thumbnail]{}, err
		}
		if conf != store.Exact {
			warnOnce.Do(func() {
				log.Printf("[WARN] thumbnail of %s matched %s, picked %s, may race with concurrent uploads", match, conf, th)
			})
		}
		obs := poll.Observation[store.Thumbnail]{Found: true, Status: PollStatus(th.Status), Value: th, Detail: th.String()}
		if th.Status == modelibr.ThumbnailFailed && th.ErrorMessage != "" {
			obs.Detail += ": " + th.ErrorMessage
		}
		return obs, nil
	}

	return poll.Until(ctx, w.Options.With("thumbnail of "+match.String()), check)
}

// Inbox reads a subscription on behalf of successive waits. Events read while
// waiting for one version are kept until a wait for their version takes them.
type Inbox struct {
	sub Notifications

	mu      sync.Mutex
	pending map[int][]modelibr.ThumbnailEvent // by version id, in arrival order
}

// NewInbox wraps sub. Use one inbox per subscription.
func NewInbox(sub Notifications) *Inbox {
	return &Inbox{sub: sub, pending: map[int][]modelibr.ThumbnailEvent{}}
}

func (in *Inbox) keep(ev modelibr.ThumbnailEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending[ev.ModelVersionID] = append(in.pending[ev.ModelVersionID], ev)
}

// take removes and returns the kept events of versionID.
func (in *Inbox) take(versionID int) []modelibr.ThumbnailEvent {
	in.mu.Lock()
	defer in.mu.Unlock()
	evs := in.pending[versionID]
	delete(in.pending, versionID)
	return evs
}

// putBack returns unconsumed events of versionID ahead of anything kept since.
func (in *Inbox) putBack(versionID int, evs []modelibr.ThumbnailEvent) {
	if len(evs) == 0 {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending[versionID] = append(append([]modelibr.ThumbnailEvent{}, evs...), in.pending[versionID]...)
}

// Pending reports how many events are kept for versions nobody waited on yet.
func (in *Inbox) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, evs := range in.pending {
		n += len(evs)
	}
	return n
}

// WaitEvent waits for a Ready notification about versionID on in.
// Events kept by earlier waits are seen first; events for other versions are kept
// for later waits. A Failed event is terminal.
func (w *Waiter) WaitEvent(ctx context.Context, in *Inbox, versionID int) (modelibr.ThumbnailEvent, error) {
	subject := fmt.Sprintf("thumbnail notification of version %d", versionID)
	if w.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Options.Timeout)
		defer cancel()
	} else if _, ok := ctx.Deadline(); !ok {
		return modelibr.ThumbnailEvent{}, fmt.Errorf("wait %s: %w", subject, poll.ErrNoDeadline)
	}

	start := time.Now()
	var last modelibr.ThumbnailEvent
	var found bool
	var lastErr error
	received := 0

	// observe records ev and reports whether the wait is over
	observe := func(ev modelibr.ThumbnailEvent) (bool, error) {
		received++
		last, found = ev, true
		log.Printf("[DEBUG] %s: %s", subject, ev.Status)
		switch ev.Status {
		case modelibr.ThumbnailReady:
			return true, nil
		case modelibr.ThumbnailFailed:
			return true, &poll.TerminalError{Subject: subject, Detail: ev.ErrorMessage, Attempts: received, Waited: time.Since(start)}
		}
		return false, nil
	}

	kept := in.take(versionID)
	for i, ev := range kept {
		if done, err := observe(ev); done {
			in.putBack(versionID, kept[i+1:])
			return ev, err
		}
	}

	events, errs := in.sub.Events(), in.sub.Errors()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return last, fmt.Errorf("wait %s: subscription closed: %w", subject, errors.Join(errClosed, lastErr))
			}
			if ev.ModelVersionID != versionID {
				in.keep(ev)
				continue
			}
			if done, err := observe(ev); done {
				return ev, err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			lastErr = err
			log.Printf("[WARN] %s: %v", subject, err)
		case <-ctx.Done():
			return last, &poll.TimeoutError{Subject: subject, Last: PollStatus(last.Status), Found: found,
				Attempts: received, Waited: time.Since(start), LastErr: lastErr}
		}
	}
}

var errClosed = errors.New("no more events")

// Capture reads the current thumbnail descriptor of versionID for a later unchanged check.
func (w *Waiter) Capture(ctx context.Context, versionID int) (registry.ThumbnailDescriptor, error) {
	d, err := w.Store.VersionSnapshot(ctx, versionID)
	if err != nil {
		return registry.ThumbnailDescriptor{}, fmt.Errorf("capture thumbnail of version %d: %w", versionID, err)
	}
	return registry.ThumbnailDescriptor{Path: d.Path, Status: d.Status, UpdatedAt: d.UpdatedAt}, nil
}

// PollStatus maps a backend thumbnail status to the poller's vocabulary.
func PollStatus(s modelibr.ThumbnailStatus) poll.Status {
	switch s {
	case modelibr.ThumbnailProcessing:
		return poll.Processing
	case modelibr.ThumbnailReady:
		return poll.Ready
	case modelibr.ThumbnailFailed:
		return poll.Failed
	default:
		return poll.Pending
	}
}
