package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/app/poll"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/app/thumbnail"
)

func registerThumbnailSteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^I listen for thumbnail notifications$`, sc.subscribe)
	ctx.Step(`^the thumbnail of "([^"]*)" should become ready$`, sc.thumbnailReady)
	ctx.Step(`^the thumbnail of "([^"]*)" should fail$`, sc.thumbnailFailed)
	ctx.Step(`^I should be notified that the thumbnail of "([^"]*)" is ready$`, sc.notifiedReady)
	ctx.Step(`^I capture the thumbnail of version (\d+) of "([^"]*)"$`, sc.captureThumbnail)
	ctx.Step(`^the thumbnail of version (\d+) of "([^"]*)" should be unchanged$`, sc.thumbnailUnchanged)
}

// subscribe opens a hub subscription that lives until the scenario ends.
// It must be open before the upload it is meant to observe.
func (sc *Scenario) subscribe(ctx context.Context) error {
	if sc.sub != nil {
		return nil
	}
	sub, err := sc.API.SubscribeThumbnails(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("subscribe to thumbnail hub: %w", err)
	}
	sc.sub, sc.inbox = sub, thumbnail.NewInbox(sub)
	return nil
}

func (sc *Scenario) thumbnailTarget(alias string) (thumbnail.Target, error) {
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return thumbnail.Target{}, err
	}
	return thumbnail.Target{VersionID: m.VersionID, ModelID: m.ID, ModelName: m.Name}, nil
}

func (sc *Scenario) thumbnailReady(ctx context.Context, alias string) error {
	if err := sc.requireStore(); err != nil {
		return err
	}
	target, err := sc.thumbnailTarget(alias)
	if err != nil {
		return err
	}
	th, err := sc.Waiter.WaitReady(ctx, target)
	if err != nil {
		return fmt.Errorf("model %q: %w", alias, err)
	}
	if target.VersionID > 0 && th.ModelVersionID != target.VersionID {
		return fmt.Errorf("model %q: ready thumbnail belongs to version #%d, registry has #%d", alias, th.ModelVersionID, target.VersionID)
	}
	log.Printf("[DEBUG] %s of %q ready at %s", th, alias, th.Path)
	return nil
}

func (sc *Scenario) thumbnailFailed(ctx context.Context, alias string) error {
	if err := sc.requireStore(); err != nil {
		return err
	}
	target, err := sc.thumbnailTarget(alias)
	if err != nil {
		return err
	}
	th, err := sc.Waiter.WaitReady(ctx, target)
	switch {
	case errors.Is(err, poll.ErrTerminal):
		log.Printf("[DEBUG] thumbnail of %q failed as expected: %v", alias, err)
		return nil
	case err != nil:
		return fmt.Errorf("model %q: %w", alias, err)
	default:
		return fmt.Errorf("model %q: expected the thumbnail to fail, got %s", alias, th)
	}
}

func (sc *Scenario) notifiedReady(ctx context.Context, alias string) error {
	if sc.inbox == nil {
		return errors.New("no hub subscription, add \"I listen for thumbnail notifications\" before the upload")
	}
	target, err := sc.thumbnailTarget(alias)
	if err != nil {
		return err
	}
	w := sc.Waiter
	if w == nil {
		w = &thumbnail.Waiter{Options: sc.Opts.PollOptions(sc.Opts.Poll.Thumbnail)}
	}
	ev, err := w.WaitEvent(ctx, sc.inbox, target.VersionID)
	if err != nil {
		return fmt.Errorf("model %q: %w", alias, err)
	}
	log.Printf("[DEBUG] notified about version #%d of %q: %s %s", ev.ModelVersionID, alias, ev.Status, ev.ThumbnailURL)
	return nil
}

// captureThumbnail records the persisted thumbnail of a version, keeping any UI capture
// already made for it.
func (sc *Scenario) captureThumbnail(ctx context.Context, number int, alias string) error {
	if err := sc.requireStore(); err != nil {
		return err
	}
	versionID, err := sc.versionID(ctx, alias, number)
	if err != nil {
		return err
	}
	desc, err := sc.Waiter.Capture(ctx, versionID)
	if err != nil {
		return err
	}
	snap, _ := sc.Registry.Snapshot(versionID)
	snap.VersionID, snap.Thumbnail = versionID, desc
	sc.Registry.SaveSnapshot(snap)
	return nil
}

func (sc *Scenario) thumbnailUnchanged(ctx context.Context, number int, alias string) error {
	if err := sc.requireStore(); err != nil {
		return err
	}
	versionID, err := sc.versionID(ctx, alias, number)
	if err != nil {
		return err
	}
	snap, ok := sc.Registry.Snapshot(versionID)
	if !ok {
		return fmt.Errorf("no capture of version %d of %q (#%d)", number, alias, versionID)
	}
	now, err := sc.Waiter.Capture(ctx, versionID)
	if err != nil {
		return err
	}
	if !now.UpdatedAt.Equal(snap.Thumbnail.UpdatedAt) || now.Path != snap.Thumbnail.Path || now.Status != snap.Thumbnail.Status {
		return fmt.Errorf("thumbnail of version %d of %q changed: was %s %q at %s, now %s %q at %s", number, alias,
			snap.Thumbnail.Status, snap.Thumbnail.Path, snap.Thumbnail.UpdatedAt, now.Status, now.Path, now.UpdatedAt)
	}
	return nil
}
