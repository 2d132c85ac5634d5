package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/lib/modelibr"
)

const defaultSoundFixture = "beep"

func registerSoundSteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^a sound category "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensureCategory(ctx, alias)
		return err
	})
	ctx.Step(`^a sound "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensureSound(ctx, alias, "")
		return err
	})
	ctx.Step(`^a sound "([^"]*)" exists in category "([^"]*)"$`, func(ctx context.Context, alias, category string) error {
		_, err := sc.ensureSound(ctx, alias, category)
		return err
	})
	ctx.Step(`^I create another sound category with the name of "([^"]*)"$`, sc.duplicateCategory)
	ctx.Step(`^the sound "([^"]*)" should be in category "([^"]*)"$`, sc.soundInCategory)
}

func (sc *Scenario) ensureCategory(ctx context.Context, alias string) (registry.SoundCategory, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.SoundCategory]{
		Alive: func(ctx context.Context, c registry.SoundCategory) (bool, error) {
			_, err := sc.API.GetSoundCategory(ctx, c.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.SoundCategory, error) {
			desc := "created by run " + sc.RunID
			c, err := sc.API.CreateSoundCategory(ctx, sc.uniqueName(alias), desc)
			if err != nil {
				return registry.SoundCategory{}, err
			}
			return registry.SoundCategory{ID: c.ID, Name: c.Name, Description: c.Description}, nil
		},
	})
}

// ensureSound provisions a sound, in the category registered under category when it is not empty.
func (sc *Scenario) ensureSound(ctx context.Context, alias, category string) (registry.Sound, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.Sound]{
		Alive: func(ctx context.Context, s registry.Sound) (bool, error) {
			_, err := sc.API.GetSound(ctx, s.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.Sound, error) {
			var categoryID int
			if category != "" {
				c, err := sc.ensureCategory(ctx, category)
				if err != nil {
					return registry.Sound{}, err
				}
				categoryID = c.ID
			}
			path, asset, err := sc.uploadCopy(config.GroupSounds, defaultSoundFixture)
			if err != nil {
				return registry.Sound{}, err
			}
			name := sc.uniqueName(alias)
			created, err := sc.API.CreateSound(ctx, path, name, asset.Duration, categoryID)
			if err != nil {
				return registry.Sound{}, err
			}
			return registry.Sound{ID: created.ID, Name: name, FileID: created.FileID, Duration: asset.Duration, CategoryID: categoryID}, nil
		},
	})
}

// duplicateCategory creates a second category with the name of an existing one.
// Backends differ on whether names are unique, so either outcome is only logged.
func (sc *Scenario) duplicateCategory(ctx context.Context, alias string) error {
	c, err := sc.ensureCategory(ctx, alias)
	if err != nil {
		return err
	}
	dup, err := sc.API.CreateSoundCategory(ctx, c.Name, "duplicate of #"+fmt.Sprint(c.ID))
	switch {
	case errors.Is(err, modelibr.ErrConflict):
		log.Printf("[INFO] backend enforces unique category names, %q was rejected", c.Name)
		return nil
	case err != nil:
		return fmt.Errorf("create duplicate of category %q: %w", c.Name, err)
	}
	log.Printf("[INFO] backend accepted duplicate category %q as #%d next to #%d", c.Name, dup.ID, c.ID)
	if err = sc.API.DeleteSoundCategory(ctx, dup.ID); err != nil {
		log.Printf("[WARN] failed to remove duplicate category #%d: %v", dup.ID, err)
	}
	return nil
}

func (sc *Scenario) soundInCategory(ctx context.Context, alias, category string) error {
	s, err := registry.Require[registry.Sound](sc.Registry, alias)
	if err != nil {
		return err
	}
	c, err := registry.Require[registry.SoundCategory](sc.Registry, category)
	if err != nil {
		return err
	}
	got, err := sc.API.GetSound(ctx, s.ID)
	if err != nil {
		return err
	}
	if got.CategoryID == nil || *got.CategoryID != c.ID {
		return fmt.Errorf("sound %q (#%d) has category %v, expected %q (#%d)", alias, s.ID, got.CategoryID, category, c.ID)
	}
	return nil
}
