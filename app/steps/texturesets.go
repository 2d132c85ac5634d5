package steps

import (
	"context"
	"fmt"
	"slices"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/poll"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/app/store"
	"github.com/modelibr/e2e/lib/modelibr"
)

const defaultTextureFixture = "blue"

func registerTextureSetSteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^a texture set "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensureTextureSet(ctx, alias, defaultTextureFixture)
		return err
	})
	ctx.Step(`^a texture set "([^"]*)" exists from "([^"]*)"$`, func(ctx context.Context, alias, fixture string) error {
		_, err := sc.ensureTextureSet(ctx, alias, fixture)
		return err
	})
	ctx.Step(`^I link the texture set "([^"]*)" to "([^"]*)"$`, sc.linkTextureSet)
	ctx.Step(`^I make "([^"]*)" the default texture set of "([^"]*)"$`, sc.defaultTextureSet)
	ctx.Step(`^the texture set "([^"]*)" should be linked to "([^"]*)"$`, sc.textureSetLinked)
}

func (sc *Scenario) ensureTextureSet(ctx context.Context, alias, fixture string) (registry.TextureSet, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.TextureSet]{
		Alive: func(ctx context.Context, ts registry.TextureSet) (bool, error) {
			_, err := sc.API.GetTextureSet(ctx, ts.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.TextureSet, error) {
			path, asset, err := sc.uploadCopy(config.GroupTextures, fixture)
			if err != nil {
				return registry.TextureSet{}, err
			}
			name := sc.uniqueName(alias)
			created, err := sc.API.CreateTextureSetWithFile(ctx, path, name, modelibr.TextureType(asset.Type))
			if err != nil {
				return registry.TextureSet{}, err
			}
			if created.TextureSetID == 0 && sc.Store != nil {
				if created.TextureSetID, err = sc.textureSetByName(ctx, name); err != nil {
					return registry.TextureSet{}, err
				}
			}
			return registry.TextureSet{ID: created.TextureSetID, Name: name}, nil
		},
	})
}

// textureSetByName finds the newest texture set called name. The match is by name only
// and may pick a concurrent upload.
func (sc *Scenario) textureSetByName(ctx context.Context, name string) (int, error) {
	row, err := sc.Store.LatestTextureSet(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("find texture set %q: %w", name, err)
	}
	log.Printf("[WARN] texture set %q resolved %s to #%d", name, store.ByName, row.ID)
	return row.ID, nil
}

func (sc *Scenario) linkTextureSet(ctx context.Context, setAlias, modelAlias string) error {
	ts, err := sc.ensureTextureSet(ctx, setAlias, defaultTextureFixture)
	if err != nil {
		return err
	}
	m, err := sc.ensureModel(ctx, modelAlias, defaultModelFixture)
	if err != nil {
		return err
	}
	if err = sc.API.AssociateTextureSet(ctx, ts.ID, m.VersionID); err != nil {
		return fmt.Errorf("link texture set %q (#%d) to version #%d of %q: %w", setAlias, ts.ID, m.VersionID, modelAlias, err)
	}
	return registry.Update(sc.Registry, setAlias, func(ts *registry.TextureSet) {
		ts.ModelID, ts.VersionID = m.ID, m.VersionID
	})
}

func (sc *Scenario) defaultTextureSet(ctx context.Context, setAlias, modelAlias string) error {
	ts, err := registry.Require[registry.TextureSet](sc.Registry, setAlias)
	if err != nil {
		return err
	}
	m, err := registry.Require[registry.Model](sc.Registry, modelAlias)
	if err != nil {
		return err
	}
	if err = sc.API.SetDefaultTextureSet(ctx, m.ID, &ts.ID, m.VersionID); err != nil {
		return fmt.Errorf("make %q the default of %q: %w", setAlias, modelAlias, err)
	}
	v, err := sc.API.GetVersion(ctx, m.ID, m.VersionID)
	if err != nil {
		return err
	}
	if v.DefaultTextureSetID == nil || *v.DefaultTextureSetID != ts.ID {
		return fmt.Errorf("version #%d of %q has default texture set %v, expected #%d", m.VersionID, modelAlias, v.DefaultTextureSetID, ts.ID)
	}
	return nil
}

// textureSetLinked waits until the database shows the link of the set to the model's current version.
func (sc *Scenario) textureSetLinked(ctx context.Context, setAlias, modelAlias string) error {
	if err := sc.requireStore(); err != nil {
		return err
	}
	ts, err := registry.Require[registry.TextureSet](sc.Registry, setAlias)
	if err != nil {
		return err
	}
	m, err := registry.Require[registry.Model](sc.Registry, modelAlias)
	if err != nil {
		return err
	}
	opts := sc.Opts.PollOptions(sc.Opts.Poll.Timeout).With(fmt.Sprintf("texture set %q linked to version #%d", setAlias, m.VersionID))
	return poll.WaitTrue(ctx, opts, func(ctx context.Context) (bool, error) {
		ids, err := sc.Store.TextureSetIDsForVersion(ctx, m.VersionID)
		if err != nil {
			return false, err
		}
		return slices.Contains(ids, ts.ID), nil
	})
}
