package steps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/lib/modelibr"
)

const defaultSpriteFixture = "hero"

func registerCollectionSteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^a pack "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensurePack(ctx, alias)
		return err
	})
	ctx.Step(`^a project "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensureProject(ctx, alias)
		return err
	})
	ctx.Step(`^a sprite "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensureSprite(ctx, alias)
		return err
	})
}

func (sc *Scenario) ensurePack(ctx context.Context, alias string) (registry.Pack, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.Pack]{
		Alive: func(ctx context.Context, p registry.Pack) (bool, error) {
			_, err := sc.API.GetPack(ctx, p.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.Pack, error) {
			p, err := sc.API.CreatePack(ctx, sc.uniqueName(alias), "")
			return registry.Pack{ID: p.ID, Name: p.Name}, err
		},
	})
}

func (sc *Scenario) ensureProject(ctx context.Context, alias string) (registry.Project, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.Project]{
		Alive: func(ctx context.Context, p registry.Project) (bool, error) {
			_, err := sc.API.GetProject(ctx, p.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.Project, error) {
			p, err := sc.API.CreateProject(ctx, sc.uniqueName(alias), "")
			return registry.Project{ID: p.ID, Name: p.Name}, err
		},
	})
}

func (sc *Scenario) ensureSprite(ctx context.Context, alias string) (registry.Sprite, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.Sprite]{
		Alive: func(ctx context.Context, s registry.Sprite) (bool, error) {
			_, err := sc.API.GetSprite(ctx, s.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.Sprite, error) {
			path, _, err := sc.uploadCopy(config.GroupSprites, defaultSpriteFixture)
			if err != nil {
				return registry.Sprite{}, err
			}
			s, err := sc.API.CreateSprite(ctx, path, sc.uniqueName(alias))
			return registry.Sprite{ID: s.ID, Name: s.Name, FileID: s.FileID}, err
		},
	})
}

func registerRegistrySteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^the (model|texture set|sound|sound category|pack|project|sprite) "([^"]*)" should be registered$`,
		func(kind, alias string) error {
			k := kindOf(kind)
			if !sc.Registry.Has(k, alias) {
				return &registry.MissingError{Kind: k, Alias: alias, Registered: sc.Registry.DebugInfo()}
			}
			return nil
		})
	ctx.Step(`^the (pack|project|sprite) "([^"]*)" should exist in the backend$`, sc.collectionExists)
}

func kindOf(name string) registry.Kind {
	switch name {
	case "texture set":
		return registry.KindTextureSet
	case "sound category":
		return registry.KindSoundCategory
	default:
		return registry.Kind(name)
	}
}

func (sc *Scenario) collectionExists(ctx context.Context, kind, alias string) error {
	e, ok := sc.Registry.Get(kindOf(kind), alias)
	if !ok {
		return &registry.MissingError{Kind: kindOf(kind), Alias: alias, Registered: sc.Registry.DebugInfo()}
	}
	var err error
	switch kind {
	case "pack":
		_, err = sc.API.GetPack(ctx, e.EntityID())
	case "project":
		_, err = sc.API.GetProject(ctx, e.EntityID())
	default:
		var s modelibr.Sprite
		if s, err = sc.API.GetSprite(ctx, e.EntityID()); err == nil && s.Name != e.DisplayName() {
			err = fmt.Errorf("name is %q, registered as %q", s.Name, e.DisplayName())
		}
	}
	if err != nil {
		return fmt.Errorf("%s %q (#%d): %w", kind, alias, e.EntityID(), err)
	}
	return nil
}
