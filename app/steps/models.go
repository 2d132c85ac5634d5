package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/app/store"
	"github.com/modelibr/e2e/lib/modelibr"
)

// defaultModelFixture is uploaded when a step names a model without a fixture.
const defaultModelFixture = "cube"

func registerModelSteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^a model "([^"]*)" exists$`, func(ctx context.Context, alias string) error {
		_, err := sc.ensureModel(ctx, alias, defaultModelFixture)
		return err
	})
	ctx.Step(`^a model "([^"]*)" exists from "([^"]*)"$`, func(ctx context.Context, alias, fixture string) error {
		_, err := sc.ensureModel(ctx, alias, fixture)
		return err
	})
	ctx.Step(`^I upload the model "([^"]*)" as "([^"]*)"$`, sc.uploadModelAs)
	ctx.Step(`^I upload a new version of "([^"]*)" from "([^"]*)"$`, func(ctx context.Context, alias, fixture string) error {
		return sc.uploadVersion(ctx, alias, fixture, true)
	})
	ctx.Step(`^I upload a new version of "([^"]*)" from "([^"]*)" without activating it$`, func(ctx context.Context, alias, fixture string) error {
		return sc.uploadVersion(ctx, alias, fixture, false)
	})
	ctx.Step(`^the model "([^"]*)" is deleted$`, sc.deleteModel)
	ctx.Step(`^the model "([^"]*)" should not exist$`, sc.modelGone)
	ctx.Step(`^the model "([^"]*)" should have (\d+) versions?$`, sc.versionCount)
	ctx.Step(`^the active version of "([^"]*)" should be version (\d+)$`, sc.activeVersion)
	ctx.Step(`^I remember the id of model "([^"]*)"$`, sc.rememberModel)
	ctx.Step(`^the model "([^"]*)" should have a different id than remembered$`, sc.modelReplaced)
}

// ensureModel returns the model registered under alias, uploading fixture when it
// is missing or was deleted behind the registry's back.
func (sc *Scenario) ensureModel(ctx context.Context, alias, fixture string) (registry.Model, error) {
	return registry.Ensure(ctx, sc.Registry, alias, registry.Provisioner[registry.Model]{
		Alive: func(ctx context.Context, m registry.Model) (bool, error) {
			_, err := sc.API.GetModel(ctx, m.ID)
			return aliveBy(err)
		},
		Create: func(ctx context.Context) (registry.Model, error) {
			return sc.uploadModel(ctx, fixture)
		},
	})
}

func (sc *Scenario) uploadModelAs(ctx context.Context, fixture, alias string) error {
	m, err := sc.uploadModel(ctx, fixture)
	if err != nil {
		return &registry.ProvisionError{Kind: registry.KindModel, Alias: alias, Err: err}
	}
	sc.Registry.Save(alias, m)
	return nil
}

// uploadModel uploads a unique copy of fixture and resolves the version the upload created.
func (sc *Scenario) uploadModel(ctx context.Context, fixture string) (registry.Model, error) {
	path, _, err := sc.uploadCopy(config.GroupModels, fixture)
	if err != nil {
		return registry.Model{}, err
	}
	created, err := sc.API.CreateModel(ctx, path)
	if err != nil {
		return registry.Model{}, err
	}
	if created.AlreadyExists {
		log.Printf("[WARN] backend deduplicated %s into model #%d", path, created.ID)
	}

	m, err := sc.API.GetModel(ctx, created.ID)
	if err != nil {
		return registry.Model{}, fmt.Errorf("read back model #%d: %w", created.ID, err)
	}
	res := registry.Model{ID: m.ID, Name: m.Name, VersionID: created.VersionID}
	if res.VersionID == 0 {
		if res.VersionID, err = sc.resolveVersion(ctx, m); err != nil {
			return registry.Model{}, err
		}
	}
	return res, nil
}

// resolveVersion finds the version of a model whose upload response carried no version id.
func (sc *Scenario) resolveVersion(ctx context.Context, m modelibr.Model) (int, error) {
	if m.ActiveVersionID > 0 {
		return m.ActiveVersionID, nil
	}
	if sc.Store == nil {
		return 0, fmt.Errorf("model #%d has no active version and no database is configured", m.ID)
	}
	v, conf, err := sc.Store.LatestVersion(ctx, store.Match{ModelID: m.ID, Name: m.Name})
	if err != nil {
		return 0, fmt.Errorf("find version of model #%d: %w", m.ID, err)
	}
	if conf != store.Exact {
		log.Printf("[WARN] version of model #%d resolved %s to #%d", m.ID, conf, v.ID)
	}
	return v.ID, nil
}

// uploadVersion adds a version to the model under alias. The registry follows the
// new version so later thumbnail steps wait on it.
func (sc *Scenario) uploadVersion(ctx context.Context, alias, fixture string, activate bool) error {
	m, err := sc.ensureModel(ctx, alias, defaultModelFixture)
	if err != nil {
		return err
	}
	path, _, err := sc.uploadCopy(config.GroupModels, fixture)
	if err != nil {
		return err
	}
	v, err := sc.API.CreateVersion(ctx, m.ID, path, "uploaded by run "+sc.RunID, activate)
	if err != nil {
		return fmt.Errorf("upload version of %q (#%d): %w", alias, m.ID, err)
	}
	log.Printf("[DEBUG] model %q #%d got version %d (#%d)", alias, m.ID, v.VersionNumber, v.ID)
	return registry.Update(sc.Registry, alias, func(m *registry.Model) { m.VersionID = v.ID })
}

func (sc *Scenario) deleteModel(ctx context.Context, alias string) error {
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return err
	}
	if err = sc.API.DeleteModel(ctx, m.ID); err != nil {
		return fmt.Errorf("delete model %q (#%d): %w", alias, m.ID, err)
	}
	return nil
}

func (sc *Scenario) modelGone(ctx context.Context, alias string) error {
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return err
	}
	_, err = sc.API.GetModel(ctx, m.ID)
	switch {
	case errors.Is(err, modelibr.ErrNotFound):
		return nil
	case err != nil:
		return err
	default:
		return fmt.Errorf("model %q (#%d) still exists", alias, m.ID)
	}
}

func (sc *Scenario) versionCount(ctx context.Context, alias string, want int) error {
	versions, err := sc.versions(ctx, alias)
	if err != nil {
		return err
	}
	if len(versions) != want {
		return fmt.Errorf("model %q has %d versions, expected %d", alias, len(versions), want)
	}
	return nil
}

func (sc *Scenario) activeVersion(ctx context.Context, alias string, number int) error {
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return err
	}
	want, err := sc.versionID(ctx, alias, number)
	if err != nil {
		return err
	}
	got, err := sc.API.GetModel(ctx, m.ID)
	if err != nil {
		return err
	}
	if got.ActiveVersionID != want {
		return fmt.Errorf("active version of %q is #%d, expected version %d (#%d)", alias, got.ActiveVersionID, number, want)
	}
	return nil
}

func (sc *Scenario) versions(ctx context.Context, alias string) ([]modelibr.Version, error) {
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return nil, err
	}
	versions, err := sc.API.ListVersions(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %q (#%d): %w", alias, m.ID, err)
	}
	return versions, nil
}

// versionID maps a version number of the model under alias to its backend id.
func (sc *Scenario) versionID(ctx context.Context, alias string, number int) (int, error) {
	versions, err := sc.versions(ctx, alias)
	if err != nil {
		return 0, err
	}
	for _, v := range versions {
		if v.VersionNumber == number {
			return v.ID, nil
		}
	}
	return 0, fmt.Errorf("model %q has no version %d (%d versions)", alias, number, len(versions))
}

func (sc *Scenario) rememberModel(alias string) error {
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return err
	}
	sc.remembered[alias] = m.ID
	return nil
}

func (sc *Scenario) modelReplaced(alias string) error {
	before, ok := sc.remembered[alias]
	if !ok {
		return fmt.Errorf("no remembered id for model %q", alias)
	}
	m, err := registry.Require[registry.Model](sc.Registry, alias)
	if err != nil {
		return err
	}
	if m.ID == before {
		return fmt.Errorf("model %q still has id #%d", alias, before)
	}
	return nil
}
