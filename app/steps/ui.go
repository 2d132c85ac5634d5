package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/pages"
	"github.com/modelibr/e2e/app/poll"
	"github.com/modelibr/e2e/app/registry"
)

func registerUISteps(ctx *godog.ScenarioContext, sc *Scenario) {
	ctx.Step(`^I open the model list$`, func() error {
		app, err := sc.ui()
		if err != nil {
			return err
		}
		return app.OpenModelList()
	})
	ctx.Step(`^I should see the model "([^"]*)" in the list$`, sc.seeModelCard)
	ctx.Step(`^I upload the model "([^"]*)" as "([^"]*)" through the UI$`, sc.uploadThroughUI)
	ctx.Step(`^I open the viewer of "([^"]*)"$`, sc.openViewer)
	ctx.Step(`^I select version (\d+) in the viewer$`, func(number int) error {
		if sc.viewer == nil {
			return errors.New("no viewer is open")
		}
		return sc.viewer.SelectVersion(number)
	})
	ctx.Step(`^I capture the viewer thumbnail of version (\d+) of "([^"]*)"$`, sc.captureViewerThumbnail)
	ctx.Step(`^the viewer thumbnail of version (\d+) of "([^"]*)" should be unchanged$`, sc.viewerThumbnailUnchanged)
	ctx.Step(`^I close the dialog$`, func() error {
		app, err := sc.ui()
		if err != nil {
			return err
		}
		return app.CloseDialog()
	})
	ctx.Step(`^the dialog should be closed$`, sc.dialogClosed)
}

// ui returns the scenario's page, opening it on first use.
func (sc *Scenario) ui() (*pages.App, error) {
	if sc.app != nil {
		return sc.app, nil
	}
	if sc.Browser == nil {
		return nil, errors.New("this step drives the UI, run with a browser")
	}
	page, closePage, err := sc.Browser.NewPage()
	if err != nil {
		return nil, err
	}
	sc.closePage = closePage
	sc.app = pages.NewApp(page, sc.Opts.FrontendURL, sc.Opts.Poll.UI)
	return sc.app, nil
}

func (sc *Scenario) seeModelCard(ctx context.Context, alias string) error {
	app, err := sc.ui()
	if err != nil {
		return err
	}
	m, err := sc.ensureModel(ctx, alias, defaultModelFixture)
	if err != nil {
		return err
	}
	return app.WaitModelCard(m.Name)
}

// uploadThroughUI uploads via the list page, then finds the new model through the API
// by its unique name since the UI does not expose the id.
func (sc *Scenario) uploadThroughUI(ctx context.Context, fixture, alias string) error {
	app, err := sc.ui()
	if err != nil {
		return err
	}
	path, _, err := sc.uploadCopy(config.GroupModels, fixture)
	if err != nil {
		return err
	}
	if err = app.OpenModelList(); err != nil {
		return err
	}
	if err = app.UploadModel(path); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err = app.WaitModelCard(name); err != nil {
		return err
	}

	models, err := sc.API.ListModels(ctx, name)
	if err != nil {
		return err
	}
	var found registry.Model
	for _, m := range models {
		if m.Name == name && m.ID > found.ID {
			found = registry.Model{ID: m.ID, Name: m.Name}
			if found.VersionID, err = sc.resolveVersion(ctx, m); err != nil {
				return err
			}
		}
	}
	if found.ID == 0 {
		return fmt.Errorf("model %q is shown but not returned by the API", name)
	}
	sc.Registry.Save(alias, found)
	log.Printf("[DEBUG] ui upload %q is model #%d", alias, found.ID)
	return nil
}

func (sc *Scenario) openViewer(ctx context.Context, alias string) error {
	app, err := sc.ui()
	if err != nil {
		return err
	}
	m, err := sc.ensureModel(ctx, alias, defaultModelFixture)
	if err != nil {
		return err
	}
	sc.viewer, err = app.OpenViewerByID(m.ID)
	return err
}

func (sc *Scenario) viewerThumbnailSrc(ctx context.Context, number int, alias string) (src string, versionID int, err error) {
	if sc.viewer == nil {
		return "", 0, errors.New("no viewer is open")
	}
	if versionID, err = sc.versionID(ctx, alias, number); err != nil {
		return "", 0, err
	}
	if err = sc.viewer.SelectVersion(number); err != nil {
		return "", 0, err
	}
	src, err = sc.viewer.ThumbnailSrc()
	return src, versionID, err
}

func (sc *Scenario) captureViewerThumbnail(ctx context.Context, number int, alias string) error {
	src, versionID, err := sc.viewerThumbnailSrc(ctx, number, alias)
	if err != nil {
		return err
	}
	snap, _ := sc.Registry.Snapshot(versionID)
	snap.VersionID, snap.UISrc = versionID, src
	sc.Registry.SaveSnapshot(snap)
	return nil
}

func (sc *Scenario) viewerThumbnailUnchanged(ctx context.Context, number int, alias string) error {
	src, versionID, err := sc.viewerThumbnailSrc(ctx, number, alias)
	if err != nil {
		return err
	}
	snap, ok := sc.Registry.Snapshot(versionID)
	if !ok || snap.UISrc == "" {
		return fmt.Errorf("no viewer capture of version %d of %q", number, alias)
	}
	if src != snap.UISrc {
		return fmt.Errorf("viewer thumbnail of version %d of %q changed from %q to %q", number, alias, snap.UISrc, src)
	}
	return nil
}

func (sc *Scenario) dialogClosed(ctx context.Context) error {
	app, err := sc.ui()
	if err != nil {
		return err
	}
	return poll.WaitTrue(ctx, sc.Opts.PollOptions(sc.Opts.Poll.UI).With("dialog to close"), func(context.Context) (bool, error) {
		open, err := app.DialogOpen()
		return !open, err
	})
}
