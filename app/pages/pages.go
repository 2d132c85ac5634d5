// Package pages wraps the web frontend in page objects driven by playwright.
// Step definitions use these instead of raw selectors.
package pages

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// selectors of the frontend, kept together so markup changes touch one place
const (
	selModelCard       = `[data-testid="model-card"]`
	selModelCardName   = `[data-testid="model-card-name"]`
	selViewer          = `[data-testid="model-viewer"]`
	selViewerThumbnail = `[data-testid="version-thumbnail"] img`
	selVersionItem     = `[data-testid="version-item"]`
	selDialog          = `[role="dialog"]`
	selDialogClose     = `[role="dialog"] button[aria-label="Close"]`
	selUploadInput     = `input[type="file"]`
)

// Browser owns the playwright driver and one browser instance shared by all pages.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Launch installs chromium when needed and starts it.
func Launch(headed bool) (*Browser, error) {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var slowMo float64
	if headed {
		slowMo = 50 // slow down visible browser for easier observation
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!headed),
		SlowMo:   playwright.Float(slowMo),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return &Browser{pw: pw, browser: browser}, nil
}

// NewPage opens a page in a fresh context (isolated cookies/storage).
// The returned close func disposes the context.
func (b *Browser) NewPage() (playwright.Page, func() error, error) {
	ctx, err := b.browser.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := ctx.NewPage()
	if err != nil {
		_ = ctx.Close()
		return nil, nil, fmt.Errorf("failed to open page: %w", err)
	}
	return page, func() error { return ctx.Close() }, nil
}

// Close stops the browser and the driver.
func (b *Browser) Close() error {
	return errors.Join(b.browser.Close(), b.pw.Stop())
}

// App is the frontend as seen from one page.
type App struct {
	page    playwright.Page
	baseURL string
	timeout time.Duration
}

// NewApp binds page to the frontend at baseURL. timeout bounds every element wait.
func NewApp(page playwright.Page, baseURL string, timeout time.Duration) *App {
	return &App{page: page, baseURL: strings.TrimSuffix(baseURL, "/"), timeout: timeout}
}

// Page returns the underlying playwright page.
func (a *App) Page() playwright.Page {
	return a.page
}

func (a *App) waitOpts(state *playwright.WaitForSelectorState) playwright.LocatorWaitForOptions {
	return playwright.LocatorWaitForOptions{State: state, Timeout: playwright.Float(float64(a.timeout.Milliseconds()))}
}

// OpenModelList navigates to the model list and waits for it to render.
func (a *App) OpenModelList() error {
	if _, err := a.page.Goto(a.baseURL + "/models"); err != nil {
		return fmt.Errorf("failed to open model list: %w", err)
	}
	if err := a.page.Locator(selModelCard).First().WaitFor(a.waitOpts(playwright.WaitForSelectorStateAttached)); err != nil {
		return fmt.Errorf("model list did not render: %w", err)
	}
	return nil
}

// ModelCard locates the card of the model called name.
func (a *App) ModelCard(name string) playwright.Locator {
	return a.page.Locator(cardSelector(name))
}

// WaitModelCard waits until the card of name is visible.
func (a *App) WaitModelCard(name string) error {
	if err := a.ModelCard(name).WaitFor(a.waitOpts(playwright.WaitForSelectorStateVisible)); err != nil {
		return fmt.Errorf("model card %q not visible: %w", name, err)
	}
	return nil
}

// HasModelCard reports whether a card for name is currently in the list.
func (a *App) HasModelCard(name string) (bool, error) {
	n, err := a.ModelCard(name).Count()
	if err != nil {
		return false, fmt.Errorf("failed to count model cards: %w", err)
	}
	return n > 0, nil
}

// UploadModel feeds a file to the list's upload input.
func (a *App) UploadModel(path string) error {
	if err := a.page.Locator(selUploadInput).First().SetInputFiles(path); err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

// OpenViewer clicks the card of name and waits for the model viewer.
func (a *App) OpenViewer(name string) (*Viewer, error) {
	if err := a.ModelCard(name).Click(); err != nil {
		return nil, fmt.Errorf("failed to open model %q: %w", name, err)
	}
	v := &Viewer{app: a}
	if err := a.page.Locator(selViewer).WaitFor(a.waitOpts(playwright.WaitForSelectorStateVisible)); err != nil {
		return nil, fmt.Errorf("viewer of %q did not open: %w", name, err)
	}
	return v, nil
}

// OpenViewerByID navigates straight to the viewer of a model.
func (a *App) OpenViewerByID(modelID int) (*Viewer, error) {
	if _, err := a.page.Goto(fmt.Sprintf("%s/models/%d", a.baseURL, modelID)); err != nil {
		return nil, fmt.Errorf("failed to open model %d: %w", modelID, err)
	}
	if err := a.page.Locator(selViewer).WaitFor(a.waitOpts(playwright.WaitForSelectorStateVisible)); err != nil {
		return nil, fmt.Errorf("viewer of model %d did not open: %w", modelID, err)
	}
	return &Viewer{app: a}, nil
}

// DialogOpen reports whether a modal dialog is visible.
func (a *App) DialogOpen() (bool, error) {
	visible, err := a.page.Locator(selDialog).First().IsVisible()
	if err != nil {
		return false, fmt.Errorf("failed to check dialog: %w", err)
	}
	return visible, nil
}

// CloseDialog clicks the close button of the open dialog.
func (a *App) CloseDialog() error {
	if err := a.page.Locator(selDialogClose).First().Click(); err != nil {
		return fmt.Errorf("failed to close dialog: %w", err)
	}
	return nil
}

// Viewer is the model viewer of one model.
type Viewer struct {
	app *App
}

// SelectVersion switches the viewer to the given version number.
func (v *Viewer) SelectVersion(number int) error {
	item := v.app.page.Locator(versionSelector(number))
	if err := item.Click(); err != nil {
		return fmt.Errorf("failed to select version %d: %w", number, err)
	}
	return nil
}

// ThumbnailSrc returns the src of the version thumbnail image, empty while none is shown.
func (v *Viewer) ThumbnailSrc() (string, error) {
	img := v.app.page.Locator(selViewerThumbnail).First()
	if err := img.WaitFor(v.app.waitOpts(playwright.WaitForSelectorStateAttached)); err != nil {
		return "", fmt.Errorf("version thumbnail not rendered: %w", err)
	}
	src, err := img.GetAttribute("src")
	if err != nil {
		return "", fmt.Errorf("failed to read thumbnail src: %w", err)
	}
	return src, nil
}

func cardSelector(name string) string {
	return fmt.Sprintf(`%s:has(%s:text-is(%q))`, selModelCard, selModelCardName, name)
}

func versionSelector(number int) string {
	return fmt.Sprintf(`%s[data-version="%d"]`, selVersionItem, number)
}
