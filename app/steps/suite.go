// Package steps holds the godog step definitions of the modelibr end-to-end suite.
//
// Steps share entities through the registry: a step that references an alias nobody
// created provisions the entity through the API and registers it. Waits on the
// thumbnail pipeline and on UI state go through the poller.
package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/pages"
	"github.com/modelibr/e2e/app/poll"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/app/store"
	"github.com/modelibr/e2e/app/thumbnail"
	"github.com/modelibr/e2e/lib/modelibr"
)

// StepModules register step groups on a scenario. Extra groups can be appended before the suite runs.
var StepModules = []func(ctx *godog.ScenarioContext, sc *Scenario){
	registerModelSteps,
	registerThumbnailSteps,
	registerTextureSetSteps,
	registerSoundSteps,
	registerCollectionSteps,
	registerUISteps,
	registerRegistrySteps,
}

// tagFreshRegistry on a scenario empties the registry before it runs.
const tagFreshRegistry = "@fresh-registry"

// Suite holds what all scenarios of one run share.
type Suite struct {
	Opts     config.Options
	API      *modelibr.Client
	Store    *store.Store // nil without --db, database steps fail then
	Registry *registry.Registry
	Waiter   *thumbnail.Waiter
	Fixtures *config.Catalogue
	Browser  *pages.Browser // nil unless the UI is driven, UI steps fail then
	RunID    string

	workDir string // unique copies of fixture files
}

// NewSuite connects to the backend and its database and loads the fixture catalogue.
func NewSuite(opts config.Options) (*Suite, error) {
	clientOpts := []modelibr.Option{modelibr.WithToken(opts.Token)}
	if opts.HubPath != "" {
		clientOpts = append(clientOpts, modelibr.WithHubPath(opts.HubPath))
	}
	api, err := modelibr.New(opts.BaseURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to make api client: %w", err)
	}
	fixtures, err := config.LoadCatalogue(opts.Fixtures)
	if err != nil {
		return nil, err
	}

	s := &Suite{Opts: opts, API: api, Fixtures: fixtures, RunID: opts.RunID}
	if s.RunID == "" {
		s.RunID = shortID()
	}
	s.Registry = registry.New()
	if opts.SharedRegistry {
		s.Registry = registry.Shared()
	}

	if opts.DB != "" {
		if s.Store, err = store.New(opts.DB); err != nil {
			return nil, err
		}
		s.Waiter = &thumbnail.Waiter{Store: s.Store, Options: opts.PollOptions(opts.Poll.Thumbnail)}
	}

	if s.workDir, err = os.MkdirTemp("", "modelibr-e2e-"+s.RunID+"-"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to make fixture work dir: %w", err)
	}
	log.Printf("[INFO] run %s against %s", s.RunID, opts.BaseURL)
	return s, nil
}

// Close releases the store and removes fixture copies. The browser belongs to the caller.
func (s *Suite) Close() error {
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.workDir != "" {
		errs = append(errs, os.RemoveAll(s.workDir))
	}
	return errors.Join(errs...)
}

// uniqueName appends the run id, so runs sharing a backend don't collide on names.
func (s *Suite) uniqueName(base string) string {
	return base + "-" + s.RunID
}

// uploadCopy copies a fixture under a name unique to this upload.
func (s *Suite) uploadCopy(group config.Group, fixture string) (string, config.Asset, error) {
	asset, err := s.Fixtures.Lookup(group, fixture)
	if err != nil {
		return "", config.Asset{}, err
	}
	path, err := config.UniqueCopy(asset.File, s.workDir, s.RunID+"-"+shortID())
	if err != nil {
		return "", config.Asset{}, err
	}
	return path, asset, nil
}

// WaitBackend polls the health endpoint of api until it answers or opts run out.
func WaitBackend(ctx context.Context, api *modelibr.Client, opts poll.Options) error {
	err := poll.WaitTrue(ctx, opts.With("backend health"), func(ctx context.Context) (bool, error) {
		if err := api.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("backend %s: %w", api.BaseURL(), err)
	}
	return nil
}

// Scenario is the state of one running scenario.
type Scenario struct {
	*Suite

	sub        *modelibr.Subscription
	inbox      *thumbnail.Inbox // reads sub, keeps events of versions not awaited yet
	closePage  func() error
	app        *pages.App
	viewer     *pages.Viewer
	remembered map[string]int
}

// InitializeScenario wires every step module for one scenario of suite.
func InitializeScenario(ctx *godog.ScenarioContext, suite *Suite) {
	sc := &Scenario{Suite: suite, remembered: map[string]int{}}

	ctx.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		for _, tag := range s.Tags {
			if tag.Name == tagFreshRegistry {
				sc.Registry.Reset()
			}
		}
		log.Printf("[DEBUG] scenario %q, %s", s.Name, sc.Registry.DebugInfo())
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, s *godog.Scenario, err error) (context.Context, error) {
		if err != nil {
			log.Printf("[WARN] scenario %q failed: %v; %s", s.Name, err, sc.Registry.DebugInfo())
		}
		return ctx, sc.close()
	})

	for _, register := range StepModules {
		register(ctx, sc)
	}
}

func (sc *Scenario) close() error {
	if sc.sub != nil {
		sc.sub.Close()
		sc.sub, sc.inbox = nil, nil
	}
	var err error
	if sc.closePage != nil {
		err = sc.closePage()
		sc.closePage, sc.app, sc.viewer = nil, nil, nil
	}
	return err
}

// requireStore fails steps that read the database when no database is configured.
func (sc *Scenario) requireStore() error {
	if sc.Store == nil || sc.Waiter == nil {
		return errors.New("this step reads the database, set --db or MODELIBR_DB")
	}
	return nil
}

// aliveBy turns the error of a GET into a liveness answer: not found means gone.
func aliveBy(err error) (bool, error) {
	if errors.Is(err, modelibr.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func shortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
