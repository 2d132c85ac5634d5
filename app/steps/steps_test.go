package steps

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cucumber/godog"
	log "github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelibr/e2e/app/config"
	"github.com/modelibr/e2e/app/fakeapi"
	"github.com/modelibr/e2e/app/poll"
	"github.com/modelibr/e2e/app/registry"
	"github.com/modelibr/e2e/lib/modelibr"
)

const testCatalogue = `
models:
  cube: {file: cube.glb}
  cube-v2: {file: cube-v2.glb}
  broken: {file: will-fail.glb}
textures:
  blue: {file: blue.png, type: Albedo}
sounds:
  beep: {file: beep.wav, duration: 1.5}
sprites:
  hero: {file: hero.png}
`

func newTestSuite(t *testing.T, cfg fakeapi.Config) *Suite {
	t.Helper()
	dir := t.TempDir()
	cfg.DBPath = filepath.Join(dir, "modelibr.db")
	cfg.PipelineStep = 10 * time.Millisecond
	srv, err := fakeapi.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, srv.Close()) })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	files := map[string]string{
		"cube.glb": "glTF cube", "cube-v2.glb": "glTF cube v2", "will-fail.glb": "broken",
		"blue.png": "png blue", "beep.wav": "RIFF", "hero.png": "png hero",
		"fixtures.yml": testCatalogue,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	opts := config.Options{
		BaseURL:  ts.URL,
		DB:       cfg.DBPath,
		Token:    cfg.Token,
		HubPath:  "/thumbnailHub",
		Fixtures: filepath.Join(dir, "fixtures.yml"),
		RunID:    "test",
	}
	opts.Poll.Interval = 10 * time.Millisecond
	opts.Poll.MaxInterval = 50 * time.Millisecond
	opts.Poll.Multiplier = 1.5
	opts.Poll.Timeout = 5 * time.Second
	opts.Poll.Thumbnail = 5 * time.Second
	opts.Poll.UI = time.Second

	s, err := NewSuite(opts)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func runFeature(t *testing.T, s *Suite, name, contents string) {
	t.Helper()
	suite := godog.TestSuite{
		Name:                name,
		ScenarioInitializer: func(ctx *godog.ScenarioContext) { InitializeScenario(ctx, s) },
		Options: &godog.Options{
			Format:          "progress",
			FeatureContents: []godog.Feature{{Name: name + ".feature", Contents: []byte(contents)}},
			Concurrency:     1,
			Strict:          true,
			TestingT:        t,
		},
	}
	require.Zero(t, suite.Run(), "non-zero status returned, failed to run feature %s", name)
}

func TestSteps_Models(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{})
	runFeature(t, s, "models", `
Feature: models
  Scenario: upload and wait for the thumbnail
    Given I listen for thumbnail notifications
    And a model "robot" exists
    Then the thumbnail of "robot" should become ready
    And I should be notified that the thumbnail of "robot" is ready
    And the model "robot" should be registered
    And the model "robot" should have 1 version

  Scenario: a deleted model is provisioned again
    Given a model "robot" exists
    And I remember the id of model "robot"
    When the model "robot" is deleted
    Then the model "robot" should not exist
    When a model "robot" exists
    Then the model "robot" should have a different id than remembered

  Scenario: a broken upload fails its thumbnail
    Given a model "junk" exists from "broken"
    Then the thumbnail of "junk" should fail
`)

	m, err := registry.Require[registry.Model](s.Registry, "robot")
	require.NoError(t, err)
	assert.Contains(t, m.Name, "cube-test-", "uploads are renamed per run")
	assert.Positive(t, m.VersionID)
}

func TestSteps_Versions(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{})
	runFeature(t, s, "versions", `
Feature: versions
  Scenario: a new version leaves the old thumbnail alone
    Given a model "chair" exists
    And the thumbnail of "chair" should become ready
    And I capture the thumbnail of version 1 of "chair"
    When I upload a new version of "chair" from "cube-v2"
    Then the thumbnail of "chair" should become ready
    And the model "chair" should have 2 versions
    And the active version of "chair" should be version 2
    And the thumbnail of version 1 of "chair" should be unchanged

  Scenario: an inactive version
    Given a model "lamp" exists
    When I upload a new version of "lamp" from "cube-v2" without activating it
    Then the active version of "lamp" should be version 1
    And the thumbnail of "lamp" should become ready
`)

	chair, err := registry.Require[registry.Model](s.Registry, "chair")
	require.NoError(t, err)
	versions, err := s.API.ListVersions(context.Background(), chair.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, versions[1].ID, chair.VersionID, "registry follows the latest upload")
	_, ok := s.Registry.Snapshot(versions[0].ID)
	assert.True(t, ok, "snapshot keyed by version id")
}

func TestSteps_TextureSets(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{})
	runFeature(t, s, "texture sets", `
Feature: texture sets
  Scenario: link a texture set
    Given a model "crate" exists
    And a texture set "wood" exists
    When I link the texture set "wood" to "crate"
    Then the texture set "wood" should be linked to "crate"
    When I make "wood" the default texture set of "crate"
    Then the texture set "wood" should be registered
`)

	ts, err := registry.Require[registry.TextureSet](s.Registry, "wood")
	require.NoError(t, err)
	crate, err := registry.Require[registry.Model](s.Registry, "crate")
	require.NoError(t, err)
	assert.Equal(t, "wood-test", ts.Name)
	assert.Equal(t, crate.ID, ts.ModelID)
	assert.Equal(t, crate.VersionID, ts.VersionID)
}

func TestSteps_Sounds(t *testing.T) {
	feature := `
Feature: sounds
  Scenario: sound in a category
    Given a sound "click" exists in category "ui"
    Then the sound "click" should be in category "ui"
    And the sound category "ui" should be registered

  Scenario: duplicate category names
    Given a sound category "ambient" exists
    When I create another sound category with the name of "ambient"
    Then the sound category "ambient" should be registered
`
	for _, unique := range []bool{false, true} {
		t.Run("unique categories "+map[bool]string{false: "off", true: "on"}[unique], func(t *testing.T) {
			s := newTestSuite(t, fakeapi.Config{UniqueCategories: unique})
			runFeature(t, s, "sounds", feature)

			c, err := registry.Require[registry.SoundCategory](s.Registry, "ambient")
			require.NoError(t, err)
			cats, err := s.API.ListSoundCategories(context.Background())
			require.NoError(t, err)
			named := 0
			for _, cat := range cats {
				if cat.Name == c.Name {
					named++
				}
			}
			assert.Equal(t, 1, named, "duplicate is never left behind")

			snd, err := registry.Require[registry.Sound](s.Registry, "click")
			require.NoError(t, err)
			assert.InDelta(t, 1.5, snd.Duration, 0.0001)
		})
	}
}

func TestSteps_Collections(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{})
	runFeature(t, s, "collections", `
Feature: collections
  Scenario: packs, projects and sprites
    Given a pack "starter" exists
    And a project "game" exists
    And a sprite "hero" exists
    Then the pack "starter" should exist in the backend
    And the project "game" should exist in the backend
    And the sprite "hero" should exist in the backend

  @fresh-registry
  Scenario: a fresh registry
    Given a pack "other" exists
`)

	assert.False(t, s.Registry.Has(registry.KindPack, "starter"), "registry emptied by the tag")
	assert.True(t, s.Registry.Has(registry.KindPack, "other"))
}

func TestSteps_TokenAuth(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{Token: "secret"})
	runFeature(t, s, "auth", `
Feature: auth
  Scenario: token reaches api and hub
    Given I listen for thumbnail notifications
    And a model "robot" exists
    Then I should be notified that the thumbnail of "robot" is ready
`)
}

func TestSteps_NotificationsForTwoModels(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{})
	runFeature(t, s, "notifications", `
Feature: notifications
  Scenario: the second model was ready first
    Given I listen for thumbnail notifications
    And a model "first" exists
    And a model "second" exists from "cube-v2"
    Then the thumbnail of "second" should become ready
    And the thumbnail of "first" should become ready
    And I should be notified that the thumbnail of "second" is ready
    And I should be notified that the thumbnail of "first" is ready
`)
}

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestScenario_TextureSetByName(t *testing.T) {
	s := newTestSuite(t, fakeapi.Config{})
	asset, err := s.Fixtures.Lookup(config.GroupTextures, "blue")
	require.NoError(t, err)
	created, err := s.API.CreateTextureSetWithFile(context.Background(), asset.File, "bricks-test", modelibr.TextureAlbedo)
	require.NoError(t, err)

	out := &syncBuffer{}
	log.Setup(log.Out(out))
	t.Cleanup(func() { log.Setup() })

	sc := &Scenario{Suite: s}
	id, err := sc.textureSetByName(context.Background(), "bricks-test")
	require.NoError(t, err)
	assert.Equal(t, created.TextureSetID, id)
	assert.Contains(t, out.String(), "WARN")
	assert.Contains(t, out.String(), `texture set "bricks-test" resolved by name`)

	_, err = sc.textureSetByName(context.Background(), "nothing-test")
	require.Error(t, err)
}

func TestSteps_FailuresReported(t *testing.T) {
	tests := []struct {
		name    string
		feature string
	}{
		{name: "ui without browser", feature: "Feature: f\n  Scenario: s\n    When I open the model list\n"},
		{name: "unknown fixture", feature: "Feature: f\n  Scenario: s\n    Given a model \"x\" exists from \"nope\"\n"},
		{name: "missing alias", feature: "Feature: f\n  Scenario: s\n    When the model \"ghost\" is deleted\n"},
		{name: "notification without listening", feature: "Feature: f\n  Scenario: s\n    Given a model \"x\" exists\n" +
			"    Then I should be notified that the thumbnail of \"x\" is ready\n"},
		{name: "undefined step", feature: "Feature: f\n  Scenario: s\n    Given nothing like this exists\n"},
	}
	s := newTestSuite(t, fakeapi.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := godog.TestSuite{
				Name:                tt.name,
				ScenarioInitializer: func(ctx *godog.ScenarioContext) { InitializeScenario(ctx, s) },
				Options: &godog.Options{
					Format:          "progress",
					Output:          io.Discard,
					FeatureContents: []godog.Feature{{Name: "f.feature", Contents: []byte(tt.feature)}},
					Strict:          true,
				},
			}
			assert.NotZero(t, suite.Run())
		})
	}
}

func TestWaitBackend(t *testing.T) {
	var calls, healthyFrom int32 = 0, 3
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || atomic.AddInt32(&calls, 1) < atomic.LoadInt32(&healthyFrom) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	api, err := modelibr.New(srv.URL, modelibr.WithRetry(0, 0))
	require.NoError(t, err)

	t.Run("comes up", func(t *testing.T) {
		err := WaitBackend(context.Background(), api, poll.Options{Interval: time.Millisecond, Timeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("never healthy", func(t *testing.T) {
		atomic.StoreInt32(&healthyFrom, 1000)
		err := WaitBackend(context.Background(), api, poll.Options{Interval: time.Millisecond, Timeout: 50 * time.Millisecond})
		require.ErrorIs(t, err, poll.ErrTimeout)
		assert.Contains(t, err.Error(), "backend health")
		assert.Contains(t, err.Error(), srv.URL)
	})
}

func TestAliveBy(t *testing.T) {
	alive, err := aliveBy(nil)
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = aliveBy(modelibr.ErrNotFound)
	require.NoError(t, err)
	assert.False(t, alive)

	alive, err = aliveBy(modelibr.ErrUnauthorized)
	require.ErrorIs(t, err, modelibr.ErrUnauthorized)
	assert.False(t, alive)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, registry.KindTextureSet, kindOf("texture set"))
	assert.Equal(t, registry.KindSoundCategory, kindOf("sound category"))
	assert.Equal(t, registry.KindModel, kindOf("model"))
	assert.Equal(t, registry.KindSprite, kindOf("sprite"))
}

func TestScenario_WithoutDatabase(t *testing.T) {
	sc := &Scenario{Suite: &Suite{Registry: registry.New()}}
	require.Error(t, sc.requireStore())
	_, err := sc.ui()
	require.Error(t, err)
	require.NoError(t, sc.close())
}
