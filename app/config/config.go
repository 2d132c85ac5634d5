// Package config loads harness settings from flags, environment and an optional .env file,
// plus the catalogue of fixture assets the scenarios upload.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/subosito/gotenv"

	"github.com/modelibr/e2e/app/poll"
)

// Options are the harness settings. Every option can come from a flag or a MODELIBR_* variable.
type Options struct {
	BaseURL     string `long:"base-url" env:"MODELIBR_BASE_URL" default:"http://localhost:8080" description:"backend API base URL"`
	FrontendURL string `long:"frontend-url" env:"MODELIBR_FRONTEND_URL" default:"http://localhost:3000" description:"web frontend URL"`
	DB          string `long:"db" env:"MODELIBR_DB" description:"database URL (postgres://...) or sqlite file path"`
	Token       string `long:"token" env:"MODELIBR_TOKEN" description:"bearer token for the API"`
	HubPath     string `long:"hub-path" env:"MODELIBR_HUB_PATH" default:"/thumbnailHub" description:"thumbnail hub path"`

	Fixtures string   `long:"fixtures" env:"MODELIBR_FIXTURES" default:"testdata/fixtures.yml" description:"fixture asset catalogue"`
	Features []string `long:"features" env:"MODELIBR_FEATURES" env-delim:"," default:"features" description:"feature files or directories"`
	Tags     string   `long:"tags" env:"MODELIBR_TAGS" description:"godog tag expression"`
	RunID    string   `long:"run-id" env:"MODELIBR_RUN_ID" description:"suffix for generated names, random when empty"`

	Headed         bool `long:"headed" env:"MODELIBR_HEADED" description:"show the browser window"`
	SharedRegistry bool `long:"shared-registry" env:"MODELIBR_SHARED_REGISTRY" description:"reuse entities across scenarios"`

	Poll struct {
		Interval    time.Duration `long:"interval" env:"INTERVAL" default:"500ms" description:"first delay between checks"`
		MaxInterval time.Duration `long:"max-interval" env:"MAX_INTERVAL" default:"5s" description:"longest delay between checks"`
		Multiplier  float64       `long:"multiplier" env:"MULTIPLIER" default:"1.5" description:"delay growth factor"`
		Timeout     time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"generic wait deadline"`
		Thumbnail   time.Duration `long:"thumbnail" env:"THUMBNAIL" default:"2m" description:"thumbnail pipeline deadline"`
		UI          time.Duration `long:"ui" env:"UI" default:"10s" description:"UI state deadline"`
	} `group:"poll" namespace:"poll" env-namespace:"MODELIBR_POLL"`

	Dbg bool `long:"dbg" env:"MODELIBR_DEBUG" description:"debug mode"`
}

// DefaultDotenv is read before flags when MODELIBR_DOTENV is not set.
const DefaultDotenv = ".env"

// Load reads .env (values already in the environment win), then parses args.
// Unknown arguments are ignored so test binary flags pass through.
func Load(args []string) (Options, error) {
	if err := loadDotenv(); err != nil {
		return Options{}, err
	}

	var opts Options
	p := flags.NewParser(&opts, flags.HelpFlag|flags.IgnoreUnknown)
	p.NamespaceDelimiter = "-"
	p.EnvNamespaceDelimiter = "_"
	if _, err := p.ParseArgs(args); err != nil {
		return Options{}, fmt.Errorf("failed to parse options: %w", err)
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.FrontendURL = strings.TrimSuffix(opts.FrontendURL, "/")
	return opts, nil
}

func loadDotenv() error {
	path := os.Getenv("MODELIBR_DOTENV")
	if path == "" {
		if _, err := os.Stat(DefaultDotenv); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		path = DefaultDotenv
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// PollOptions returns the poller settings for waits bounded by timeout.
func (o Options) PollOptions(timeout time.Duration) poll.Options {
	return poll.Options{
		Interval:    o.Poll.Interval,
		MaxInterval: o.Poll.MaxInterval,
		Multiplier:  o.Poll.Multiplier,
		Timeout:     timeout,
	}
}
