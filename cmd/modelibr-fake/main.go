// Command modelibr-fake serves the fake modelibr backend, so the e2e suite can run
// without a real deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/modelibr/e2e/app/fakeapi"
)

var revision = "local"

type options struct {
	Address string `long:"address" env:"FAKE_ADDRESS" default:":8080" description:"listen address"`
	DB      string `long:"db" env:"FAKE_DB" default:"/tmp/modelibr-fake.db" description:"sqlite file, point the harness --db here"`
	Token   string `long:"token" env:"FAKE_TOKEN" description:"required bearer token, empty disables auth"`

	PipelineStep     time.Duration `long:"pipeline-step" env:"FAKE_PIPELINE_STEP" default:"500ms" description:"delay of each thumbnail transition"`
	UniqueCategories bool          `long:"unique-categories" env:"FAKE_UNIQUE_CATEGORIES" description:"reject duplicate sound category names"`
	RequestsPerSec   float64       `long:"rps" env:"FAKE_RPS" default:"1000" description:"rate limit per client"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	setupLog(opts.Dbg)
	log.Printf("[INFO] modelibr-fake %s", revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	srv, err := fakeapi.New(fakeapi.Config{
		Address:          opts.Address,
		DBPath:           opts.DB,
		Token:            opts.Token,
		Version:          revision,
		PipelineStep:     opts.PipelineStep,
		UniqueCategories: opts.UniqueCategories,
		RequestsPerSec:   opts.RequestsPerSec,
	})
	if err != nil {
		return fmt.Errorf("failed to make fake backend: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Printf("[WARN] close fake backend: %v", err)
		}
	}()
	return srv.Run(ctx)
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
