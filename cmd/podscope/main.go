package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/podscope/podscope/pkg/config"
	"github.com/podscope/podscope/pkg/content"
	"github.com/podscope/podscope/pkg/feed"
	"github.com/podscope/podscope/pkg/ingest"
	"github.com/podscope/podscope/pkg/lifecycle"
	"github.com/podscope/podscope/pkg/refresh"
	"github.com/podscope/podscope/pkg/repository"
	"github.com/podscope/podscope/pkg/scheduler"
	"github.com/podscope/podscope/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"f" long:"config" env:"CONFIG" description:"config file (yaml)"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting podscope version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	log.Print("[INFO] shutdown complete")
}

func run(ctx context.Context, opts Opts) error {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			log.Printf("[WARN] failed to close database: %v", err)
		}
	}()

	fetcher := feed.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, cfg.Fetch.MaxRedirects)
	pipeline := ingest.NewPipeline(repos.Episode)

	coordinator := refresh.NewCoordinator(repos.Podcast, repos.Episode, fetcher, feed.NewParser(), pipeline,
		refresh.Config{Cooldown: cfg.Refresh.Cooldown, MaxWorkers: cfg.Schedule.MaxWorkers})
	if cfg.Enrichment.Enabled {
		coordinator.SetNotesExtractor(content.NewNotesExtractor(cfg.Enrichment.Timeout, cfg.Enrichment.UserAgent))
		log.Printf("[INFO] show-notes enrichment enabled")
	}

	engine := lifecycle.NewEngineWithWindow(repos.Episode, cfg.Lifecycle.DecayWindow)

	sched := scheduler.NewScheduler(coordinator, engine, scheduler.Config{
		RefreshInterval: time.Duration(cfg.Schedule.RefreshInterval) * time.Minute,
		SweepInterval:   time.Duration(cfg.Schedule.SweepInterval) * time.Minute,
	})
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(cfg, &database{repos.Podcast, repos.Episode}, coordinator, engine, revision, opts.Debug)
	return srv.Run(ctx)
}

// database joins the podcast and episode repositories into the single
// persistence surface the server consumes
type database struct {
	*repository.PodcastRepository
	*repository.EpisodeRepository
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
