// cmd/s3downloader/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/s3downloader/internal/config"
	"github.com/andresuchdata/s3downloader/internal/localfs"
	"github.com/andresuchdata/s3downloader/internal/storage"
	"github.com/andresuchdata/s3downloader/internal/syncer"
	"github.com/andresuchdata/s3downloader/pkg/logger"
)

const (
	exitConfig     = 1
	exitSyncFailed = 2
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("s3downloader failed")
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "s3downloader",
		Usage: "Download new objects from an S3 bucket prefix into a local directory",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Usage:   "Path to configuration file; repeat to layer files, later ones win",
				Value:   cli.NewStringSlice(config.DefaultFile),
				EnvVars: []string{"S3DOWNLOADER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "section",
				Usage:   "Section in configuration file",
				Value:   config.DefaultSection,
				EnvVars: []string{"S3DOWNLOADER_SECTION"},
			},
			&cli.StringFlag{
				Name:    "log",
				Usage:   "Logging level (DEBUG, INFO, WARNING, ERROR, CRITICAL)",
				Value:   "INFO",
				EnvVars: []string{"S3DOWNLOADER_LOG"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (console or json)",
				Value:   logger.FormatConsole,
				EnvVars: []string{"S3DOWNLOADER_LOG_FORMAT"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent downloads",
				Value:   1,
				EnvVars: []string{"S3DOWNLOADER_WORKERS"},
			},
		},
		Action: run,
		// Exit codes are mapped in main so the error is logged first.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func run(c *cli.Context) error {
	if err := logger.SetFormat(c.String("log-format")); err != nil {
		return cli.Exit(err, exitConfig)
	}
	if err := logger.SetLevel(c.String("log")); err != nil {
		return cli.Exit(err, exitConfig)
	}
	log := logger.Log

	workers := c.Int("workers")
	if workers < 1 {
		return cli.Exit(fmt.Errorf("--workers must be at least 1, got %d", workers), exitConfig)
	}

	paths := c.StringSlice("config")
	log.Debug().Strs("files", paths).Str("section", c.String("section")).Msg("reading configuration")
	cfg, err := config.Load(paths, c.String("section"))
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	log.Debug().Object("config", cfg).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := localfs.Open(cfg.FinalDir)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}

	log.Debug().Msg("connecting to object storage")
	store, err := storage.New(ctx, storage.Credentials{
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	}, cfg.ExtraOptions)
	if err != nil {
		return cli.Exit(fmt.Errorf("creating storage client: %w", err), exitConfig)
	}

	s, err := syncer.New(store, dir, syncer.Options{
		Bucket:      cfg.BucketName,
		Prefix:      cfg.Path,
		DeleteAfter: cfg.Delete,
		Workers:     workers,
	}, log)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}

	report, err := s.Run(ctx)
	if err != nil {
		return cli.Exit(fmt.Errorf("synchronization interrupted: %w", err), exitSyncFailed)
	}
	if !report.OK() {
		return cli.Exit(passError(report), exitSyncFailed)
	}
	return nil
}

func passError(r *syncer.Report) error {
	if r.ListErr != nil {
		return fmt.Errorf("synchronization failed: %w", r.ListErr)
	}
	if len(r.Download.Failed) > 0 {
		return fmt.Errorf("synchronization failed: %d download(s) failed, first: %w", len(r.Download.Failed), r.Download.Failed[0])
	}
	if len(r.Download.Aborted) > 0 {
		return fmt.Errorf("synchronization failed: %d download(s) not attempted", len(r.Download.Aborted))
	}
	if r.Delete != nil && len(r.Delete.Failed) > 0 {
		keys := make([]string, 0, len(r.Delete.Failed))
		for _, f := range r.Delete.Failed {
			keys = append(keys, f.Key)
		}
		return fmt.Errorf("synchronization failed: could not delete %v: %w", keys, r.Delete.Failed[0])
	}
	return errors.New("synchronization failed")
}

func exitCode(err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) && coder.ExitCode() != 0 {
		return coder.ExitCode()
	}
	// Flag parsing and other startup errors.
	return exitConfig
}

