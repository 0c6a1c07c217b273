package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"hrb/internal/backup"
	"hrb/internal/check"
	"hrb/internal/config"
	"hrb/internal/list"
	"hrb/internal/remote"
	"hrb/internal/restore"
	"hrb/internal/retention"
	"hrb/internal/util"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "path to configuration yaml file",
		Value: "hrb_config.yaml",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "hrb",
		Usage:   "Host Remote Backup",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "backup",
				Usage: "Run the backup pipeline: archive, encrypt, upload, prune",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return backup.Run(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "restore",
				Usage: "Download, verify, decrypt and extract a snapshot",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "snapshot",
						Usage: "Encrypted artifact name, or 'latest'",
						Value: "latest",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Directory to extract into",
						Value: ".",
					},
					&cli.BoolFlag{
						Name:  "verify-only",
						Usage: "Decrypt without persisting anything",
						Value: false,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Show what would be restored without doing it",
						Value: false,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return restore.Run(ctx, cmd.String("config"), cmd.String("snapshot"),
						cmd.String("output"), cmd.Bool("verify-only"), cmd.Bool("dry-run"))
				},
			},
			{
				Name:  "list",
				Usage: "List this host's remote snapshots",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return list.Run(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "prune",
				Usage: "Run a retention pass without a backup",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPrune(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "check",
				Usage: "Preflight: config, sources, free space, credentials",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "notify",
						Usage: "Also send a test notification",
						Value: false,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return check.Run(ctx, cmd.String("config"), cmd.Bool("notify"))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\n⚠ Interrupted")
			os.Exit(130)
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}

func runPrune(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	hostname, err := util.Hostname(cfg.Hostname)
	if err != nil {
		return err
	}

	backend, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region,
		cfg.S3.Prefix, cfg.S3.Endpoint, cfg.S3RetryAttempts())
	if err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}

	deleted, err := retention.Prune(ctx, backend, hostname, cfg.Retention)
	if err != nil {
		return err
	}

	for _, name := range deleted {
		fmt.Printf("deleted %s\n", name)
	}
	fmt.Printf("%d snapshot(s) pruned\n", len(deleted))
	return nil
}
