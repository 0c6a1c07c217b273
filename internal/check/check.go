package check

import (
	"context"
	"fmt"
	"os"

	"hrb/internal/config"
	"hrb/internal/notify"
	"hrb/internal/remote"
	"hrb/internal/util"
)

// Run performs the preflight checks a scheduled backup depends on.
func Run(ctx context.Context, configPath string, sendTest bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Println("config: OK")

	hostname, err := util.Hostname(cfg.Hostname)
	if err != nil {
		return err
	}
	fmt.Printf("hostname: %s\n", hostname)

	for _, src := range cfg.Sources {
		if _, err := os.Stat(src); err != nil {
			fmt.Printf("source %s: MISSING (will be skipped)\n", src)
			continue
		}
		fmt.Printf("source %s: OK\n", src)
	}

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	free, err := util.FreeSpace(cfg.ScratchDir)
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	fmt.Printf("scratch dir %s: %.1f GiB free\n", cfg.ScratchDir, float64(free)/(1<<30))

	backend, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region,
		cfg.S3.Prefix, cfg.S3.Endpoint, cfg.S3RetryAttempts())
	if err != nil {
		return fmt.Errorf("S3 init: %w", err)
	}
	if err := backend.VerifyCredentials(ctx); err != nil {
		return fmt.Errorf("S3 credentials: %w", err)
	}
	fmt.Printf("S3 bucket %s: OK\n", cfg.S3.Bucket)

	if sendTest {
		notifier := notify.New(cfg)
		if err := notifier.Send(ctx, fmt.Sprintf("🔔 Test notification from %s", hostname)); err != nil {
			return fmt.Errorf("notification: %w", err)
		}
		fmt.Println("notification: OK")
	}

	fmt.Println("all checks passed")
	return nil
}
