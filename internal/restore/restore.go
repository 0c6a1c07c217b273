package restore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hrb/internal/archive"
	"hrb/internal/config"
	"hrb/internal/crypto"
	"hrb/internal/remote"
	"hrb/internal/util"
)

// Run downloads a snapshot, verifies it against its checksum companion,
// decrypts it and extracts into outputDir. snapshot is an encrypted
// artifact name or "latest". verifyOnly decrypts without persisting
// anything. Restore takes no lock: it only reads from the remote store.
func Run(ctx context.Context, configPath, snapshot, outputDir string, verifyOnly, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	hostname, err := util.Hostname(cfg.Hostname)
	if err != nil {
		return err
	}

	logger, logFile, err := util.SetupLogging(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	backend, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region,
		cfg.S3.Prefix, cfg.S3.Endpoint, cfg.S3RetryAttempts())
	if err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	if err := backend.VerifyCredentials(ctx); err != nil {
		return fmt.Errorf("AWS credentials verification failed: %w", err)
	}

	return run(ctx, cfg, hostname, backend, snapshot, outputDir, verifyOnly, dryRun)
}

func run(ctx context.Context, cfg *config.Config, hostname string, backend remote.Backend,
	snapshot, outputDir string, verifyOnly, dryRun bool) error {

	name := snapshot
	if name == "" || name == "latest" {
		resolved, err := latestSnapshot(ctx, backend, hostname)
		if err != nil {
			return err
		}
		name = resolved
	}
	if !strings.HasSuffix(name, ".enc") {
		return fmt.Errorf("not an encrypted artifact name: %s", name)
	}

	slog.Info("Restore started", "snapshot", name, "verifyOnly", verifyOnly)

	if dryRun {
		fmt.Printf("Would restore snapshot %s", name)
		if verifyOnly {
			fmt.Printf(" (verify only)")
		} else {
			fmt.Printf(" into %s", outputDir)
		}
		fmt.Println()
		return nil
	}

	tempDir, err := os.MkdirTemp("", fmt.Sprintf("hrb-restore-%d-", time.Now().Unix()))
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			slog.Warn("Failed to remove temp directory", "path", tempDir, "error", err)
		}
	}()

	encPath := filepath.Join(tempDir, name)
	if err := backend.Download(ctx, name, encPath); err != nil {
		return fmt.Errorf("failed to download snapshot: %w", err)
	}

	// Checksum companion: verify when present, warn when the remote never
	// got one (its upload is best-effort on the backup side).
	sumName := util.ChecksumName(name)
	sumPath := filepath.Join(tempDir, sumName)
	if err := backend.Download(ctx, sumName, sumPath); err != nil {
		slog.Warn("Checksum companion unavailable, skipping verification", "name", sumName, "error", err)
	} else {
		expected, err := crypto.ReadChecksumFile(sumPath)
		if err != nil {
			return fmt.Errorf("failed to read checksum companion: %w", err)
		}
		if err := crypto.VerifyFile(encPath, expected); err != nil {
			return err
		}
		slog.Info("Checksum verified", "sha256", expected)
	}

	if verifyOnly {
		if err := crypto.Decrypt(encPath, io.Discard, cfg.Passphrase); err != nil {
			return err
		}
		slog.Info("Snapshot verified, nothing persisted", "snapshot", name)
		return nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Stream decrypt straight into extraction so the plaintext archive
	// never touches disk.
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(crypto.Decrypt(encPath, pw, cfg.Passphrase))
	}()
	if err := archive.Extract(ctx, pr, outputDir); err != nil {
		return fmt.Errorf("failed to extract snapshot: %w", err)
	}

	slog.Info("Restore completed", "snapshot", name, "output", outputDir)
	return nil
}

func latestSnapshot(ctx context.Context, backend remote.Backend, hostname string) (string, error) {
	objects, err := backend.List(ctx, util.SnapshotPrefix(hostname))
	if err != nil {
		return "", fmt.Errorf("failed to list snapshots: %w", err)
	}

	var names []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.Name, ".enc") {
			names = append(names, obj.Name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no snapshots found for host %s", hostname)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names[0], nil
}
