package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hrb/internal/archive"
	"hrb/internal/config"
	"hrb/internal/crypto"
	"hrb/internal/lock"
	"hrb/internal/notify"
	"hrb/internal/remote"
	"hrb/internal/retention"
	"hrb/internal/util"
)

var (
	ErrInsufficientSpace = errors.New("insufficient free space")
	ErrArchiveFailed     = errors.New("archive creation failed")
	ErrEncryptionFailed  = errors.New("encryption failed")
	ErrUploadFailed      = errors.New("upload failed")
)

const (
	// minFreeBytes is the free-space floor on the scratch filesystem.
	minFreeBytes = 1 << 30

	maxUploadAttempts = 3
)

var uploadRetryDelay = 5 * time.Second

// stage names the pipeline's forward states. A failure in any stage routes
// to cleanup and a failure notification naming the stage.
type stage string

const (
	stageInit    stage = "INIT"
	stageLocked  stage = "LOCKED"
	stageSpaceOK stage = "SPACE_OK"
	stageArchive stage = "ARCHIVED"
	stageEncrypt stage = "ENCRYPTED"
	stageHash    stage = "HASHED"
	stageUpload  stage = "UPLOADED"
	stagePrune   stage = "PRUNED"
	stageDone    stage = "DONE"
)

// Run executes one full backup pipeline: lock, space check, archive,
// encrypt, hash, upload, prune, notify.
func Run(ctx context.Context, configPath string) error {
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

	return run(ctx, cfg, hostname, backend, notify.New(cfg), time.Now())
}

// run is the pipeline core; Run wires the real collaborators in front of it.
func run(ctx context.Context, cfg *config.Config, hostname string,
	backend remote.Backend, notifier notify.Notifier, now time.Time) error {

	st := stageInit
	fail := func(err error) error {
		slog.Error("Backup pipeline failed", "stage", st, "error", err)
		send(ctx, notifier, fmt.Sprintf("❌ Backup failed on %s (stage %s): %v", hostname, st, err))
		return err
	}

	slog.Info("Backup pipeline started", "hostname", hostname, "sources", len(cfg.Sources))

	releaseLock, err := lock.Acquire(cfg.LockFile)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := releaseLock(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()
	st = stageLocked

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return fail(fmt.Errorf("failed to create scratch directory: %w", err))
	}

	free, err := util.FreeSpace(cfg.ScratchDir)
	if err != nil {
		return fail(err)
	}
	if free < minFreeBytes {
		return fail(fmt.Errorf("%w: %d bytes available on %s, need %d",
			ErrInsufficientSpace, free, cfg.ScratchDir, uint64(minFreeBytes)))
	}
	st = stageSpaceOK

	// Per-run scratch dir, removed on every path out of the pipeline.
	runDir := filepath.Join(cfg.ScratchDir, "hrb-"+now.Format(util.TimestampFormat))
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return fail(fmt.Errorf("failed to create run directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			slog.Warn("Failed to remove run directory", "path", runDir, "error", err)
		}
	}()

	send(ctx, notifier, fmt.Sprintf("🔄 Backup started on %s", hostname))

	archiveName := util.ArchiveName(hostname, now)
	archivePath := filepath.Join(runDir, archiveName)

	skipped, err := archive.Create(ctx, cfg.Sources, archivePath)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrArchiveFailed, err))
	}
	if len(skipped) > 0 {
		slog.Warn("Backup covers fewer paths than configured", "skipped", len(skipped))
	}
	st = stageArchive
	slog.Info("Archive built", "name", archiveName)

	encName := util.EncryptedName(hostname, now)
	encPath := filepath.Join(runDir, encName)
	if err := crypto.EncryptFile(archivePath, encPath, cfg.Passphrase); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
	}
	st = stageEncrypt
	slog.Info("Archive encrypted", "name", encName)

	digest, err := crypto.SHA256File(encPath)
	if err != nil {
		return fail(fmt.Errorf("failed to hash encrypted artifact: %w", err))
	}
	sumName := util.ChecksumName(encName)
	sumPath := filepath.Join(runDir, sumName)
	if err := crypto.WriteChecksumFile(sumPath, digest); err != nil {
		return fail(fmt.Errorf("failed to write checksum file: %w", err))
	}
	st = stageHash
	slog.Info("Artifact hashed", "sha256", digest)

	artifactSize, err := uploadWithRetry(ctx, backend, encPath, encName, maxUploadAttempts, uploadRetryDelay)
	if err != nil {
		return fail(err)
	}

	// Companion follows the artifact, never precedes it. Its failure is
	// logged only: the artifact itself is already durably stored.
	if err := backend.Upload(ctx, sumPath, sumName); err != nil {
		slog.Warn("Failed to upload checksum companion", "name", sumName, "error", err)
	}
	st = stageUpload

	if _, err := retention.Prune(ctx, backend, hostname, cfg.Retention); err != nil {
		slog.Warn("Retention pruning failed", "error", err)
	}
	st = stagePrune

	st = stageDone
	slog.Info("Backup pipeline completed", "artifact", encName, "size", artifactSize)
	send(ctx, notifier, fmt.Sprintf("✅ Backup completed on %s: %s (%d bytes)", hostname, encName, artifactSize))

	return nil
}

// uploadWithRetry transfers the artifact and verifies the remote object's
// size against the local file. A transport success whose sizes differ is
// not terminal success; it consumes an attempt like a transport error.
func uploadWithRetry(ctx context.Context, backend remote.Backend,
	localPath, name string, attempts int, delay time.Duration) (int64, error) {

	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat local artifact: %w", err)
	}
	localSize := info.Size()

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", ErrUploadFailed, ctx.Err())
			}
		}

		slog.Info("Uploading artifact", "name", name, "attempt", attempt, "of", attempts)

		if err := backend.Upload(ctx, localPath, name); err != nil {
			slog.Warn("Upload attempt failed", "attempt", attempt, "error", err)
			continue
		}

		head, err := backend.Head(ctx, name)
		if err != nil {
			slog.Warn("Failed to verify remote object", "attempt", attempt, "error", err)
			continue
		}
		if head.Size != localSize {
			slog.Warn("Remote size mismatch, retrying",
				"attempt", attempt, "local", localSize, "remote", head.Size)
			continue
		}

		slog.Info("Upload size-verified", "name", name, "size", localSize)
		return localSize, nil
	}

	return 0, fmt.Errorf("%w: %d attempts exhausted for %s", ErrUploadFailed, attempts, name)
}

func send(ctx context.Context, notifier notify.Notifier, text string) {
	if err := notifier.Send(ctx, text); err != nil {
		slog.Warn("Failed to send notification", "error", err)
	}
}
