package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"hrb/internal/logging"
)

// TimestampFormat is the snapshot timestamp layout. Zero-padded so that
// lexical order on artifact names equals chronological order.
const TimestampFormat = "20060102-150405"

func ArchiveName(hostname string, ts time.Time) string {
	return fmt.Sprintf("backup-%s-%s.tar.gz", hostname, ts.Format(TimestampFormat))
}

func EncryptedName(hostname string, ts time.Time) string {
	return ArchiveName(hostname, ts) + ".enc"
}

func ChecksumName(encryptedName string) string {
	return encryptedName + ".sha256"
}

// SnapshotPrefix is the remote listing prefix for one host's artifacts.
func SnapshotPrefix(hostname string) string {
	return fmt.Sprintf("backup-%s-", hostname)
}

// SnapshotTime parses the timestamp embedded in an encrypted artifact name.
func SnapshotTime(hostname, encryptedName string) (time.Time, error) {
	s := strings.TrimPrefix(encryptedName, SnapshotPrefix(hostname))
	s = strings.TrimSuffix(s, ".tar.gz.enc")
	return time.ParseInLocation(TimestampFormat, s, time.Local)
}

func Hostname(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine hostname: %w", err)
	}
	return name, nil
}

// FreeSpace reports the bytes available to unprivileged users on the
// filesystem containing path.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath string) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath)
	if err != nil {
		return nil, nil, err
	}

	return logger, logFile, nil
}
