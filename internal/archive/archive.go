package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
)

// Create packs the given source paths into one tar.gz at outPath. Each
// source is stored under its base name, so extraction reproduces the
// original leaf names rather than full absolute paths. Sources that do not
// exist are logged and skipped; the skipped paths are returned. A run with
// zero surviving sources still produces a valid, near-empty archive.
func Create(ctx context.Context, sources []string, outPath string) (skipped []string, err error) {
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	gz := pgzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, src := range sources {
		if ctx.Err() != nil {
			return skipped, fmt.Errorf("archive cancelled: %w", ctx.Err())
		}

		info, statErr := os.Lstat(src)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				slog.Warn("Source path does not exist, skipping", "path", src)
				skipped = append(skipped, src)
				continue
			}
			return skipped, fmt.Errorf("failed to stat source %s: %w", src, statErr)
		}

		if addErr := addPath(tw, src, filepath.Base(src), info); addErr != nil {
			return skipped, fmt.Errorf("failed to archive %s: %w", src, addErr)
		}
		slog.Info("Source archived", "path", src)
	}

	if err := tw.Close(); err != nil {
		return skipped, fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return skipped, fmt.Errorf("failed to finalize gzip stream: %w", err)
	}

	return skipped, nil
}

func addPath(tw *tar.Writer, fsPath, name string, info os.FileInfo) error {
	switch {
	case info.Mode().IsDir():
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name + "/"
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		entries, err := os.ReadDir(fsPath)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			childInfo, err := entry.Info()
			if err != nil {
				return err
			}
			child := filepath.Join(fsPath, entry.Name())
			if err := addPath(tw, child, name+"/"+entry.Name(), childInfo); err != nil {
				return err
			}
		}
		return nil

	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(fsPath)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, target)
		if err != nil {
			return err
		}
		hdr.Name = name
		return tw.WriteHeader(hdr)

	case info.Mode().IsRegular():
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(fsPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		return nil

	default:
		// Sockets, devices and the like carry no backup-worthy content.
		slog.Warn("Skipping irregular file", "path", fsPath, "mode", info.Mode().String())
		return nil
	}
}

// Extract unpacks a tar.gz stream into destDir, refusing entries that would
// escape it.
func Extract(ctx context.Context, r io.Reader, destDir string) error {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("extract cancelled: %w", ctx.Err())
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar stream: %w", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			slog.Warn("Skipping unsupported tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("tar entry escapes destination: %s", name)
	}
	return target, nil
}
