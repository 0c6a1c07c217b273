package retention

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"hrb/internal/remote"
	"hrb/internal/util"
)

// Prune deletes this host's remote snapshots beyond the keep newest. The
// zero-padded timestamp in the artifact name makes descending name order
// newest-first. keep <= 0 disables pruning entirely. Per-object deletion
// failures are logged, never fatal; the successfully deleted artifact names
// are returned.
func Prune(ctx context.Context, backend remote.Backend, hostname string, keep int) ([]string, error) {
	if keep <= 0 {
		slog.Info("Retention pruning disabled", "retention", keep)
		return nil, nil
	}

	objects, err := backend.List(ctx, util.SnapshotPrefix(hostname))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.Name, ".enc") {
			names = append(names, obj.Name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if len(names) <= keep {
		slog.Info("No snapshots beyond retention", "existing", len(names), "keep", keep)
		return nil, nil
	}

	var deleted []string
	for _, name := range names[keep:] {
		if err := backend.Delete(ctx, name); err != nil {
			slog.Warn("Failed to prune snapshot", "name", name, "error", err)
			continue
		}
		deleted = append(deleted, name)

		companion := util.ChecksumName(name)
		if err := backend.Delete(ctx, companion); err != nil {
			slog.Warn("Failed to prune checksum companion", "name", companion, "error", err)
		}
	}

	slog.Info("Retention pruning done", "deleted", len(deleted), "kept", keep)
	return deleted, nil
}
