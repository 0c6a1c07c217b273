package list

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hrb/internal/config"
	"hrb/internal/remote"
	"hrb/internal/util"
)

type Info struct {
	Name      string
	Size      int64
	Timestamp string
	Prunable  bool
}

// Snapshots returns this host's remote snapshots, newest first, marking the
// ones a retention pass would delete.
func Snapshots(ctx context.Context, backend remote.Backend, hostname string, retention int) ([]Info, error) {
	objects, err := backend.List(ctx, util.SnapshotPrefix(hostname))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var infos []Info
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, ".enc") {
			continue
		}
		info := Info{Name: obj.Name, Size: obj.Size}
		if ts, err := util.SnapshotTime(hostname, obj.Name); err == nil {
			info.Timestamp = ts.Format("2006-01-02 15:04:05")
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name > infos[j].Name
	})

	if retention > 0 {
		for i := range infos {
			infos[i].Prunable = i >= retention
		}
	}

	return infos, nil
}

func Run(ctx context.Context, configPath string) error {
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

	infos, err := Snapshots(ctx, backend, hostname, cfg.Retention)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Printf("No snapshots found for host %s\n", hostname)
		return nil
	}

	fmt.Printf("%-55s %12s %-20s %s\n", "NAME", "SIZE", "CREATED", "")
	for _, info := range infos {
		marker := ""
		if info.Prunable {
			marker = "(beyond retention)"
		}
		fmt.Printf("%-55s %12d %-20s %s\n", info.Name, info.Size, info.Timestamp, marker)
	}
	fmt.Printf("\n%d snapshot(s), retention %d\n", len(infos), cfg.Retention)

	return nil
}
