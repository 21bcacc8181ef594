package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"workpump/internal/archive"
	"workpump/internal/config"
	archivefs "workpump/internal/infra/archive/fs"
	archivememory "workpump/internal/infra/archive/memory"
	archives3 "workpump/internal/infra/archive/s3"
	"workpump/internal/infra/persistence/bolt"
	"workpump/internal/infra/persistence/memory"
	"workpump/internal/infra/persistence/postgres"
	"workpump/internal/infra/persistence/sqlite"
)

// OpenSnapshotStore returns the snapshot store selected by cfg.Driver.
func OpenSnapshotStore(ctx context.Context, cfg config.Storage) (SnapshotStore, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		return memory.New(), nil
	case config.StorageSQLite:
		s, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoragePostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageBolt:
		s, err := bolt.NewStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// OpenArchive returns the archive store selected by cfg.Driver.
func OpenArchive(ctx context.Context, cfg config.Archive) (archive.Store, error) {
	switch archive.Driver(cfg.Driver) {
	case archive.DriverFilesystem, "":
		s, err := archivefs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	case archive.DriverMemory:
		return archivememory.New(), nil
	case archive.DriverS3:
		s, err := archives3.New(ctx, archives3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// NewMetricsRecorder returns the recorder selected by cfg.Driver, or nil for
// none. Prometheus collectors are registered with reg.
func NewMetricsRecorder(cfg config.Metrics, reg prometheus.Registerer) (MetricsRecorder, error) {
	switch cfg.Driver {
	case config.MetricsNone, "":
		return nil, nil
	case config.MetricsExpvar:
		return NewExpvarMetricsRecorder(""), nil
	case config.MetricsPrometheus:
		r, err := NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown metrics driver %s", cfg.Driver)
	}
}
