package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	estimatorconfig "github.com/takeoffworks/estimator/pkg/config"
)

// StoreType represents the type of artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromConfig selects a backend from cfg.Storage: "local" (the
// on-disk CAS store, the default for dev/test), "s3" or "gcs". This is
// the one STORAGE_BACKEND selection point the teacher's factory.go/
// factory_gcp.go/factory_nogcp.go already draw, now reading from the
// estimator's own config.Config instead of parsing env vars itself.
func NewStoreFromConfig(ctx context.Context, cfg *estimatorconfig.Config) (Store, error) {
	switch StoreType(storageTypeFor(cfg.Storage.Backend)) {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET is required for s3 storage")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
		})
	case StoreTypeGCS:
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET is required for gcs storage")
		}
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func storageTypeFor(backend string) StoreType {
	switch backend {
	case "s3":
		return StoreTypeS3
	case "gcs":
		return StoreTypeGCS
	default:
		return StoreTypeFS
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}
