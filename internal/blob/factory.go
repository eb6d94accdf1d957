package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterises a blob backend.
type Config struct {
	Driver Driver
	// FSRoot is the directory root when Driver is DriverFilesystem.
	FSRoot string
	// S3 holds the bucket settings when Driver is DriverS3.
	S3 S3Config
}

// Open constructs the blob.Store described by cfg. An empty driver selects
// the filesystem backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
