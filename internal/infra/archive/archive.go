// Package archive selects the archive backend used for store snapshots.
package archive

import (
	"context"
	"fmt"

	"kvorm/internal/infra/archive/core"
	"kvorm/internal/infra/archive/fs"
	"kvorm/internal/infra/archive/memory"
	"kvorm/internal/infra/archive/s3"
)

// Config selects and parameterises an archive backend.
type Config struct {
	Driver core.Driver `mapstructure:"driver"`
	// Root is the directory of the fs driver.
	Root string    `mapstructure:"root"`
	S3   s3.Config `mapstructure:"s3"`
}

// Open returns the archive described by cfg. The fs driver is the default.
func Open(ctx context.Context, cfg Config) (core.Archive, error) {
	switch cfg.Driver {
	case "", core.DriverFilesystem:
		s, err := fs.New(cfg.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case core.DriverS3:
		s, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}
