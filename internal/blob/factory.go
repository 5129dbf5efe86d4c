// Package blob selects the archive backend for dataset exports.
package blob

import (
	"context"
	"fmt"

	"bibstat/internal/blob/core"
	"bibstat/internal/config"
	fsblob "bibstat/internal/infra/blob/fs"
	memblob "bibstat/internal/infra/blob/memory"
	s3blob "bibstat/internal/infra/blob/s3"
)

// Open builds the archive described by cfg.
func Open(ctx context.Context, cfg config.Blob) (core.Store, error) {
	switch core.Driver(cfg.Driver) {
	case core.DriverFilesystem, "":
		store, err := fsblob.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	case core.DriverS3:
		store, err := s3blob.New(ctx, s3blob.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case core.DriverMemory:
		return memblob.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
