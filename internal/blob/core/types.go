// Package core defines the archive abstraction used to store exported
// open data datasets.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores datasets below a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 stores datasets in an S3 or MinIO bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps datasets in process memory.
	DriverMemory Driver = "memory"
)

var (
	// ErrNotFound is returned when a key has no stored blob.
	ErrNotFound = errors.New("blob: not found")
	// ErrExists is returned when Put targets a key that is already taken.
	ErrExists = errors.New("blob: already exists")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("blob: invalid key")
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Checksum     string            `json:"checksum,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Location     string            `json:"location,omitempty"`
}

// Store is a create-only key/value archive. Exports are never overwritten,
// each one lands under a fresh timestamped key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}
