package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist.
var ErrNotFound = errors.New("not found")

// Storage is a flat key/value file store. Paths use forward slashes and are
// relative to the store's root or prefix.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	// List returns the direct children of prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
	TypeMinIO Type = "minio"
)
