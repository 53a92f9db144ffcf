// Package storage defines the contracts shared by the result store and the
// archive backends.
package storage

import (
	"context"
	"io"
)

// ResultFile is one file a crawl left in its output directory.
type ResultFile struct {
	// Name is the base file name, e.g. "example.com_.csv".
	Name string
	// Path is the absolute or working-directory-relative location.
	Path string
	// Dir is the top-level subdirectory holding the file, empty for files
	// directly in the output directory.
	Dir  string
	Size int64
}

// Archive copies result files somewhere durable before the output directory
// is cleared.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpArchive discards everything. It is used when archiving is disabled.
type NoOpArchive struct{}

// PutObject reads nothing and returns an empty URI.
func (NoOpArchive) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}
