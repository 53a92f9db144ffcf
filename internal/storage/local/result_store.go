package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/JakeFAU/crawl-broker/internal/storage"
)

// ResultStore reads crawl output from the local filesystem.
type ResultStore struct{}

// NewResultStore returns a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// ListResultFiles returns the regular files directly inside dir and inside its
// top-level subdirectories, sorted by directory then name. A missing dir
// yields an empty list.
func (s *ResultStore) ListResultFiles(ctx context.Context, dir string) ([]storage.ResultFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list results in %s: %w", dir, err)
	}

	var files []storage.ResultFile
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			nested, err := listFlat(full, entry.Name())
			if err != nil {
				return nil, err
			}
			files = append(files, nested...)
			continue
		}
		if f, ok := toResultFile(full, "", entry); ok {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Dir != files[j].Dir {
			return files[i].Dir < files[j].Dir
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func listFlat(dir, label string) ([]storage.ResultFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list results in %s: %w", dir, err)
	}
	out := make([]storage.ResultFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if f, ok := toResultFile(filepath.Join(dir, entry.Name()), label, entry); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func toResultFile(path, dir string, entry os.DirEntry) (storage.ResultFile, bool) {
	if !entry.Type().IsRegular() {
		return storage.ResultFile{}, false
	}
	info, err := entry.Info()
	if err != nil {
		return storage.ResultFile{}, false
	}
	return storage.ResultFile{Name: entry.Name(), Path: path, Dir: dir, Size: info.Size()}, true
}

// Open opens a result file for reading.
func (s *ResultStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	// #nosec G304 -- paths come from ListResultFiles.
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open result %s: %w", path, err)
	}
	return f, nil
}
