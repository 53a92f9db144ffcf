// Package memory keeps archived result files in process memory for dry runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Archive implements storage.Archive with a map keyed by object path.
type Archive struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// Object is one archived file.
type Object struct {
	ContentType string
	Data        []byte
}

// New creates an empty Archive.
func New() *Archive {
	return &Archive{objects: make(map[string]Object)}
}

// PutObject stores the content and returns a memory:// URI.
func (a *Archive) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = Object{ContentType: contentType, Data: data}
	return "memory://" + path, nil
}

// Get returns the object stored at path.
func (a *Archive) Get(path string) (Object, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, ok := a.objects[path]
	return obj, ok
}

// Paths lists stored object paths in sorted order.
func (a *Archive) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.objects))
	for p := range a.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
