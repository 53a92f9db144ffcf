package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/crawl-broker/internal/storage"
)

// ResultMessage is the body of one result message.
type ResultMessage struct {
	Crawl    string `json:"crawl"`
	Raw      bool   `json:"raw"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
	// ChunkIndex is 1-based; both chunk fields are omitted for single-message results.
	ChunkIndex int `json:"chunk_index,omitempty"`
	ChunkCount int `json:"chunk_count,omitempty"`
}

// Encode marshals the message.
func (m ResultMessage) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode result %s: %w", m.Filename, err)
	}
	return body, nil
}

// ResultPublisher delivers encoded result messages.
type ResultPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Hasher digests message data for the ledger.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// ResultStore lists and reads a crawl's output files.
type ResultStore interface {
	ListResultFiles(ctx context.Context, dir string) ([]storage.ResultFile, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Report summarises one finalizer run.
type Report struct {
	Files    int
	Messages int
	Failed   int
	Chunked  int
	Archived int
	Skipped  int
	Cleanup  []error
}

// OK reports whether every message was published.
func (r Report) OK() bool {
	return r.Failed == 0
}
