package finalizer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// ChunkCount returns how many messages a file of size bytes needs when each
// message carries at most maxBytes: ceil(size/maxBytes), and never less than 1.
func ChunkCount(size, maxBytes int64) int {
	if maxBytes <= 0 || size <= maxBytes {
		return 1
	}
	return int((size + maxBytes - 1) / maxBytes)
}

// splitRows partitions rows into n groups of near-equal count, in order. The
// first len(rows)%n groups hold one extra row. Groups may be empty when there
// are fewer rows than groups.
func splitRows(rows [][]string, n int) [][][]string {
	if n < 1 {
		n = 1
	}
	base, extra := len(rows)/n, len(rows)%n
	out := make([][][]string, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, rows[start:start+size])
		start += size
	}
	return out
}

func readCSV(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

func encodeCSV(header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if header != nil {
		if err := w.Write(header); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write rows: %w", err)
	}
	return buf.String(), nil
}
