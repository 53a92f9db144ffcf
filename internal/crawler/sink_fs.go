package crawler

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// IncompleteSuffix marks a CSV result file that is still being written.
const IncompleteSuffix = "-INCOMPLETE"

// paragraphCSVSink appends url;content;depth rows to <output>/<name>-INCOMPLETE.csv
// and renames the file to <name>.csv when the site crawl closes, so finalizers
// never pick up a partial file.
type paragraphCSVSink struct {
	dir    string
	name   string
	file   *os.File
	writer *csv.Writer
	rows   int
	logger *zap.Logger
}

func newParagraphCSVSink(dir, name string, logger *zap.Logger) *paragraphCSVSink {
	return &paragraphCSVSink{dir: dir, name: name, logger: logger}
}

func (s *paragraphCSVSink) incompletePath() string {
	return filepath.Join(s.dir, s.name+IncompleteSuffix+".csv")
}

func (s *paragraphCSVSink) completePath() string {
	return filepath.Join(s.dir, s.name+".csv")
}

func (s *paragraphCSVSink) Open() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create output dir %s: %w", s.dir, err)
	}
	f, err := os.Create(s.incompletePath())
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	s.writer.Comma = ';'
	if err := s.writer.Write([]string{"url", "content", "depth"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	s.logger.Info("opened result file", zap.String("path", s.incompletePath()))
	return nil
}

func (s *paragraphCSVSink) Process(item Item) error {
	if item.Content == "" {
		return nil
	}
	if err := s.writer.Write([]string{item.URL, item.Content, strconv.Itoa(item.Depth)}); err != nil {
		return fmt.Errorf("write row for %s: %w", item.URL, err)
	}
	s.rows++
	return nil
}

func (s *paragraphCSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	flushErr := s.writer.Error()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush result file: %w", flushErr)
	}
	if err := os.Rename(s.incompletePath(), s.completePath()); err != nil {
		return fmt.Errorf("complete result file: %w", err)
	}
	s.logger.Info("result file complete", zap.String("path", s.completePath()), zap.Int("rows", s.rows))
	return nil
}

// rawHTMLSink stores every HTML response under <output>/<name>/.
type rawHTMLSink struct {
	dir    string
	pages  int
	logger *zap.Logger
}

func newRawHTMLSink(output, name string, logger *zap.Logger) *rawHTMLSink {
	return &rawHTMLSink{dir: filepath.Join(output, name), logger: logger}
}

func (s *rawHTMLSink) Open() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create raw dir %s: %w", s.dir, err)
	}
	return nil
}

func (s *rawHTMLSink) Process(item Item) error {
	if len(item.Body) == 0 {
		return nil
	}
	target := filepath.Join(s.dir, pageBasename(item.URL)+".html")
	if err := os.WriteFile(target, item.Body, 0o600); err != nil {
		return fmt.Errorf("writing HTML to %s: %w", target, err)
	}
	s.pages++
	return nil
}

func (s *rawHTMLSink) Close() error {
	s.logger.Info("raw pages stored", zap.String("dir", s.dir), zap.Int("pages", s.pages))
	return nil
}
