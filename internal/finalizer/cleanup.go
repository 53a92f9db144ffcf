package finalizer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// clearDirectories removes outputDir and empties logDir. Log files still held
// open elsewhere cannot always be removed, so those are truncated instead.
// Problems are logged and returned; none of them stop the cleanup.
func clearDirectories(outputDir, logDir string, logger *zap.Logger) []error {
	var problems []error
	if outputDir != "" {
		if err := os.RemoveAll(outputDir); err != nil {
			logger.Warn("failed to remove output directory", zap.String("dir", outputDir), zap.Error(err))
			problems = append(problems, fmt.Errorf("remove %s: %w", outputDir, err))
		}
	}
	if logDir == "" {
		return problems
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to read log directory", zap.String("dir", logDir), zap.Error(err))
			problems = append(problems, fmt.Errorf("read %s: %w", logDir, err))
		}
		return problems
	}
	for _, entry := range entries {
		p := filepath.Join(logDir, entry.Name())
		removeErr := os.RemoveAll(p)
		if removeErr == nil {
			continue
		}
		if err := truncateLogs(p, entry.IsDir()); err != nil {
			logger.Warn("failed to clear log", zap.String("path", p), zap.Error(err))
			problems = append(problems, err)
			continue
		}
		logger.Debug("log truncated instead of removed", zap.String("path", p), zap.NamedError("remove_error", removeErr))
	}
	return problems
}

func truncateLogs(p string, isDir bool) error {
	if !isDir {
		if !strings.HasSuffix(p, ".log") {
			return fmt.Errorf("remove %s: not a log file", p)
		}
		return truncate(p)
	}
	return filepath.WalkDir(p, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(name, ".log") {
			return nil
		}
		return truncate(name)
	})
}

func truncate(p string) error {
	if err := os.Truncate(p, 0); err != nil {
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	return nil
}
