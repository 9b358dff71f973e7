// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/tvrec/internal/repository"
)

// TempRecordingPrefix is the prefix of capture files awaiting finalisation.
const TempRecordingPrefix = "temp_recording_"

// InterruptedReason is recorded on history rows left unfinished by a restart.
const InterruptedReason = "interrupted by server restart"

// CleanupOrphanedRecordings removes temporary capture files in dir that are
// older than maxAge. A crash mid-capture leaves these behind; captures in
// progress keep writing and so stay younger than maxAge.
//
// Returns the number of files removed and any error encountered.
func CleanupOrphanedRecordings(logger *slog.Logger, dir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("recordings directory does not exist, skipping cleanup",
			"path", dir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", dir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), TempRecordingPrefix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat temp recording",
				"path", path,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp recording",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned temp recording",
				"path", path,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned temp recording",
			"path", path,
			"size", info.Size(),
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// RecoverInterruptedRecordings marks history rows that were still in flight
// when the process stopped as failed. Tasks live in memory only, so nothing
// would ever move these rows to a terminal status otherwise.
//
// Returns the number of rows recovered and any error encountered.
func RecoverInterruptedRecordings(ctx context.Context, logger *slog.Logger, repo repository.RecordingRepository) (int64, error) {
	n, err := repo.FailUnfinished(ctx, InterruptedReason, time.Now().UTC())
	if err != nil {
		logger.Error("failed to recover interrupted recordings",
			"error", err,
		)
		return 0, err
	}
	if n > 0 {
		logger.Warn("marked interrupted recordings as failed",
			"count", n,
		)
	}
	return n, nil
}
