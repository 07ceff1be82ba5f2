// Package writer persists successful payloads under the run's output
// directory. File names come from the configurable naming rule; two
// tasks rendering the same name is a per-task failure, never a silent
// overwrite.
package writer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"danmuget/internal/domain"
	errpkg "danmuget/internal/errors"
	"danmuget/internal/metrics"
	"danmuget/internal/storage"
)

// Writer is shared by all workers; claim tracking serializes the only
// cross-worker coordination point, the output namespace.
type Writer struct {
	files  *storage.FileStorage
	rule   string
	logger *slog.Logger

	mu      sync.Mutex
	claimed map[string]int // file name -> sequence index of first claimant
}

// New builds a Writer storing files via files and naming them by rule.
func New(files *storage.FileStorage, rule string, logger *slog.Logger) (*Writer, error) {
	if err := ValidateNamingRule(rule); err != nil {
		return nil, err
	}
	return &Writer{
		files:   files,
		rule:    rule,
		logger:  logger,
		claimed: make(map[string]int),
	}, nil
}

// Write persists payload verbatim for task and returns the file name
// used. Collisions with a file already claimed in this run, or with a
// pre-existing file on disk, fail with ErrNamingCollision.
func (w *Writer) Write(task domain.Task, target domain.ResolvedTarget, format domain.Format, payload []byte) (string, error) {
	stem := renderStem(w.rule, task, target, format)
	filename := fmt.Sprintf("%s.%s", stem, format)

	w.mu.Lock()
	if first, taken := w.claimed[filename]; taken {
		w.mu.Unlock()
		return "", fmt.Errorf("%w: %s already written by task %d", errpkg.ErrNamingCollision, filename, first)
	}
	w.claimed[filename] = task.SequenceIndex
	w.mu.Unlock()

	if err := w.files.WriteFileExclusive(filename, payload); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s already exists", errpkg.ErrNamingCollision, filename)
		}
		return "", fmt.Errorf("write output file: %w", err)
	}

	metrics.BytesWritten.Add(float64(len(payload)))
	w.logger.Debug("payload written", "file", filename, "bytes", len(payload), "task", task.SequenceIndex)
	return w.files.Path(filename), nil
}
