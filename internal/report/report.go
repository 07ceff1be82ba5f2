// Package report aggregates every task's terminal outcome into the
// single run artifact written next to the output files.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"danmuget/internal/domain"
	"danmuget/internal/metrics"
)

// FileName is the aggregate report artifact inside the output directory.
const FileName = "download-report.json"

// Builder is the single collection point for outcomes. Workers complete
// concurrently; Add is the mutual exclusion boundary.
type Builder struct {
	mu       sync.Mutex
	report   domain.Report
	written  bool
	expected int
}

// NewBuilder starts an empty report for a run of total tasks.
func NewBuilder(cfg domain.RunConfig, total int) *Builder {
	return &Builder{
		report: domain.Report{
			RunID:     uuid.New().String(),
			StartedAt: time.Now().UTC().Truncate(time.Second),
			Config:    cfg,
			Total:     total,
			Items:     make([]domain.Outcome, 0, total),
		},
		expected: total,
	}
}

// Add records one terminal outcome. Outcomes are immutable once added.
func (b *Builder) Add(outcome domain.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.report.Items = append(b.report.Items, outcome)
	switch outcome.Status {
	case domain.StatusSucceeded:
		b.report.Succeeded++
		metrics.TasksSucceeded.Inc()
	case domain.StatusFailed:
		b.report.Failed++
		metrics.TasksFailed.Inc()
	case domain.StatusSkipped:
		b.report.Skipped++
		metrics.TasksSkipped.Inc()
	}
}

// Snapshot returns a copy of the report as collected so far, items in
// sequence order. Used by the status server while the run is live.
func (b *Builder) Snapshot() domain.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked()
}

func (b *Builder) copyLocked() domain.Report {
	snapshot := b.report
	snapshot.Items = make([]domain.Outcome, len(b.report.Items))
	copy(snapshot.Items, b.report.Items)
	sort.Slice(snapshot.Items, func(i, j int) bool {
		return snapshot.Items[i].SequenceIndex < snapshot.Items[j].SequenceIndex
	})
	return snapshot
}

// Finalize seals the report and writes it into outputDir, exactly once.
// Every loaded task must have reached a terminal state by now; a count
// mismatch is a programming error worth failing loudly on.
func (b *Builder) Finalize(outputDir string, cancelled bool) (domain.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.written {
		return b.copyLocked(), fmt.Errorf("report already written")
	}

	if got := b.report.Succeeded + b.report.Failed + b.report.Skipped; got != b.expected {
		return domain.Report{}, fmt.Errorf("outcome count mismatch: %d recorded, %d tasks loaded", got, b.expected)
	}

	b.report.Cancelled = cancelled
	b.report.EndedAt = time.Now().UTC().Truncate(time.Second)
	final := b.copyLocked()

	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return domain.Report{}, fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(outputDir, FileName)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return domain.Report{}, fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return domain.Report{}, fmt.Errorf("rename report: %w", err)
	}

	b.written = true
	slog.Info("report written", "path", path,
		"total", final.Total, "succeeded", final.Succeeded,
		"failed", final.Failed, "skipped", final.Skipped)
	return final, nil
}
