package domain

import "time"

// OutcomeStatus is the terminal state of a task.
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusFailed    OutcomeStatus = "failed"
	StatusSkipped   OutcomeStatus = "skipped"
)

// Skip reasons recorded on Outcome.SkipReason.
const (
	SkipDisabled  = "disabled"
	SkipDuplicate = "duplicate"
	SkipCancelled = "cancelled"
)

// Outcome is the immutable terminal record for one task.
type Outcome struct {
	SequenceIndex int           `json:"index"`
	Name          string        `json:"name,omitempty"`
	Status        OutcomeStatus `json:"status"`
	Mode          ResolveMode   `json:"mode,omitempty"`
	Format        Format        `json:"format,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
	OutputFile    string        `json:"output,omitempty"`
	CommentID     int64         `json:"commentId,omitempty"`
	AnimeTitle    string        `json:"animeTitle,omitempty"`
	EpisodeTitle  string        `json:"episodeTitle,omitempty"`
	SkipReason    string        `json:"skipReason,omitempty"`
	Error         string        `json:"error,omitempty"`
	ElapsedMs     int64         `json:"elapsedMs,omitempty"`
}

// RunConfig is the configuration echo embedded in the report.
type RunConfig struct {
	APIRoot       string `json:"apiRoot"`
	OutputDir     string `json:"outputDir"`
	NamingRule    string `json:"namingRule"`
	DefaultFormat Format `json:"defaultFormat"`
	Concurrency   int    `json:"concurrency"`
	Retries       int    `json:"retries"`
	RetryDelayMs  int64  `json:"retryDelayMs"`
	ThrottleMs    int64  `json:"throttleMs"`
	TimeoutMs     int64  `json:"timeoutMs"`
}

// Report aggregates every task's terminal outcome for one run.
type Report struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Config    RunConfig `json:"config"`
	Cancelled bool      `json:"cancelled"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Items     []Outcome `json:"items"`
}
