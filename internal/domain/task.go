package domain

import "fmt"

// Format is the requested comment payload encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ResolveMode identifies how a task is turned into a comment source id.
type ResolveMode string

const (
	ModeCommentID ResolveMode = "commentId"
	ModeURL       ResolveMode = "url"
	ModeFileName  ResolveMode = "fileName"
	ModeSearch    ResolveMode = "anime"
	ModeNone      ResolveMode = ""
)

// Task is one unit of fetch work as loaded from the input file.
type Task struct {
	SequenceIndex int    `json:"index"`
	Name          string `json:"name,omitempty"`
	URL           string `json:"url,omitempty"`
	CommentID     int64  `json:"commentId,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	Anime         string `json:"anime,omitempty"`
	Episode       string `json:"episode,omitempty"`
	Format        Format `json:"format,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// Mode returns the effective resolution mode. When several mode fields
// are populated, commentId wins over url, url over fileName, fileName
// over anime+episode.
func (t *Task) Mode() ResolveMode {
	switch {
	case t.CommentID != 0:
		return ModeCommentID
	case t.URL != "":
		return ModeURL
	case t.FileName != "":
		return ModeFileName
	case t.Anime != "":
		return ModeSearch
	}
	return ModeNone
}

// DedupKey is the identity of a task for load-time deduplication:
// tasks with the same effective mode and the same key value are
// redundant work.
func (t *Task) DedupKey() string {
	switch t.Mode() {
	case ModeCommentID:
		return fmt.Sprintf("commentId:%d", t.CommentID)
	case ModeURL:
		return "url:" + t.URL
	case ModeFileName:
		return "fileName:" + t.FileName
	case ModeSearch:
		return "anime:" + t.Anime + "\x00" + t.Episode
	}
	return ""
}

// EffectiveFormat resolves the task's format against the run default.
func (t *Task) EffectiveFormat(runDefault Format) Format {
	if t.Format != "" {
		return t.Format
	}
	return runDefault
}

// QueuedTask is a loaded task plus its load-time disposition. A
// non-empty SkipReason means the task was ruled out before execution
// (disabled in the input, or a duplicate of an earlier task) and goes
// straight to the report.
type QueuedTask struct {
	Task       Task
	SkipReason string
}

// ResolvedTarget is the output of resolution: the upstream comment
// source id plus the title metadata some endpoints echo back. It lives
// only for the duration of one task's execution.
type ResolvedTarget struct {
	CommentID    int64
	AnimeTitle   string
	EpisodeTitle string
}
