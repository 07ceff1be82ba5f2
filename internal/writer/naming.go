package writer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"danmuget/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

var knownPlaceholders = map[string]struct{}{
	"index": {}, "base": {}, "name": {}, "mode": {}, "format": {},
	"commentId": {}, "animeTitle": {}, "episodeTitle": {},
}

// ValidateNamingRule rejects rules referencing unknown placeholders, so
// a typo fails the run before any network call instead of at write
// time.
func ValidateNamingRule(rule string) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(rule, -1) {
		if _, ok := knownPlaceholders[m[1]]; !ok {
			return fmt.Errorf("unknown naming rule placeholder {%s}", m[1])
		}
	}
	return nil
}

// renderStem expands the naming rule for one successful task. {index}
// is zero-padded to three digits to keep lexical and input order
// aligned.
func renderStem(rule string, task domain.Task, target domain.ResolvedTarget, format domain.Format) string {
	base := deriveBase(task, target)
	replacer := strings.NewReplacer(
		"{index}", fmt.Sprintf("%03d", task.SequenceIndex),
		"{base}", base,
		"{name}", task.Name,
		"{mode}", string(task.Mode()),
		"{format}", string(format),
		"{commentId}", fmt.Sprintf("%d", target.CommentID),
		"{animeTitle}", target.AnimeTitle,
		"{episodeTitle}", target.EpisodeTitle,
	)

	stem := strings.TrimSpace(replacer.Replace(rule))
	if stem == "" {
		stem = base
	}
	stem = filepath.Base(stem)

	// The rule may already carry the extension; the writer appends its
	// own, so strip a trailing one here.
	lowered := strings.ToLower(stem)
	if strings.HasSuffix(lowered, ".xml") || strings.HasSuffix(lowered, ".json") {
		stem = stem[:strings.LastIndex(stem, ".")]
	}

	return sanitizeFilename(stem)
}

// deriveBase picks the human-readable part of the file name: explicit
// task name first, then upstream titles, then a mode-specific fallback.
func deriveBase(task domain.Task, target domain.ResolvedTarget) string {
	if task.Name != "" {
		return task.Name
	}
	if target.AnimeTitle != "" || target.EpisodeTitle != "" {
		anime := target.AnimeTitle
		if anime == "" {
			anime = "unknown"
		}
		episode := target.EpisodeTitle
		if episode == "" {
			episode = "episode"
		}
		return anime + "-" + episode
	}

	switch task.Mode() {
	case domain.ModeURL:
		return task.URL
	case domain.ModeCommentID:
		return fmt.Sprintf("comment-%d", task.CommentID)
	case domain.ModeFileName:
		return task.FileName
	case domain.ModeSearch:
		episode := task.Episode
		if episode == "" {
			episode = "all"
		}
		return task.Anime + "-" + episode
	}
	return fmt.Sprintf("task-%d", task.SequenceIndex)
}

var windowsReserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// sanitizeFilename makes a stem safe on every platform the output
// directory might live on, Windows included: invalid characters
// replaced, reserved device names prefixed, length capped.
func sanitizeFilename(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		name = "danmu"
	}

	var b strings.Builder
	for _, ch := range name {
		switch {
		case ch < 32:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, ch):
			b.WriteByte('_')
		default:
			b.WriteRune(ch)
		}
	}
	name = strings.TrimRight(b.String(), ". ")
	name = strings.Join(strings.Fields(name), " ")

	if _, reserved := windowsReserved[strings.ToUpper(name)]; reserved {
		name = "_" + name
	}
	if name == "" {
		name = "danmu"
	}
	if runes := []rune(name); len(runes) > 120 {
		name = string(runes[:120])
	}
	return name
}
