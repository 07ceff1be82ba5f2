// Package loader parses heterogeneous task-list files into an ordered
// sequence of tasks. Supported encodings: a JSON array (or an object
// with a "tasks" array), line-delimited JSON, CSV with a header row,
// and a YAML list. Parsing is all-or-nothing: a malformed record fails
// the whole load.
package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"danmuget/internal/domain"
	errpkg "danmuget/internal/errors"
)

var validate = validator.New()

// record is a normalized raw task used for validation before it becomes
// a domain.Task.
type record struct {
	Name      string
	URL       string `validate:"omitempty,url"`
	CommentID int64  `validate:"min=0"`
	FileName  string
	Anime     string
	Episode   string `validate:"required_with=Anime"`
	Format    string `validate:"omitempty,oneof=json xml"`
	Disabled  bool
}

// Load reads the file at path and returns every task in input order.
// Duplicate tasks (same effective mode and key) after the first
// runnable occurrence are returned with SkipReason set, so the report
// reflects load-time dedup rather than an execution-time race.
func Load(path string) ([]domain.QueuedTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	data = stripBOM(data)

	var raws []map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		raws, err = parseJSON(data)
	case ".jsonl", ".ndjson", ".txt":
		raws, err = parseJSONLines(data)
	case ".csv":
		raws, err = parseCSV(data)
	case ".yaml", ".yml":
		raws, err = parseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported input extension: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	queued := make([]domain.QueuedTask, 0, len(raws))
	seen := make(map[string]int, len(raws))

	for i, raw := range raws {
		task, err := normalize(raw, i+1)
		if err != nil {
			return nil, err
		}

		qt := domain.QueuedTask{Task: task}
		if task.Disabled {
			qt.SkipReason = domain.SkipDisabled
		} else if _, dup := seen[task.DedupKey()]; dup {
			qt.SkipReason = domain.SkipDuplicate
		} else {
			seen[task.DedupKey()] = task.SequenceIndex
		}
		queued = append(queued, qt)
	}

	return queued, nil
}

func parseJSON(data []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []map[string]any
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse JSON task list: %w", err)
		}
		return list, nil
	}

	var wrapper struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse JSON task list: %w", err)
	}
	if wrapper.Tasks == nil {
		return nil, fmt.Errorf("JSON input must be a list or an object with a \"tasks\" list")
	}
	return wrapper.Tasks, nil
}

func parseJSONLines(data []byte) ([]map[string]any, error) {
	var raws []map[string]any
	for n, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", n+1, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func parseCSV(data []byte) ([]map[string]any, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	headers := rows[0]
	raws := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		raw := make(map[string]any, len(headers))
		for i, header := range headers {
			if i < len(row) {
				raw[header] = row[i]
			} else {
				raw[header] = ""
			}
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func parseYAML(data []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapper struct {
		Tasks []map[string]any `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse YAML task list: %w", err)
	}
	if wrapper.Tasks == nil {
		return nil, fmt.Errorf("YAML input must be a list or an object with a \"tasks\" list")
	}
	return wrapper.Tasks, nil
}

// normalize converts one raw record into a validated task. index is the
// 1-based position in the input.
func normalize(raw map[string]any, index int) (domain.Task, error) {
	commentID, err := maybeInt(pick(raw, "commentId", "commentid"))
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %d: invalid commentId: %w", index, err)
	}

	rec := record{
		Name:      str(raw["name"]),
		URL:       str(raw["url"]),
		CommentID: commentID,
		FileName:  str(pick(raw, "fileName", "filename")),
		Anime:     str(raw["anime"]),
		Episode:   str(raw["episode"]),
		Format:    strings.ToLower(str(raw["format"])),
		Disabled:  boolish(raw["disabled"]),
	}

	if err := validate.Struct(rec); err != nil {
		return domain.Task{}, fmt.Errorf("task %d: %w", index, err)
	}

	task := domain.Task{
		SequenceIndex: index,
		Name:          rec.Name,
		URL:           rec.URL,
		CommentID:     rec.CommentID,
		FileName:      rec.FileName,
		Anime:         rec.Anime,
		Episode:       rec.Episode,
		Format:        domain.Format(rec.Format),
		Disabled:      rec.Disabled,
	}
	if task.Mode() == domain.ModeNone {
		return domain.Task{}, fmt.Errorf("task %d: %w", index, errpkg.ErrNoResolutionMode)
	}
	return task, nil
}

func pick(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func maybeInt(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}

func boolish(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
