package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of debug.log.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	Graph     string         `json:"graph,omitempty"`
	Node      string         `json:"node,omitempty"`
	Unit      string         `json:"unit,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero-valued fields do not filter; set fields
// are combined with AND.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level string
	// Since and Until bound the entry timestamp, inclusive.
	Since time.Time
	Until time.Time

	RunID string
	Graph string
	Node  string
	// Unit matches the fully-qualified unit name exactly.
	Unit string

	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// standardFields are lifted out of the attribute map into LogEntry fields.
var standardFields = map[string]bool{
	"time":   true,
	"level":  true,
	"msg":    true,
	"run_id": true,
	"graph":  true,
	"node":   true,
	"unit":   true,
}

// AggregateLogs reads debug.log and its rotated backups from dir and returns
// every parseable entry sorted by timestamp. Lines that are not valid JSON
// are skipped.
func AggregateLogs(dir string) ([]LogEntry, error) {
	paths := logFiles(dir)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log file found in %s", dir)
	}

	var entries []LogEntry
	for _, p := range paths {
		got, err := readLogFile(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, got...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// logFiles lists debug.log and any debug.log.N[.gz] backups that exist.
func logFiles(dir string) []string {
	base := filepath.Join(dir, LogFileName)
	var paths []string
	if _, err := os.Stat(base); err == nil {
		paths = append(paths, base)
	}
	matches, _ := filepath.Glob(base + ".*")
	sort.Strings(matches)
	return append(paths, matches...)
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed log %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	// Agent feedback can make single entries long.
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file %s: %w", path, err)
	}
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	if s, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.RunID, _ = raw["run_id"].(string)
	entry.Graph, _ = raw["graph"].(string)
	entry.Node, _ = raw["node"].(string)
	entry.Unit, _ = raw["unit"].(string)

	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e LogEntry, f LogFilter) bool {
	if f.Level != "" {
		min, okF := levelOrder[strings.ToUpper(f.Level)]
		got, okE := levelOrder[e.Level]
		if okF && okE && got < min {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Graph != "" && e.Graph != f.Graph {
		return false
	}
	if f.Node != "" && e.Node != f.Node {
		return false
	}
	if f.Unit != "" && e.Unit != f.Unit {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// ExportFormats lists the formats accepted by ExportLogEntries.
func ExportFormats() []string {
	return []string{"json", "text", "csv"}
}

// ExportLogEntries writes entries to w as json, text or csv.
func ExportLogEntries(entries []LogEntry, w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []LogEntry{}
		}
		return enc.Encode(entries)
	case "text", "":
		return exportText(w, entries)
	case "csv":
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: %s)", format, strings.Join(ExportFormats(), ", "))
	}
}

// exportText writes "[TIMESTAMP] LEVEL - MESSAGE (context) {attrs}" lines.
func exportText(w io.Writer, entries []LogEntry) error {
	for _, e := range entries {
		parts := []string{
			fmt.Sprintf("[%s]", e.Timestamp.Format("2006-01-02 15:04:05.000")),
			e.Level,
			"-",
			e.Message,
		}
		if ctx := contextFields(e); len(ctx) > 0 {
			parts = append(parts, fmt.Sprintf("(%s)", strings.Join(ctx, ", ")))
		}
		if len(e.Attrs) > 0 {
			b, _ := json.Marshal(e.Attrs)
			parts = append(parts, string(b))
		}
		if _, err := io.WriteString(w, strings.Join(parts, " ")+"\n"); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func contextFields(e LogEntry) []string {
	var ctx []string
	for _, kv := range [][2]string{
		{"run", e.RunID}, {"graph", e.Graph}, {"node", e.Node}, {"unit", e.Unit},
	} {
		if kv[1] != "" {
			ctx = append(ctx, kv[0]+"="+kv[1])
		}
	}
	return ctx
}

func exportCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "level", "message", "run_id", "graph", "node", "unit", "attrs"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level, e.Message, e.RunID, e.Graph, e.Node, e.Unit, attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
