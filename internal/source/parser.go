// Package source discovers, reads, and classifies Claude Code JSONL transcripts.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// MaxLineSize bounds a single transcript line. Tool results embed whole files,
// so lines are far larger than bufio's 64KB default.
const MaxLineSize = 32 * 1024 * 1024

// Warning is a recoverable problem found while reading a transcript.
type Warning struct {
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", w.Path, w.Line, w.Message)
	}
	if w.Path != "" {
		return fmt.Sprintf("%s: %s", w.Path, w.Message)
	}
	return w.Message
}

// ParseResult holds the output of reading a single JSONL file.
type ParseResult struct {
	Events      []model.Event
	Cwd         string
	Title       string
	Warnings    []Warning
	ParseErrors int
	Err         error
}

// ParseFile opens path, retrying transient failures, and classifies every line.
func ParseFile(path string, retry fsutil.RetryPolicy) ParseResult {
	var f *os.File
	err := retry.Do(func() error {
		var openErr error
		f, openErr = os.Open(path) //nolint:gosec // transcript paths come from ScanDir
		return openErr
	})
	if err != nil {
		return ParseResult{Err: err}
	}
	defer func() { _ = f.Close() }()

	return Parse(f, path)
}

// Parse reads JSONL records from r. Malformed lines become warnings and never
// abort the read.
//
// Records whose top-level "type" is pure bookkeeping are turned into skip
// events from a byte-level sniff, without a full decode.
func Parse(r io.Reader, path string) ParseResult {
	var res ParseResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), MaxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if kind := extractTopLevelType(line); isBookkeeping(kind) {
			res.Events = append(res.Events, model.Event{
				ID:   lineID(lineNo),
				Kind: model.KindSkip,
			})
			continue
		}

		rec, err := decodeRecord(line)
		if err != nil {
			res.ParseErrors++
			res.Warnings = append(res.Warnings, Warning{Path: path, Line: lineNo, Message: err.Error()})
			continue
		}
		rec.Line = lineNo

		if res.Cwd == "" && rec.Cwd != "" {
			res.Cwd = rec.Cwd
		}
		if rec.Title != "" {
			res.Title = rec.Title
		}

		res.Events = append(res.Events, Classify(rec))
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			// The scanner cannot resume past an oversized line; keep what was read.
			res.ParseErrors++
			res.Warnings = append(res.Warnings, Warning{
				Path:    path,
				Line:    lineNo + 1,
				Message: "line exceeds maximum size, remainder of transcript skipped",
			})
			return res
		}
		res.Err = err
	}
	return res
}

// decodeRecord decodes one line. When the full decode fails on a field of an
// unexpected type but the line is still a JSON object with a "type", the
// record degrades to its envelope so it can classify as a generic event.
func decodeRecord(line []byte) (RawRecord, error) {
	raw := make([]byte, len(line))
	copy(raw, line)

	var rec RawRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		if rec.Type == "" {
			return RawRecord{}, errors.New("record has no type")
		}
		rec.Raw = raw
		return rec, nil
	}

	var envelope struct {
		Type       string `json:"type"`
		Timestamp  string `json:"timestamp"`
		UUID       string `json:"uuid"`
		ParentUUID string `json:"parentUuid"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return RawRecord{}, fmt.Errorf("unparseable record: %w", err)
	}
	if envelope.Type == "" {
		return RawRecord{}, errors.New("record has no type")
	}
	return RawRecord{
		Type:       unrecognizedPrefix + envelope.Type,
		Timestamp:  envelope.Timestamp,
		UUID:       envelope.UUID,
		ParentUUID: envelope.ParentUUID,
		Raw:        raw,
	}, nil
}

// unrecognizedPrefix marks records whose body did not match the known shape.
const unrecognizedPrefix = "unrecognized:"

func isBookkeeping(kind string) bool {
	switch kind {
	case "file-history-snapshot", "queue-operation":
		return true
	}
	return false
}

func lineID(n int) string {
	return fmt.Sprintf("L%d", n)
}

// typeKey is the byte sequence for a JSON key named "type" (with quotes).
var typeKey = []byte(`"type"`)

// extractTopLevelType finds the top-level "type" field in a JSONL line.
// Tracks brace depth and string boundaries so nested "type" keys are ignored.
func extractTopLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				val, isKey := typeValue(line, i+len(typeKey))
				if isKey {
					return val
				}
				// "type" appeared as a value, not a key. Continue scanning.
			}
			i = skipJSONString(line, i)
		case '{', '[':
			depth++
			i++
		case '}', ']':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// typeValue checks whether pos follows a JSON key (expects : then value).
// isKey=false means "type" appeared as a value, not a key.
func typeValue(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true // key with non-string value (null, number, etc.)
	}
	i++

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 64 {
		return "", true
	}
	return strings.ToLower(string(line[i : i+end])), true
}

// skipJSONString advances past a JSON string starting at the opening quote.
//
//nolint:gosec // manual bounds checking throughout
func skipJSONString(line []byte, i int) int {
	i++ // skip opening quote
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return i
}
