// Package artifact persists large tool outputs to disk as redacted,
// integrity-hashed records, atomically and with bounded retention.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/revkit/rev/pkg/redact"
)

// SchemaVersion is the fixed schema_version written into every artifact,
// with bit-exact on-disk JSON keys.
const SchemaVersion = "tool_output@1"

// ContentType enumerates how Output is encoded.
type ContentType string

const (
	ContentJSON ContentType = "application/json"
	ContentText ContentType = "text/plain"
)

// Artifact is the on-disk record of a persisted, redacted tool output.
type Artifact struct {
	SchemaVersion         string      `json:"schema_version"`
	CreatedAt             string      `json:"created_at"`
	Tool                  string      `json:"tool"`
	ToolArgs              any         `json:"tool_args"`
	ToolArgsDigest        string      `json:"tool_args_digest"`
	ContentType           ContentType `json:"content_type"`
	Output                any         `json:"output"`
	Redacted              bool        `json:"redacted"`
	RedactionRulesVersion int         `json:"redaction_rules_version"`
	OutputDigestRaw       string      `json:"output_digest_raw"`
	OutputDigestRedacted  string      `json:"output_digest_redacted"`
	Truncated             bool        `json:"truncated"`
	ByteLen               int         `json:"byte_len"`
	LineCount             int         `json:"line_count"`
	SessionID             string      `json:"session_id"`
	TaskID                string      `json:"task_id"`
	StepID                string      `json:"step_id"`
	AgentName             string      `json:"agent_name"`
}

// Ref is a workspace-relative pointer to a written artifact.
type Ref struct {
	path string
}

// NewRef wraps an absolute artifact path, keeping the relative root for
// AsPosix.
func newRef(relPath string) Ref { return Ref{path: relPath} }

// AsPosix always returns a workspace-relative, forward-slash path.
func (r Ref) AsPosix() string {
	return filepath.ToSlash(r.path)
}

func (r Ref) String() string { return r.AsPosix() }

// Meta is the short evidence summary returned in place of inline output.
type Meta struct {
	ByteLen   int    `json:"byte_len"`
	LineCount int     `json:"line_count"`
	Truncated bool   `json:"truncated"`
	Redacted  bool   `json:"redacted"`
	Digest    string `json:"digest"`
}

// structuredTools get their stdout/stderr/rc shape preserved instead of
// being stored as an opaque text blob.
var structuredTools = map[string]bool{
	"run_cmd":   true,
	"run_tests": true,
}

// neverCompress tools are always inlined regardless of size.
var NeverCompress = map[string]bool{
	"read_file": true,
}

// Store writes, prunes, and references tool-output artifacts.
type Store struct {
	dir       string
	redactor  *redact.Redactor
	maxKeep   int
	threshold int // ArtifactByteThreshold, SPEC_FULL.md Open Question 1.

	mu      sync.Mutex
	counter int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxKeep sets the retention ceiling (newest-first).
func WithMaxKeep(n int) Option {
	return func(s *Store) { s.maxKeep = n }
}

// WithThreshold sets the single configurable byte threshold above which a
// tool output is persisted as an artifact rather than inlined.
func WithThreshold(n int) Option {
	return func(s *Store) { s.threshold = n }
}

// New creates a Store rooted at dir (typically ./.rev/artifacts/tool_outputs).
func New(dir string, redactor *redact.Redactor, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: creating store dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		redactor:  redactor,
		maxKeep:   200,
		threshold: 4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Threshold returns the configured byte threshold.
func (s *Store) Threshold() int { return s.threshold }

// ShouldPersist reports whether output for toolName of the given byte
// length should be written as an artifact instead of inlined.
func (s *Store) ShouldPersist(toolName string, byteLen int) bool {
	if NeverCompress[toolName] {
		return false
	}
	return byteLen > s.threshold
}

// Write persists a tool's output, applying redaction and atomic write
// semantics (tmp -> fsync -> rename), then prunes old artifacts.
func (s *Store) Write(toolName string, args any, output string, sessionID, taskID, stepID, agentName string, truncated bool) (Ref, Meta, error) {
	contentType, shaped := s.shape(toolName, output)

	redacted, changed := s.redactor.Redact(shaped)

	rawDigest := digest(output)
	redactedBytes, err := json.Marshal(redacted)
	if err != nil {
		return Ref{}, Meta{}, fmt.Errorf("artifact: marshaling redacted output: %w", err)
	}
	redactedDigest := digest(string(redactedBytes))

	argsDigest := digest(fmt.Sprintf("%v", args))

	a := Artifact{
		SchemaVersion:         SchemaVersion,
		CreatedAt:             nowISO(),
		Tool:                  toolName,
		ToolArgs:              args,
		ToolArgsDigest:        argsDigest,
		ContentType:           contentType,
		Output:                redacted,
		Redacted:              changed,
		RedactionRulesVersion: s.redactor.RulesVersion(),
		OutputDigestRaw:       rawDigest,
		OutputDigestRedacted:  redactedDigest,
		Truncated:             truncated,
		ByteLen:               len(output),
		LineCount:             strings.Count(output, "\n") + 1,
		SessionID:             sessionID,
		TaskID:                taskID,
		StepID:                stepID,
		AgentName:             agentName,
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return Ref{}, Meta{}, fmt.Errorf("artifact: marshaling artifact: %w", err)
	}

	filename := s.filename(toolName, sessionID, taskID)
	finalPath := filepath.Join(s.dir, filename)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return Ref{}, Meta{}, fmt.Errorf("artifact: writing temp file: %w", err)
	}
	f, err := os.OpenFile(tmpPath, os.O_WRONLY, 0o644)
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Ref{}, Meta{}, fmt.Errorf("artifact: renaming into place: %w", err)
	}

	s.Prune([]string{sessionID})

	ref := newRef(filepath.Join(filepath.Base(s.dir), filename))
	meta := Meta{
		ByteLen:   a.ByteLen,
		LineCount: a.LineCount,
		Truncated: truncated,
		Redacted:  changed,
		Digest:    redactedDigest,
	}
	return ref, meta, nil
}

func (s *Store) shape(toolName, output string) (ContentType, any) {
	if structuredTools[toolName] {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(output), &parsed); err == nil {
			shaped := map[string]any{}
			for _, key := range []string{"rc", "stdout", "stderr"} {
				if v, ok := parsed[key]; ok {
					shaped[key] = v
				}
			}
			if len(shaped) > 0 {
				return ContentJSON, shaped
			}
		}
	}
	return ContentText, output
}

func (s *Store) filename(toolName, sessionID, taskID string) string {
	s.mu.Lock()
	s.counter++
	n := s.counter
	s.mu.Unlock()

	stamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15-04-05Z"), ":", "-")
	return fmt.Sprintf("%s_%06d_%d_%s_%s_%s.json", stamp, n, os.Getpid(), sessionID, taskID, toolName)
}

// Prune keeps at most maxKeep newest artifacts, always preserving at least
// one artifact per session named in keepSessions.
func (s *Store) Prune(keepSessions []string) {
	keep := make(map[string]bool, len(keepSessions))
	for _, k := range keepSessions {
		keep[k] = true
	}
	s.prune(keep)
}

func (s *Store) prune(keepSessions map[string]bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	type fileInfo struct {
		name    string
		modTime time.Time
		session string
	}

	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime(), session: sessionFromFilename(e.Name())})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	if len(files) <= s.maxKeep {
		return
	}

	kept := 0
	preservedSessions := make(map[string]bool, len(keepSessions))
	for k := range keepSessions {
		preservedSessions[k] = false
	}

	for i, f := range files {
		mustKeep := false
		if _, watched := preservedSessions[f.session]; watched && !preservedSessions[f.session] {
			mustKeep = true
			preservedSessions[f.session] = true
		}

		if i < s.maxKeep || mustKeep {
			kept++
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, f.name))
	}
}

func sessionFromFilename(name string) string {
	// {stamp}_{counter:06d}_{pid}_{session}_{task}_{tool}.json
	parts := strings.Split(strings.TrimSuffix(name, ".json"), "_")
	if len(parts) < 6 {
		return ""
	}
	return parts[3]
}

func digest(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// ParseCounter extracts the numeric counter portion of a stamp for tests.
func ParseCounter(filename string) (int, error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".json"), "_")
	if len(parts) < 2 {
		return 0, fmt.Errorf("artifact: malformed filename %q", filename)
	}
	return strconv.Atoi(parts[1])
}
