// Package debuglog implements the Debug/Transcript Log:
// a structured, file-backed event log with convenience loggers and a
// trace-context dict, plus an opt-in full-transcript file. Built on
// stdlib log/slog behind a small level/filtering layer rather than a
// third-party logging library.
package debuglog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level mirrors slog's level set at the structured-event layer.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Event is one structured log entry: component, event name, data, and
// level.
type Event struct {
	Time      string         `json:"time"`
	Component string         `json:"component"`
	EventName string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Level     string         `json:"level"`
	Trace     map[string]any `json:"trace,omitempty"`
}

// Logger is the process-wide structured event log singleton. It owns a
// trace-context dict merged into every event, and prunes its log
// directory to the N newest files on creation.
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	slog  *slog.Logger
	trace map[string]any

	transcriptFile *os.File
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide Logger, or nil if none was installed
// via SetDefault.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

// SetDefault installs l as the process-wide Logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// New creates a Logger writing structured JSON-lines events to a
// timestamped file under dir, pruning dir to the keepNewest most recent
// log files first.
func New(dir string, keepNewest int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("debuglog: creating directory %q: %w", dir, err)
	}
	pruneLogDir(dir, keepNewest)

	stamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15-04-05Z"), ":", "-")
	path := filepath.Join(dir, fmt.Sprintf("%s.jsonl", stamp))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("debuglog: opening %q: %w", path, err)
	}

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: LevelDebug})
	return &Logger{
		file:  f,
		slog:  slog.New(handler),
		trace: map[string]any{},
	}, nil
}

func pruneLogDir(dir string, keepNewest int) {
	if keepNewest <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	if len(files) < keepNewest {
		return
	}
	for _, f := range files[keepNewest:] {
		_ = os.Remove(filepath.Join(dir, f.name))
	}
}

// Close releases the underlying file handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transcriptFile != nil {
		_ = l.transcriptFile.Close()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SetTrace replaces a key in the trace-context dict merged into every
// subsequently logged event.
func (l *Logger) SetTrace(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trace[key] = value
}

// Log emits a structured event.
func (l *Logger) Log(component, event string, data map[string]any, level Level) {
	l.mu.Lock()
	trace := make(map[string]any, len(l.trace))
	for k, v := range l.trace {
		trace[k] = v
	}
	l.mu.Unlock()

	attrs := []any{slog.String("component", component), slog.String("event", event)}
	if len(data) > 0 {
		attrs = append(attrs, slog.Any("data", data))
	}
	if len(trace) > 0 {
		attrs = append(attrs, slog.Any("trace", trace))
	}
	l.slog.Log(context.Background(), level, event, attrs...)
}

// LogFunctionCall records entry into a named function with its arguments.
func (l *Logger) LogFunctionCall(component, funcName string, args map[string]any) {
	l.Log(component, "function_call", mergeData(map[string]any{"function": funcName}, args), LevelDebug)
}

// LogLLMRequest records a request about to be sent to a provider.
func (l *Logger) LogLLMRequest(component, model string, messageCount int) {
	l.Log(component, "llm_request", map[string]any{"model": model, "message_count": messageCount}, LevelInfo)
}

// LogLLMResponse records a provider's response summary.
func (l *Logger) LogLLMResponse(component string, usagePromptTokens, usageCompletionTokens int, toolCallCount int) {
	l.Log(component, "llm_response", map[string]any{
		"prompt_tokens":     usagePromptTokens,
		"completion_tokens": usageCompletionTokens,
		"tool_calls":        toolCallCount,
	}, LevelInfo)
}

// LogToolExecution records one tool invocation's outcome.
func (l *Logger) LogToolExecution(component, toolName string, success bool, durationMS int64) {
	l.Log(component, "tool_execution", map[string]any{
		"tool":        toolName,
		"success":     success,
		"duration_ms": durationMS,
	}, LevelInfo)
}

// LogTaskStatus records a task's status transition.
func (l *Logger) LogTaskStatus(component, taskID, status string) {
	l.Log(component, "task_status", map[string]any{"task_id": taskID, "status": status}, LevelInfo)
}

// LogError records an error with an optional cause chain.
func (l *Logger) LogError(component, message string, err error) {
	data := map[string]any{"message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(component, "error", data, LevelError)
}

// LogWorkflowPhase records a phase transition in the orchestrator's state
// machine.
func (l *Logger) LogWorkflowPhase(component, phase string) {
	l.Log(component, "workflow_phase", map[string]any{"phase": phase}, LevelInfo)
}

func mergeData(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// TranscriptEntry is one full, untruncated LLM request/response pair plus
// environment context, written to the opt-in transcript file.
type TranscriptEntry struct {
	Time            string         `json:"time"`
	RequestMessages any            `json:"request_messages"`
	Response        any            `json:"response"`
	EnvSnapshot     map[string]string `json:"env_snapshot,omitempty"`
	GitStatus       string         `json:"git_status,omitempty"`
	ToolsAvailable  []string       `json:"tools_available,omitempty"`
	Trace           map[string]any `json:"trace,omitempty"`
}

// EnableTranscript opens (rotating any existing file to ".last" first)
// the full-transcript file at path, used for opt-in, no-truncation
// request/response capture.
func (l *Logger) EnableTranscript(path string) error {
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".last")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("debuglog: opening transcript %q: %w", path, err)
	}
	l.mu.Lock()
	l.transcriptFile = f
	l.mu.Unlock()
	return nil
}

// WriteTranscript appends one full request/response pair to the
// transcript file, a no-op if EnableTranscript was never called.
func (l *Logger) WriteTranscript(entry TranscriptEntry) error {
	l.mu.Lock()
	f := l.transcriptFile
	trace := make(map[string]any, len(l.trace))
	for k, v := range l.trace {
		trace[k] = v
	}
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	if entry.Trace == nil {
		entry.Trace = trace
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("debuglog: marshaling transcript entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("debuglog: writing transcript entry: %w", err)
	}
	return nil
}

// FilterEnv returns a copy of the given environment-like map with any key
// that looks secret-bearing replaced by "[REDACTED]", used to build the
// transcript's non-secret environment snapshot.
func FilterEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		upper := strings.ToUpper(k)
		if strings.Contains(upper, "KEY") || strings.Contains(upper, "SECRET") ||
			strings.Contains(upper, "TOKEN") || strings.Contains(upper, "PASSWORD") {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
