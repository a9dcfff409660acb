// Package sessiontracker accumulates run-wide counters (tasks, tools,
// tests, files, git commits, messages, errors) and renders the concise
// and detailed summaries the orchestrator prints and appends as JSONL
// metrics. It is a single in-memory run accumulator rather than a full
// persisted conversation session store.
package sessiontracker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxFirstCommits = 5
	maxFirstErrors  = 3
	topToolsShown   = 10
)

// Tracker is a thread-safe run accumulator. Every mutator and reader
// method is safe for concurrent use: the ledger, permission manager,
// session tracker, and debug logger are each a mutex-guarded singleton
// capability.
type Tracker struct {
	mu sync.Mutex

	sessionID string
	startedAt time.Time

	tasksCompleted int
	tasksFailed    int

	toolsUsed map[string]int

	filesCreated  []string
	filesModified []string
	filesDeleted  []string

	commitsMade []string

	testsRun    int
	testsPassed int
	testsFailed int

	errorMessages []string

	messageCount    int
	tokensEstimated int
}

// New creates a Tracker for the given session id, stamping the start
// time used to compute summary duration.
func New(sessionID string) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		startedAt: time.Now(),
		toolsUsed: make(map[string]int),
	}
}

// RecordTaskCompleted increments tasks_completed.
func (t *Tracker) RecordTaskCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasksCompleted++
}

// RecordTaskFailed increments tasks_failed.
func (t *Tracker) RecordTaskFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasksFailed++
}

// RecordToolUsed increments tools_used[name].
func (t *Tracker) RecordToolUsed(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolsUsed[name]++
}

// RecordFileCreated records a created file path.
func (t *Tracker) RecordFileCreated(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesCreated = append(t.filesCreated, path)
}

// RecordFileModified records a modified file path.
func (t *Tracker) RecordFileModified(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesModified = append(t.filesModified, path)
}

// RecordFileDeleted records a deleted file path.
func (t *Tracker) RecordFileDeleted(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesDeleted = append(t.filesDeleted, path)
}

// RecordCommit records a git commit hash or message.
func (t *Tracker) RecordCommit(ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitsMade = append(t.commitsMade, ref)
}

// RecordTestRun records one test-run outcome.
func (t *Tracker) RecordTestRun(passed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.testsRun++
	if passed {
		t.testsPassed++
	} else {
		t.testsFailed++
	}
}

// RecordError appends an error message to the running log.
func (t *Tracker) RecordError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorMessages = append(t.errorMessages, msg)
}

// RecordMessage increments message_count and adds to tokens_estimated.
func (t *Tracker) RecordMessage(estimatedTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageCount++
	t.tokensEstimated += estimatedTokens
}

// snapshot is an internal consistent read of every counter, taken under
// the lock so summary rendering never observes a torn state.
type snapshot struct {
	sessionID       string
	duration        time.Duration
	tasksCompleted  int
	tasksFailed     int
	toolsUsed       map[string]int
	filesCreated    []string
	filesModified   []string
	filesDeleted    []string
	commitsMade     []string
	testsRun        int
	testsPassed     int
	testsFailed     int
	errorMessages   []string
	messageCount    int
	tokensEstimated int
}

func (t *Tracker) snapshot() snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	tools := make(map[string]int, len(t.toolsUsed))
	for k, v := range t.toolsUsed {
		tools[k] = v
	}
	return snapshot{
		sessionID:       t.sessionID,
		duration:        time.Since(t.startedAt),
		tasksCompleted:  t.tasksCompleted,
		tasksFailed:     t.tasksFailed,
		toolsUsed:       tools,
		filesCreated:    append([]string(nil), t.filesCreated...),
		filesModified:   append([]string(nil), t.filesModified...),
		filesDeleted:    append([]string(nil), t.filesDeleted...),
		commitsMade:     append([]string(nil), t.commitsMade...),
		testsRun:        t.testsRun,
		testsPassed:     t.testsPassed,
		testsFailed:     t.testsFailed,
		errorMessages:   append([]string(nil), t.errorMessages...),
		messageCount:    t.messageCount,
		tokensEstimated: t.tokensEstimated,
	}
}

type toolCount struct {
	name  string
	count int
}

func topTools(tools map[string]int, n int) []toolCount {
	out := make([]toolCount, 0, len(tools))
	for name, count := range tools {
		out = append(out, toolCount{name, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func totalToolCalls(tools map[string]int) int {
	total := 0
	for _, c := range tools {
		total += c
	}
	return total
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// ConciseSummary renders the compact, always-shown summary: session duration, task pass/fail counts, top-10 tools by call
// count, code-change counts, test counts, first 5 commits, first 3
// errors.
func (t *Tracker) ConciseSummary() string {
	s := t.snapshot()
	var b strings.Builder

	fmt.Fprintf(&b, "Session Summary (%s)\n", s.duration.Round(time.Second))
	fmt.Fprintf(&b, "Tasks (%d total; ✓%d ✗%d)\n", s.tasksCompleted+s.tasksFailed, s.tasksCompleted, s.tasksFailed)

	fmt.Fprintf(&b, "Tools (%d total calls)\n", totalToolCalls(s.toolsUsed))
	for _, tc := range topTools(s.toolsUsed, topToolsShown) {
		fmt.Fprintf(&b, "  %s: %d\n", tc.name, tc.count)
	}

	fmt.Fprintf(&b, "Code Changes (created %d, modified %d, deleted %d)\n",
		len(s.filesCreated), len(s.filesModified), len(s.filesDeleted))

	fmt.Fprintf(&b, "Tests (%d run, %d passed, %d failed)\n", s.testsRun, s.testsPassed, s.testsFailed)

	fmt.Fprintf(&b, "Git Commits (first %d of %d)\n", len(firstN(s.commitsMade, maxFirstCommits)), len(s.commitsMade))
	for _, c := range firstN(s.commitsMade, maxFirstCommits) {
		fmt.Fprintf(&b, "  %s\n", c)
	}

	fmt.Fprintf(&b, "Errors (first %d of %d)\n", len(firstN(s.errorMessages, maxFirstErrors)), len(s.errorMessages))
	for _, e := range firstN(s.errorMessages, maxFirstErrors) {
		fmt.Fprintf(&b, "  %s\n", e)
	}

	return b.String()
}

// smallListThreshold is the cutoff below which DetailedSummary prints the
// full file list instead of just the count.
const smallListThreshold = 25

// DetailedSummary renders the concise summary plus full file lists (when
// small) and message statistics.
func (t *Tracker) DetailedSummary() string {
	s := t.snapshot()
	var b strings.Builder
	b.WriteString(t.ConciseSummary())

	b.WriteString("Files\n")
	writeFileGroup(&b, "created", s.filesCreated)
	writeFileGroup(&b, "modified", s.filesModified)
	writeFileGroup(&b, "deleted", s.filesDeleted)

	fmt.Fprintf(&b, "Messages (%d total, ~%d tokens estimated)\n", s.messageCount, s.tokensEstimated)

	return b.String()
}

func writeFileGroup(b *strings.Builder, label string, files []string) {
	fmt.Fprintf(b, "  %s (%d)\n", label, len(files))
	if len(files) <= smallListThreshold {
		for _, f := range files {
			fmt.Fprintf(b, "    %s\n", f)
		}
	}
}

// Metrics is the JSONL record shape appended on each metrics flush.
type Metrics struct {
	SessionID string        `json:"session_id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  float64       `json:"duration"`
	Tasks     TaskMetrics   `json:"tasks"`
	Tools     map[string]int `json:"tools"`
	Tests     TestMetrics   `json:"tests"`
	Files     FileMetrics   `json:"files"`
	Git       GitMetrics    `json:"git"`
	Messages  MessageMetrics `json:"messages"`
	Success   bool          `json:"success"`
	Errors    []string      `json:"errors"`
}

// TaskMetrics is the tasks{...} sub-object.
type TaskMetrics struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// TestMetrics is the tests{...} sub-object.
type TestMetrics struct {
	Run    int `json:"run"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// FileMetrics is the files{...} sub-object.
type FileMetrics struct {
	Created  int `json:"created"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// GitMetrics is the git{...} sub-object.
type GitMetrics struct {
	CommitsMade int `json:"commits_made"`
}

// MessageMetrics is the messages{...} sub-object.
type MessageMetrics struct {
	Count           int `json:"count"`
	TokensEstimated int `json:"tokens_estimated"`
}

// BuildMetrics renders the Metrics record for this run. success is
// determined by the caller (the orchestrator knows whether the overall
// run ended in a failed state beyond individual task failures).
func (t *Tracker) BuildMetrics(success bool) Metrics {
	s := t.snapshot()
	return Metrics{
		SessionID: s.sessionID,
		Timestamp: time.Now(),
		Duration:  s.duration.Seconds(),
		Tasks:     TaskMetrics{Completed: s.tasksCompleted, Failed: s.tasksFailed},
		Tools:     s.toolsUsed,
		Tests:     TestMetrics{Run: s.testsRun, Passed: s.testsPassed, Failed: s.testsFailed},
		Files: FileMetrics{
			Created:  len(s.filesCreated),
			Modified: len(s.filesModified),
			Deleted:  len(s.filesDeleted),
		},
		Git:     GitMetrics{CommitsMade: len(s.commitsMade)},
		Messages: MessageMetrics{Count: s.messageCount, TokensEstimated: s.tokensEstimated},
		Success: success,
		Errors:  s.errorMessages,
	}
}

// MetricsJSONLine renders BuildMetrics as a single compact JSON line
// suitable for appending to a metrics.jsonl file.
func (t *Tracker) MetricsJSONLine(success bool) (string, error) {
	data, err := json.Marshal(t.BuildMetrics(success))
	if err != nil {
		return "", fmt.Errorf("failed to marshal session metrics: %w", err)
	}
	return string(data), nil
}
