// Package checkpoint implements the State Manager & Checkpointing
// component: atomic plan/agent_state snapshots, a
// latest.json marker, listing, and the SIGINT interrupt hook. Uses the
// same atomic tmp-write-fsync-rename pattern as artifact persistence,
// since checkpoint files need the identical atomicity guarantee.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/revkit/rev/pkg/runctx"
)

// SchemaVersion is the on-disk checkpoint format tag.
const SchemaVersion = "checkpoint@1"

// Checkpoint is the bit-exact on-disk shape.
type Checkpoint struct {
	SchemaVersion string         `json:"schema_version"`
	CreatedAt     string         `json:"created_at"`
	Plan          PlanSnapshot   `json:"plan"`
	AgentState    map[string]any `json:"agent_state"`
	Summary       string         `json:"summary"`
}

// PlanSnapshot is the persisted shape of an ExecutionPlan.
type PlanSnapshot struct {
	Tasks        []*runctx.Task `json:"tasks"`
	CurrentIndex int            `json:"current_index"`
}

// Entry is one row of list_checkpoints.
type Entry struct {
	Filename   string `json:"filename"`
	Timestamp  string `json:"timestamp"`
	TasksTotal int    `json:"tasks_total"`
	Summary    string `json:"summary"`
}

// Manager persists and loads checkpoints under dir.
type Manager struct {
	dir string
}

// New creates a Manager rooted at dir, creating it if absent.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating directory %q: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

func stampForFilename(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format("2006-01-02T15-04-05Z"), ":", "-")
}

// SaveCheckpoint atomically writes plan and agentState, then updates the
// latest.json marker to point at the new file.
func (m *Manager) SaveCheckpoint(plan *runctx.ExecutionPlan, agentState map[string]any, summary string) (string, error) {
	cp := Checkpoint{
		SchemaVersion: SchemaVersion,
		CreatedAt:     nowISO(),
		Plan: PlanSnapshot{
			Tasks:        plan.Tasks,
			CurrentIndex: plan.CurrentIndex,
		},
		AgentState: agentState,
		Summary:    summary,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshaling: %w", err)
	}

	filename := stampForFilename(time.Now()) + ".json"
	finalPath := filepath.Join(m.dir, filename)
	if err := atomicWrite(finalPath, data); err != nil {
		return "", err
	}

	if err := atomicWrite(filepath.Join(m.dir, "latest.json"), []byte(filename)); err != nil {
		return finalPath, fmt.Errorf("checkpoint: updating latest marker: %w", err)
	}
	return finalPath, nil
}

func atomicWrite(finalPath string, data []byte) error {
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing temp file: %w", err)
	}
	if f, err := os.OpenFile(tmpPath, os.O_WRONLY, 0o644); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: renaming into place: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and decodes the checkpoint at path, returning a
// freshly built ExecutionPlan plus the persisted agent_state.
func LoadCheckpoint(path string) (*runctx.ExecutionPlan, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: reading %q: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil, fmt.Errorf("checkpoint: decoding %q: %w", path, err)
	}
	plan := runctx.NewExecutionPlan(cp.Plan.Tasks)
	plan.CurrentIndex = cp.Plan.CurrentIndex
	return plan, cp.AgentState, nil
}

// FindLatestCheckpoint reads the latest.json marker and resolves it to an
// absolute checkpoint path, or ("", false) if no marker exists.
func (m *Manager) FindLatestCheckpoint() (string, bool) {
	data, err := os.ReadFile(filepath.Join(m.dir, "latest.json"))
	if err != nil {
		return "", false
	}
	filename := strings.TrimSpace(string(data))
	if filename == "" {
		return "", false
	}
	path := filepath.Join(m.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// ListCheckpoints returns every checkpoint file under dir, newest first.
func (m *Manager) ListCheckpoints() ([]Entry, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing %q: %w", m.dir, err)
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() || e.Name() == "latest.json" || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, Entry{
			Filename:   e.Name(),
			Timestamp:  cp.CreatedAt,
			TasksTotal: len(cp.Plan.Tasks),
			Summary:    cp.Summary,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// ResumeMode selects how a loaded checkpoint re-enters the run loop
//.
type ResumeMode string

const (
	ResumeLoadOnly ResumeMode = "load-only"
	ResumeContinue ResumeMode = "continue"
)

// ApplyResumeMode prepares plan for the given mode: continue resets any
// Stopped task back to Pending so the loop re-enters it; load-only leaves
// the plan exactly as persisted.
func ApplyResumeMode(plan *runctx.ExecutionPlan, mode ResumeMode) {
	if mode != ResumeContinue {
		return
	}
	for _, t := range plan.Tasks {
		if t.Status == runctx.StatusStopped {
			t.Status = runctx.StatusPending
			t.Error = ""
		}
	}
}

// OnInterrupt implements the SIGINT hook: marks any
// InProgress task Stopped with an "interrupted" error, saves a
// checkpoint, and returns a resume hint string for the caller to print.
func (m *Manager) OnInterrupt(invocation string, rc *runctx.RevContext) (string, error) {
	if rc.Plan != nil {
		for _, t := range rc.Plan.Tasks {
			if t.Status == runctx.StatusInProgress {
				_ = rc.MarkTaskStopped(t.TaskID, "interrupted")
			}
		}
	}

	var path string
	var err error
	if rc.Plan != nil {
		path, err = m.SaveCheckpoint(rc.Plan, rc.AgentState, "interrupted by user")
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s --resume %s", invocation, path), nil
}
