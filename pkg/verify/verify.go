// Package verify implements the Verification Coordinator:
// a quick pass/fail/inconclusive probe over a task's result, plus the
// test-signature dedup machinery and code-state hashing the Recovery
// Manager and Orchestrator both read agent_state for. Content hashing
// follows a simple sha256-hex-encoded convention, and the coordinator
// itself is a single-purpose, mutex-guarded verify/dedupe singleton.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/tool"
)

// Result is the outcome of verifying one task's result.
type Result struct {
	Passed       bool
	Inconclusive bool
	Message      string
	Details      string
	ShouldReplan bool
}

// hashLen is the number of hex characters CodeStateHash keeps.
const hashLen = 16

// testSigRecord is the stored entry for one observed test signature
//.
type testSigRecord struct {
	CodeHash string `json:"code_hash"`
	SeenAt   int    `json:"seen_at"`
	Passed   bool   `json:"passed"`
}

// Coordinator owns test-signature dedup state and code-state hashing. It
// reads and writes the reserved agent_state keys directly on the
// RevContext passed to each call, since those keys are shared,
// schema-defined state rather than coordinator-private fields.
type Coordinator struct {
	mu            sync.Mutex
	workspaceRoot string
}

// New creates a Coordinator rooted at workspaceRoot, used to resolve the
// default non-test source file set for compute_code_state_hash.
func New(workspaceRoot string) *Coordinator {
	return &Coordinator{workspaceRoot: workspaceRoot}
}

// Verify inspects a task's raw result text and derives a pass/fail verdict.
// Any result containing an unambiguous failure marker fails; an empty or
// whitespace-only result on an action that is expected to produce text is
// inconclusive; everything else passes. This is a quick-verify pass, not
// a full test-runner integration.
func (c *Coordinator) Verify(t *runctx.Task, result string) Result {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return Result{Inconclusive: true, Message: "empty result", ShouldReplan: false}
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "traceback") || strings.Contains(lower, "panic:") ||
		strings.Contains(lower, "fatal error") || strings.Contains(lower, "exit status 1") {
		return Result{Passed: false, Message: "result indicates failure", Details: trimmed, ShouldReplan: true}
	}
	if t.ActionType == tool.ActionTest && looksLikeTestFailure(lower) {
		return Result{Passed: false, Message: "tests failed", Details: trimmed, ShouldReplan: true}
	}
	return Result{Passed: true, Message: "ok", Details: trimmed}
}

var testFailurePatterns = []string{"fail", "error", "assertionerror", "exit code 1", "not ok"}

func looksLikeTestFailure(lower string) bool {
	for _, p := range testFailurePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ComputeCodeStateHash hashes the supplied files, or, if none are given,
// every non-test source file under the workspace root, into 16 hex
// characters of SHA-256. Files are
// sorted before hashing so the result is stable regardless of walk order.
func (c *Coordinator) ComputeCodeStateHash(modifiedFiles []string) (string, error) {
	files := modifiedFiles
	if len(files) == 0 {
		discovered, err := c.discoverSourceFiles()
		if err != nil {
			return "", err
		}
		files = discovered
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			// A file that no longer exists (deleted this iteration) still
			// contributes its path to the hash so deletions change state.
			fmt.Fprintf(h, "%s\x00missing\x00", f)
			continue
		}
		fmt.Fprintf(h, "%s\x00", f)
		h.Write(data)
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:hashLen], nil
}

var testFileSuffixes = []string{"_test.go", ".test.js", ".test.ts", "_spec.rb", "_test.py"}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "test_") {
		return true
	}
	for _, suf := range testFileSuffixes {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}
	return false
}

func (c *Coordinator) discoverSourceFiles() ([]string, error) {
	var files []string
	root := c.workspaceRoot
	if root == "" {
		root = "."
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			base := info.Name()
			if base == ".git" || base == ".rev" || base == "node_modules" || base == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if isTestFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify: walking workspace: %w", err)
	}
	return files, nil
}

// GetTestSignature builds the dedup signature for a task: description,
// action type, and sorted params joined deterministically. Returns "",
// false for any task whose action_type is not test.
func GetTestSignature(t *runctx.Task, params map[string]string) (string, bool) {
	if t.ActionType != tool.ActionTest {
		return "", false
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(t.Description)
	sb.WriteString("||")
	sb.WriteString(string(t.ActionType))
	sb.WriteString("||")
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String(), true
}

func seenSignatures(rc *runctx.RevContext) map[string]any {
	return asMap(rc.AgentState[runctx.StateKeySeenTestSignatures])
}

func blockedSignatures(rc *runctx.RevContext) map[string]any {
	return asMap(rc.AgentState[runctx.StateKeyBlockedTestSignatures])
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// IsTestBlocked implements the dedup rule: a signature is
// blocked when it was seen at the same iteration as the last code change
// and the stored code_hash still matches the current one, or when it has
// been explicitly blocked. First-run (never-seen) signatures are never
// blocked.
func (c *Coordinator) IsTestBlocked(rc *runctx.RevContext, signature, currentCodeHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, blocked := blockedSignatures(rc)[signature]; blocked {
		return true
	}
	raw, ok := seenSignatures(rc)[signature]
	if !ok {
		return false
	}
	rec, ok := raw.(testSigRecord)
	if !ok {
		return false
	}
	lastCodeChangeIter, _ := rc.AgentState[runctx.StateKeyLastCodeChangeIteration].(int)
	return rec.SeenAt == lastCodeChangeIter && rec.CodeHash == currentCodeHash
}

// RecordTestSignature stores the signature's latest observation.
func (c *Coordinator) RecordTestSignature(rc *runctx.RevContext, signature string, passed bool, codeHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := seenSignatures(rc)
	seen[signature] = testSigRecord{CodeHash: codeHash, SeenAt: rc.CurrentIteration(), Passed: passed}
	rc.AgentState[runctx.StateKeySeenTestSignatures] = seen
}

// BlockTestSignature explicitly blocks a signature with a recorded reason.
func (c *Coordinator) BlockTestSignature(rc *runctx.RevContext, signature, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocked := blockedSignatures(rc)
	blocked[signature] = reason
	rc.AgentState[runctx.StateKeyBlockedTestSignatures] = blocked
}

// RecordCodeChange sets last_code_change_iteration to the current
// iteration and returns the freshly computed code-state hash, storing it
// as the new current_code_hash.
func (c *Coordinator) RecordCodeChange(rc *runctx.RevContext, modifiedFiles []string) (string, error) {
	hash, err := c.ComputeCodeStateHash(modifiedFiles)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rc.AgentState[runctx.StateKeyLastCodeChangeIteration] = rc.CurrentIteration()
	rc.AgentState["current_code_hash"] = hash
	return hash, nil
}

var failingTestFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`FAIL\s+(\S+\.go)`),
	regexp.MustCompile(`File "([^"]+\.py)"`),
	regexp.MustCompile(`at\s+([^\s()]+\.(?:js|ts))[:\s]`),
	regexp.MustCompile(`([^\s]+_test\.go):\d+`),
}

// GetFailingTestFile best-effort-scans a verification result's text for a
// file path associated with a failure.
func GetFailingTestFile(r Result) (string, bool) {
	haystacks := []string{r.Message, r.Details}
	for _, h := range haystacks {
		for _, p := range failingTestFilePatterns {
			if m := p.FindStringSubmatch(h); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}
