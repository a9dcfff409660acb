// Package uncertainty implements the Uncertainty Detector: a
// weighted-signal score over a task's description, history, and
// verification result, deciding whether to auto-skip, request guidance,
// or proceed. Independent weighted signals are summed and then
// thresholded, the same confidence-scoring convention a reasoning engine
// uses for its own signal set.
package uncertainty

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/task"
	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/verify"
)

// Signal names the weighted factors a score breaks down into.
type Signal string

const (
	SignalPlannerHesitation        Signal = "planner_hesitation"
	SignalMultipleFiles            Signal = "multiple_files"
	SignalRepeatedFailure          Signal = "repeated_failure"
	SignalNoToolCalls              Signal = "no_tool_calls"
	SignalVerificationInconclusive Signal = "verification_inconclusive"
	SignalMissingFiles             Signal = "missing_files"
	SignalTimeoutUnclear           Signal = "timeout_unclear"
	SignalConflictingSignals       Signal = "conflicting_signals"
	SignalNoProgress               Signal = "no_progress"
)

// weights is the fixed per-signal weight table.
var weights = map[Signal]float64{
	SignalPlannerHesitation:        2,
	SignalMultipleFiles:            3,
	SignalRepeatedFailure:          5,
	SignalNoToolCalls:              4,
	SignalVerificationInconclusive: 3,
	SignalMissingFiles:             2,
	SignalTimeoutUnclear:           2,
	SignalConflictingSignals:       3,
	SignalNoProgress:               4,
}

// AutoSkipThreshold and GuidanceThreshold are the derived-decision cut
// points.
const (
	AutoSkipThreshold  = 10.0
	GuidanceThreshold  = 5.0
	researchMultiplier = 0.6
)

var researchActionPattern = regexp.MustCompile(`^(read|analyze|research|investigate|general|verify)$`)

// actionsEligibleForFileSignal is the action set eligible for the
// multiple_files uncertainty signal: distinct plausible file paths in the
// description for edit/refactor/add.
var actionsEligibleForFileSignal = map[tool.Action]bool{
	tool.ActionEdit:     true,
	tool.ActionRefactor: true,
	tool.ActionAdd:      true,
}

var hesitationPattern = regexp.MustCompile(`(?i)\b(could try|not sure|unclear|maybe|perhaps|i think)\b`)

// Input bundles everything one scoring pass over a task needs to
// evaluate each individual signal.
type Input struct {
	Task             *runctx.Task
	WorkspaceRoot    string
	RetryCount       int
	PriorErrors      []string
	VerificationResult verify.Result
	TimedOut         bool
	TimeoutHint      string
	ValidationRC     int
}

// Score is the weighted-sum result and its contributing signals.
type Score struct {
	Total   float64
	Signals map[Signal]bool
}

// AutoSkip reports whether the score crosses the auto-skip threshold.
func (s Score) AutoSkip() bool { return s.Total >= AutoSkipThreshold }

// NeedsGuidance reports whether the score crosses the guidance threshold
// (callers should check AutoSkip first, since the auto-skip threshold is
// the higher of the two).
func (s Score) NeedsGuidance() bool { return s.Total >= GuidanceThreshold }

// Compute evaluates every signal over in and returns the weighted score.
func Compute(in Input) Score {
	signals := map[Signal]bool{}

	if hesitationPattern.MatchString(in.Task.Description) {
		signals[SignalPlannerHesitation] = true
	}
	if actionsEligibleForFileSignal[in.Task.ActionType] && len(task.PlausibleFilePaths(in.Task.Description)) >= 2 {
		signals[SignalMultipleFiles] = true
	}
	if in.RetryCount >= 3 && hasTwoIdenticalPriorErrors(in.PriorErrors) {
		signals[SignalRepeatedFailure] = true
	}
	if in.RetryCount > 0 && len(in.Task.ToolEvents) == 0 {
		signals[SignalNoToolCalls] = true
	}
	if in.VerificationResult.Inconclusive {
		signals[SignalVerificationInconclusive] = true
	}
	if missingReferencedFiles(in.Task.Description, in.WorkspaceRoot) {
		signals[SignalMissingFiles] = true
	}
	if in.TimedOut && strings.TrimSpace(in.TimeoutHint) == "" {
		signals[SignalTimeoutUnclear] = true
	}
	if in.VerificationResult.Passed && in.ValidationRC != 0 {
		signals[SignalConflictingSignals] = true
	}
	if allIdentical(in.PriorErrors) && len(in.PriorErrors) > 1 {
		signals[SignalNoProgress] = true
	}

	total := 0.0
	for sig := range signals {
		total += weights[sig]
	}
	if researchActionPattern.MatchString(string(in.Task.ActionType)) {
		total *= researchMultiplier
	}

	return Score{Total: total, Signals: signals}
}

func hasTwoIdenticalPriorErrors(errs []string) bool {
	counts := map[string]int{}
	for _, e := range errs {
		counts[e]++
		if counts[e] >= 2 {
			return true
		}
	}
	return false
}

func allIdentical(errs []string) bool {
	if len(errs) == 0 {
		return false
	}
	first := errs[0]
	for _, e := range errs[1:] {
		if e != first {
			return false
		}
	}
	return true
}

func missingReferencedFiles(description, workspaceRoot string) bool {
	for _, p := range task.PlausibleFilePaths(description) {
		full := p
		if workspaceRoot != "" && !filepath.IsAbs(p) {
			full = filepath.Join(workspaceRoot, p)
		}
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return true
		}
	}
	return false
}
