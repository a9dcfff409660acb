package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"context"

	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/workspace"
)

// ApplyPatch applies a contextual patch to a file, either as an explicit
// old_string/new_string pair (safer than a blind replace_in_file for code
// edits) or as a unified-diff/`*** Begin Patch` body recovered by the
// text-tool shim. The match must be exact and unambiguous before
// anything is written.
type ApplyPatch struct {
	Oracle       *workspace.Oracle
	ContextLines int
}

func (a *ApplyPatch) Name() string { return "apply_patch" }
func (a *ApplyPatch) Writes()      {}

type applyPatchArgs struct {
	Path      string `json:"path,omitempty" jsonschema:"description=File path; required for the old_string/new_string form"`
	OldString string `json:"old_string,omitempty"`
	NewString string `json:"new_string,omitempty"`
	Patch     string `json:"patch,omitempty" jsonschema:"description=Unified diff or *** Begin Patch body"`
	DryRun    bool   `json:"dry_run,omitempty" jsonschema:"default=false"`
}

func (a *ApplyPatch) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "apply_patch",
		Description: "Apply a contextual patch to a file: either old_string/new_string, or a unified diff via the patch argument.",
		Parameters:  tool.GenerateParameters[applyPatchArgs](),
	}
}

func (a *ApplyPatch) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	dryRun, _ := args["dry_run"].(bool)

	if patch, ok := args["patch"].(string); ok && patch != "" {
		return a.executeDiff(patch, dryRun, start)
	}

	path, _ := args["path"].(string)
	oldString, _ := args["old_string"].(string)
	newString, _ := args["new_string"].(string)
	if path == "" || oldString == "" {
		return errResult(a.Name(), "path and old_string parameters are required", start), fmt.Errorf("missing parameters")
	}
	return a.applyContextual(path, oldString, newString, dryRun, start)
}

func (a *ApplyPatch) applyContextual(path, oldString, newString string, dryRun bool, start time.Time) (tool.Result, error) {
	abs, err := resolvePath(a.Oracle, path, workspace.IntentWrite)
	if err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}

	unlock := a.Oracle.Lock(abs)
	defer unlock()

	content, err := os.ReadFile(abs)
	if err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}
	original := string(content)

	count := strings.Count(original, oldString)
	if count == 0 {
		return errResult(a.Name(), "patch context not found in file; old_string must match exactly including whitespace", start), fmt.Errorf("patch not applicable")
	}
	if count > 1 {
		return errResult(a.Name(), fmt.Sprintf("ambiguous patch: old_string appears %d times", count), start), fmt.Errorf("ambiguous patch location")
	}

	newContent := strings.Replace(original, oldString, newString, 1)
	if dryRun {
		return okResult(a.Name(), fmt.Sprintf("dry run: patch to %s is applicable", path), start), nil
	}

	if err := os.WriteFile(abs+".bak", content, 0o644); err != nil {
		// Backups are best-effort; a failure here must not block the edit.
		_ = err
	}
	if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}
	return okResult(a.Name(), fmt.Sprintf("patch applied to %s", path), start), nil
}

// executeDiff parses a minimal unified-diff or `*** Begin Patch` body:
// the target path comes from a `+++ b/<path>` or `*** Update File: <path>`
// header, and contiguous `-`/`+` runs become the old_string/new_string pair
// fed through the same contextual-replace path as the direct form.
func (a *ApplyPatch) executeDiff(patch string, dryRun bool, start time.Time) (tool.Result, error) {
	path, oldString, newString, err := parseUnifiedDiff(patch)
	if err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}
	return a.applyContextual(path, oldString, newString, dryRun, start)
}

func parseUnifiedDiff(patch string) (path, oldString, newString string, err error) {
	lines := strings.Split(patch, "\n")
	var oldLines, newLines []string

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++ "):
			path = cleanDiffPath(strings.TrimPrefix(line, "+++ "))
		case strings.HasPrefix(line, "*** Update File:"), strings.HasPrefix(line, "*** Add File:"):
			path = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"), strings.HasPrefix(line, "***"):
			continue
		case strings.HasPrefix(line, "-"):
			oldLines = append(oldLines, strings.TrimPrefix(line, "-"))
		case strings.HasPrefix(line, "+"):
			newLines = append(newLines, strings.TrimPrefix(line, "+"))
		case strings.HasPrefix(line, " "):
			ctxLine := strings.TrimPrefix(line, " ")
			oldLines = append(oldLines, ctxLine)
			newLines = append(newLines, ctxLine)
		}
	}

	if path == "" {
		return "", "", "", fmt.Errorf("could not determine target file from patch header")
	}
	if len(oldLines) == 0 && len(newLines) == 0 {
		return "", "", "", fmt.Errorf("patch contained no hunks")
	}
	return path, strings.Join(oldLines, "\n"), strings.Join(newLines, "\n"), nil
}

func cleanDiffPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return filepath.ToSlash(p)
}
