package tool

import (
	"strings"

	"github.com/hbollon/go-edlib"
)

// Action is a canonical verb classifying a Task.
type Action string

const (
	ActionAdd             Action = "add"
	ActionEdit            Action = "edit"
	ActionDelete          Action = "delete"
	ActionRename          Action = "rename"
	ActionMove            Action = "move"
	ActionRefactor        Action = "refactor"
	ActionTest            Action = "test"
	ActionRead            Action = "read"
	ActionResearch        Action = "research"
	ActionAnalyze         Action = "analyze"
	ActionCreateDirectory Action = "create_directory"
	ActionRun             Action = "run"
	ActionExecute         Action = "execute"
)

// canonicalActions is the closed set the normalizer resolves into.
var canonicalActions = []Action{
	ActionAdd, ActionEdit, ActionDelete, ActionRename, ActionMove,
	ActionRefactor, ActionTest, ActionRead, ActionResearch, ActionAnalyze,
	ActionCreateDirectory, ActionRun, ActionExecute,
}

// aliasTable maps free-form or tool-shaped tokens to a canonical action.
// Exact match is tried before fuzzy matching.
var aliasTable = map[string]Action{
	"create":        ActionAdd,
	"new":           ActionAdd,
	"write":         ActionAdd,
	"write_file":    ActionAdd,
	"append":        ActionAdd,
	"append_file":   ActionAdd,
	"modify":        ActionEdit,
	"update":        ActionEdit,
	"change":        ActionEdit,
	"patch":         ActionEdit,
	"apply_patch":   ActionEdit,
	"replace":       ActionEdit,
	"fix":           ActionEdit,
	"debug":         ActionEdit,
	"remove":        ActionDelete,
	"delete_file":   ActionDelete,
	"rm":            ActionDelete,
	"mv":            ActionMove,
	"move_file":     ActionMove,
	"relocate":      ActionMove,
	"restructure":   ActionRefactor,
	"cleanup":       ActionRefactor,
	"test":          ActionTest,
	"run_tests":     ActionTest,
	"verify":        ActionRead,
	"review":        ActionRead,
	"read_file":     ActionRead,
	"view":          ActionRead,
	"inspect":       ActionRead,
	"investigate":   ActionResearch,
	"search":        ActionResearch,
	"search_code":   ActionResearch,
	"find":          ActionResearch,
	"explore":       ActionResearch,
	"general":       ActionResearch,
	"analyse":       ActionAnalyze,
	"review_code":   ActionAnalyze,
	"mkdir":         ActionCreateDirectory,
	"create_dir":    ActionCreateDirectory,
	"run_cmd":       ActionRun,
	"exec":          ActionExecute,
	"execute_cmd":   ActionExecute,
}

const (
	fuzzyRatioThreshold    = 0.86
	fuzzyLenientThreshold  = 0.74
	fuzzyMaxLengthDiff     = 4
)

// NormalizeAction maps a free-form token to a canonical Action. Exact canonical tokens and alias-table entries are returned
// verbatim; otherwise bounded fuzzy matching (Ratcliff/Obershelp) is tried;
// unknown tokens pass through unchanged.
func NormalizeAction(raw string) Action {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return Action(raw)
	}

	for _, a := range canonicalActions {
		if string(a) == token {
			return a
		}
	}
	if a, ok := aliasTable[token]; ok {
		return a
	}

	best := Action(raw)
	bestRatio := 0.0
	for _, a := range canonicalActions {
		ratio, err := edlib.RatcliffObershelp(token, string(a))
		if err != nil {
			continue
		}
		if ratio >= fuzzyRatioThreshold {
			return a
		}
		if ratio >= fuzzyLenientThreshold &&
			sameLeadingChar(token, string(a)) &&
			lengthDiff(token, string(a)) <= fuzzyMaxLengthDiff &&
			ratio > bestRatio {
			best = a
			bestRatio = ratio
		}
	}
	if bestRatio > 0 {
		return best
	}
	return Action(raw)
}

func sameLeadingChar(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a[0] == b[0]
}

func lengthDiff(a, b string) int {
	d := len(a) - len(b)
	if d < 0 {
		d = -d
	}
	return d
}

// writeActions is the set of action types that require a write-capable
// tool event to have occurred for the owning task to be Completed.
var writeActions = map[Action]bool{
	ActionAdd:             true,
	"create":              true,
	"debug":                true,
	ActionEdit:            true,
	ActionRefactor:        true,
	ActionDelete:          true,
	ActionRename:          true,
	ActionMove:            true,
	"fix":                 true,
	ActionCreateDirectory: true,
}

// IsWriteAction reports whether a is in the write-action set.
func IsWriteAction(a Action) bool { return writeActions[a] }

// writeToolSet is the set of builtin tool names that mutate the filesystem.
var writeToolSet = map[string]bool{
	"write_file":       true,
	"append_to_file":   true,
	"replace_in_file":  true,
	"apply_patch":      true,
	"delete_file":      true,
	"move_file":        true,
	"copy_file":        true,
	"create_directory": true,
}

// RegisterWriteTool extends the write-tool set, used for registered
// refactor tools supplied outside the builtin package.
func RegisterWriteTool(name string) { writeToolSet[name] = true }

// IsWriteTool reports whether name is in the write-tool set.
func IsWriteTool(name string) bool { return writeToolSet[name] }

// HasWriteTool reports whether any of names is write-capable.
func HasWriteTool(names []string) bool {
	for _, n := range names {
		if IsWriteTool(n) {
			return true
		}
	}
	return false
}

// AllowedToolsForAction returns the write-tool subset when a is a write
// action, or nil (no constraint) otherwise.
func AllowedToolsForAction(a Action) []string {
	if !IsWriteAction(a) {
		return nil
	}
	names := make([]string, 0, len(writeToolSet))
	for n := range writeToolSet {
		names = append(names, n)
	}
	return names
}
