// Package builtin implements the fixed set of filesystem and shell tools
// the orchestration core ships with, each validated against the workspace
// path oracle before touching disk.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/workspace"
)

const maxFileSize = 10 * 1024 * 1024 // 10MB safety ceiling

func resolvePath(oracle *workspace.Oracle, raw string, intent workspace.Intent) (string, error) {
	path, ok := oracle.Resolve(raw, intent)
	if !ok {
		return "", fmt.Errorf("path %q escapes the workspace root or is not allow-listed", raw)
	}
	return path, nil
}

func errResult(name, msg string, start time.Time) tool.Result {
	return tool.Result{Success: false, ToolName: name, Error: msg, ExecutionTime: time.Since(start)}
}

func okResult(name, output string, start time.Time) tool.Result {
	return tool.Result{Success: true, ToolName: name, Output: output, ExecutionTime: time.Since(start)}
}

// WriteFile creates or overwrites a file, with a .bak backup on overwrite
// by default.
type WriteFile struct{ Oracle *workspace.Oracle }

// writeFileArgs is reflected into WriteFile's ToolInfo.Parameters via
// tool.GenerateParameters, deriving a provider-facing schema from a Go
// struct's jsonschema tags.
type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the workspace"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
	Backup  bool   `json:"backup,omitempty" jsonschema:"description=Create a .bak backup if the file exists,default=true"`
}

func (w *WriteFile) Name() string { return "write_file" }
func (w *WriteFile) Writes()      {}

func (w *WriteFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "write_file",
		Description: "Create a new file or overwrite an existing file with content.",
		Parameters:  tool.GenerateParameters[writeFileArgs](),
	}
}

func (w *WriteFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return errResult(w.Name(), "path parameter is required", start), fmt.Errorf("path required")
	}
	abs, err := resolvePath(w.Oracle, path, workspace.IntentWrite)
	if err != nil {
		return errResult(w.Name(), err.Error(), start), err
	}
	if len(content) > maxFileSize {
		return errResult(w.Name(), "content exceeds maximum file size", start), fmt.Errorf("file too large")
	}

	backup := true
	if b, ok := args["backup"].(bool); ok {
		backup = b
	}
	if backup {
		if _, statErr := os.Stat(abs); statErr == nil {
			data, rerr := os.ReadFile(abs)
			if rerr == nil {
				_ = os.WriteFile(abs+".bak", data, 0o644)
			}
		}
	}

	unlock := w.Oracle.Lock(abs)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errResult(w.Name(), err.Error(), start), err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return errResult(w.Name(), err.Error(), start), err
	}
	return okResult(w.Name(), fmt.Sprintf("wrote %d bytes to %s", len(content), path), start), nil
}

// ReadFile returns the content of a file.
type ReadFile struct{ Oracle *workspace.Oracle }

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=File path relative to the workspace"`
}

func (r *ReadFile) Name() string { return "read_file" }

func (r *ReadFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "read_file",
		Description: "Read the content of a file.",
		Parameters:  tool.GenerateParameters[readFileArgs](),
	}
}

func (r *ReadFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	if path == "" {
		return errResult(r.Name(), "path parameter is required", start), fmt.Errorf("path required")
	}
	abs, err := resolvePath(r.Oracle, path, workspace.IntentRead)
	if err != nil {
		return errResult(r.Name(), err.Error(), start), err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return errResult(r.Name(), err.Error(), start), err
	}
	return okResult(r.Name(), string(data), start), nil
}

// AppendToFile appends content to the end of an existing (or new) file.
type AppendToFile struct{ Oracle *workspace.Oracle }

func (a *AppendToFile) Name() string { return "append_to_file" }
func (a *AppendToFile) Writes()      {}

type appendToFileArgs struct {
	Path    string `json:"path" jsonschema:"required"`
	Content string `json:"content" jsonschema:"required"`
}

func (a *AppendToFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "append_to_file",
		Description: "Append content to the end of a file, creating it if absent.",
		Parameters:  tool.GenerateParameters[appendToFileArgs](),
	}
}

func (a *AppendToFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return errResult(a.Name(), "path parameter is required", start), fmt.Errorf("path required")
	}
	abs, err := resolvePath(a.Oracle, path, workspace.IntentWrite)
	if err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}

	unlock := a.Oracle.Lock(abs)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return errResult(a.Name(), err.Error(), start), err
	}
	return okResult(a.Name(), fmt.Sprintf("appended %d bytes to %s", len(content), path), start), nil
}

// ReplaceInFile performs an exact find-and-replace, failing loudly when the
// target string is not found or is ambiguous (more than one occurrence with
// replace_all unset) rather than guessing which occurrence was meant.
type ReplaceInFile struct{ Oracle *workspace.Oracle }

func (r *ReplaceInFile) Name() string { return "replace_in_file" }
func (r *ReplaceInFile) Writes()      {}

type replaceInFileArgs struct {
	Path       string `json:"path" jsonschema:"required"`
	OldText    string `json:"old_text" jsonschema:"required"`
	NewText    string `json:"new_text" jsonschema:"required"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"default=false"`
}

func (r *ReplaceInFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "replace_in_file",
		Description: "Replace an exact substring within a file.",
		Parameters:  tool.GenerateParameters[replaceInFileArgs](),
	}
}

func (r *ReplaceInFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	replaceAll, _ := args["replace_all"].(bool)
	if path == "" || oldText == "" {
		return errResult(r.Name(), "path and old_text parameters are required", start), fmt.Errorf("missing parameters")
	}
	abs, err := resolvePath(r.Oracle, path, workspace.IntentWrite)
	if err != nil {
		return errResult(r.Name(), err.Error(), start), err
	}

	unlock := r.Oracle.Lock(abs)
	defer unlock()

	data, err := os.ReadFile(abs)
	if err != nil {
		return errResult(r.Name(), err.Error(), start), err
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if count == 0 {
		return errResult(r.Name(), "old_text not found in file", start), fmt.Errorf("no match")
	}
	if count > 1 && !replaceAll {
		return errResult(r.Name(), fmt.Sprintf("old_text matches %d times; pass replace_all to replace them all", count), start), fmt.Errorf("ambiguous match")
	}

	var replaced string
	if replaceAll {
		replaced = strings.ReplaceAll(content, oldText, newText)
	} else {
		replaced = strings.Replace(content, oldText, newText, 1)
	}
	if err := os.WriteFile(abs, []byte(replaced), 0o644); err != nil {
		return errResult(r.Name(), err.Error(), start), err
	}
	return okResult(r.Name(), fmt.Sprintf("replaced %d occurrence(s) in %s", count, path), start), nil
}

// DeleteFile removes a file.
type DeleteFile struct{ Oracle *workspace.Oracle }

func (d *DeleteFile) Name() string { return "delete_file" }
func (d *DeleteFile) Writes()      {}

type deleteFileArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

func (d *DeleteFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "delete_file",
		Description: "Delete a file.",
		Parameters:  tool.GenerateParameters[deleteFileArgs](),
	}
}

func (d *DeleteFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	if path == "" {
		return errResult(d.Name(), "path parameter is required", start), fmt.Errorf("path required")
	}
	abs, err := resolvePath(d.Oracle, path, workspace.IntentWrite)
	if err != nil {
		return errResult(d.Name(), err.Error(), start), err
	}
	unlock := d.Oracle.Lock(abs)
	defer unlock()
	if err := os.Remove(abs); err != nil {
		return errResult(d.Name(), err.Error(), start), err
	}
	return okResult(d.Name(), fmt.Sprintf("deleted %s", path), start), nil
}

// MoveFile renames/moves a file within the workspace.
type MoveFile struct{ Oracle *workspace.Oracle }

func (m *MoveFile) Name() string { return "move_file" }
func (m *MoveFile) Writes()      {}

type moveFileArgs struct {
	Src string `json:"src" jsonschema:"required"`
	Dst string `json:"dst" jsonschema:"required"`
}

func (m *MoveFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "move_file",
		Description: "Move or rename a file within the workspace.",
		Parameters:  tool.GenerateParameters[moveFileArgs](),
	}
}

func (m *MoveFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	src, _ := args["src"].(string)
	dst, _ := args["dst"].(string)
	if src == "" || dst == "" {
		return errResult(m.Name(), "src and dst parameters are required", start), fmt.Errorf("missing parameters")
	}
	absSrc, err := resolvePath(m.Oracle, src, workspace.IntentWrite)
	if err != nil {
		return errResult(m.Name(), err.Error(), start), err
	}
	absDst, err := resolvePath(m.Oracle, dst, workspace.IntentWrite)
	if err != nil {
		return errResult(m.Name(), err.Error(), start), err
	}
	unlockSrc := m.Oracle.Lock(absSrc)
	defer unlockSrc()
	unlockDst := m.Oracle.Lock(absDst)
	defer unlockDst()

	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return errResult(m.Name(), err.Error(), start), err
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return errResult(m.Name(), err.Error(), start), err
	}
	return okResult(m.Name(), fmt.Sprintf("moved %s to %s", src, dst), start), nil
}

// CopyFile duplicates a file within the workspace.
type CopyFile struct{ Oracle *workspace.Oracle }

func (c *CopyFile) Name() string { return "copy_file" }
func (c *CopyFile) Writes()      {}

type copyFileArgs struct {
	Src string `json:"src" jsonschema:"required"`
	Dst string `json:"dst" jsonschema:"required"`
}

func (c *CopyFile) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "copy_file",
		Description: "Copy a file within the workspace.",
		Parameters:  tool.GenerateParameters[copyFileArgs](),
	}
}

func (c *CopyFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	src, _ := args["src"].(string)
	dst, _ := args["dst"].(string)
	if src == "" || dst == "" {
		return errResult(c.Name(), "src and dst parameters are required", start), fmt.Errorf("missing parameters")
	}
	absSrc, err := resolvePath(c.Oracle, src, workspace.IntentRead)
	if err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	absDst, err := resolvePath(c.Oracle, dst, workspace.IntentWrite)
	if err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	data, err := os.ReadFile(absSrc)
	if err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	unlock := c.Oracle.Lock(absDst)
	defer unlock()
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	if err := os.WriteFile(absDst, data, 0o644); err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	return okResult(c.Name(), fmt.Sprintf("copied %s to %s", src, dst), start), nil
}

// CreateDirectory makes a directory (and parents) within the workspace.
type CreateDirectory struct{ Oracle *workspace.Oracle }

func (c *CreateDirectory) Name() string { return "create_directory" }
func (c *CreateDirectory) Writes()      {}

type createDirectoryArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

func (c *CreateDirectory) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "create_directory",
		Description: "Create a directory, including any missing parents.",
		Parameters:  tool.GenerateParameters[createDirectoryArgs](),
	}
}

func (c *CreateDirectory) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	if path == "" {
		return errResult(c.Name(), "path parameter is required", start), fmt.Errorf("path required")
	}
	abs, err := resolvePath(c.Oracle, path, workspace.IntentWrite)
	if err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return errResult(c.Name(), err.Error(), start), err
	}
	return okResult(c.Name(), fmt.Sprintf("created directory %s", path), start), nil
}

// TreeView renders a shallow directory listing, used by the thought-loop
// breaker to force a concrete read action.
type TreeView struct{ Oracle *workspace.Oracle }

func (t *TreeView) Name() string { return "tree_view" }

type treeViewArgs struct {
	Path     string `json:"path,omitempty" jsonschema:"default=."`
	MaxDepth int    `json:"max_depth,omitempty" jsonschema:"default=2"`
}

func (t *TreeView) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "tree_view",
		Description: "List files and directories under a path, up to a depth limit.",
		Parameters:  tool.GenerateParameters[treeViewArgs](),
	}
}

func (t *TreeView) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	maxDepth := 2
	if d, ok := args["max_depth"].(int); ok {
		maxDepth = d
	} else if d, ok := args["max_depth"].(float64); ok {
		maxDepth = int(d)
	}

	abs, err := resolvePath(t.Oracle, path, workspace.IntentRead)
	if err != nil {
		return errResult(t.Name(), err.Error(), start), err
	}

	var b strings.Builder
	root := t.Oracle.Root()
	werr := filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		depth := strings.Count(rel, string(filepath.Separator))
		if depth > maxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		indent := strings.Repeat("  ", depth)
		name := info.Name()
		if info.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&b, "%s%s\n", indent, name)
		return nil
	})
	if werr != nil {
		return errResult(t.Name(), werr.Error(), start), werr
	}
	return okResult(t.Name(), b.String(), start), nil
}
