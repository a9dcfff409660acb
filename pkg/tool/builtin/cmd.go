package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/workspace"
)

// RunCmd executes a shell command inside the workspace root, returning a
// structured {rc, stdout, stderr} JSON body.
type RunCmd struct {
	Oracle  *workspace.Oracle
	Timeout time.Duration
}

type runCmdArgs struct {
	Cmd        string `json:"cmd" jsonschema:"required,description=Shell command line"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"description=Directory relative to the workspace to run in"`
}

func (r *RunCmd) Name() string { return "run_cmd" }

func (r *RunCmd) Info() tool.ToolInfo {
	return tool.ToolInfo{
		Name:        "run_cmd",
		Description: "Run a shell command inside the workspace and capture its exit code, stdout, and stderr.",
		Parameters:  tool.GenerateParameters[runCmdArgs](),
	}
}

type cmdOutput struct {
	RC     int    `json:"rc"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (r *RunCmd) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	start := time.Now()
	command, _ := args["cmd"].(string)
	if command == "" {
		return errResult(r.Name(), "cmd parameter is required", start), fmt.Errorf("cmd required")
	}

	workDir := r.Oracle.Root()
	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		abs, err := resolvePath(r.Oracle, wd, workspace.IntentExecute)
		if err != nil {
			return errResult(r.Name(), err.Error(), start), err
		}
		workDir = abs
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	rc := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			rc = -1
		}
	}

	out := cmdOutput{RC: rc, Stdout: stdout.String(), Stderr: stderr.String()}
	encoded, err := json.Marshal(out)
	if err != nil {
		return errResult(r.Name(), err.Error(), start), err
	}

	result := tool.Result{
		ToolName:      r.Name(),
		Success:       rc == 0,
		Output:        string(encoded),
		ExecutionTime: time.Since(start),
		Metadata:      map[string]any{"rc": rc},
	}
	if rc != 0 {
		result.Error = fmt.Sprintf("command exited with code %d", rc)
	}
	return result, nil
}
