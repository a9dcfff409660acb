// Command rev is the headless entry point for the agent orchestration
// core. It is a thin CLI shell: flag parsing and process
// lifecycle only. Every decision of substance — planning, verification,
// recovery, permission enforcement — lives in pkg/orchestrator and its
// collaborators.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/revkit/rev/pkg/artifact"
	"github.com/revkit/rev/pkg/checkpoint"
	"github.com/revkit/rev/pkg/config"
	"github.com/revkit/rev/pkg/contextbuilder"
	"github.com/revkit/rev/pkg/debuglog"
	"github.com/revkit/rev/pkg/ledger"
	"github.com/revkit/rev/pkg/orchestrator"
	"github.com/revkit/rev/pkg/permission"
	"github.com/revkit/rev/pkg/provider"
	"github.com/revkit/rev/pkg/recovery"
	"github.com/revkit/rev/pkg/redact"
	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/sessiontracker"
	"github.com/revkit/rev/pkg/task"
	"github.com/revkit/rev/pkg/telemetry"
	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/tool/builtin"
	"github.com/revkit/rev/pkg/verify"
	"github.com/revkit/rev/pkg/workspace"

	"github.com/google/uuid"
)

// CLI is the top-level flag/command surface.
type CLI struct {
	Run             RunCmd             `cmd:"" default:"withargs" help:"Run a task request through the orchestration loop."`
	Resume          ResumeCmd          `cmd:"" help:"Resume a run from a checkpoint."`
	ListCheckpoints ListCheckpointsCmd `cmd:"" name:"list-checkpoints" help:"List saved checkpoints."`
	Clean           CleanCmd           `cmd:"" help:"Remove the .rev persisted-state directory."`
	Version         VersionCmd         `cmd:"" help:"Show version information."`

	Model              string `help:"LLM model name." env:"REV_MODEL"`
	LLMProvider        string `name:"llm-provider" help:"Explicit provider name, overriding model-prefix auto-detection."`
	Workspace          string `help:"Workspace root directory." default:"." type:"path"`
	AllowExternalPaths bool   `name:"allow-external-paths" help:"Allow path resolution outside the workspace root."`
	Parallel           int    `help:"Number of concurrent workers for independent tasks." default:"1"`
	Review             bool   `negatable:"" default:"true" help:"Run the review phase before completion."`
	ReviewStrictness   string `name:"review-strictness" help:"lenient, moderate, or strict." default:"moderate"`
	Validate           bool   `negatable:"" default:"true" help:"Run the validation phase."`
	Orchestrate        bool   `negatable:"" default:"true" help:"Use the full orchestrator loop rather than a single task dispatch."`
	ExecutionMode      string `name:"execution-mode" help:"linear, sub-agent, or inline." default:"linear"`
	ToolMode           string `name:"tool-mode" help:"normal, auto-accept, or plan-only." default:"normal"`
	TrustWorkspace     bool   `name:"trust-workspace" help:"Skip the workspace trust prompt."`
	Yes                bool   `short:"y" help:"Auto-confirm scary operations."`
	Debug              bool   `help:"Enable the debug event log and full LLM transcript."`
	Prompt             string `help:"Task request, an alternative to trailing positional words."`
}

// runConfig builds a normalized RunConfig from the parsed flags plus
// taskWords (RunCmd's trailing positional argument), applying the
// documented precedence: an explicit --prompt wins over positional words.
func (c *CLI) runConfig(taskWords []string) config.RunConfig {
	prompt := c.Prompt
	if prompt == "" {
		prompt = strings.Join(taskWords, " ")
	}
	cfg := config.RunConfig{
		Model:              c.Model,
		LLMProvider:        c.LLMProvider,
		Workspace:          c.Workspace,
		AllowExternalPaths: c.AllowExternalPaths,
		Parallel:           c.Parallel,
		Review:             c.Review,
		ReviewStrictness:   config.ReviewStrictness(c.ReviewStrictness),
		Validate:           c.Validate,
		Orchestrate:        c.Orchestrate,
		ExecutionMode:      config.ExecutionMode(c.ExecutionMode),
		ToolMode:           config.ToolMode(c.ToolMode),
		Debug:              c.Debug,
		TrustWorkspace:     c.TrustWorkspace,
		Yes:                c.Yes,
		Prompt:             prompt,
	}
	cfg.SetDefaults()
	config.ApplyEnv(&cfg)
	return cfg
}

// revDir is the persisted-state layout root.
func revDir(workspaceRoot string) string { return filepath.Join(workspaceRoot, ".rev") }

// runtime bundles every wired collaborator a run needs, built once per
// invocation from a RunConfig.
type runtime struct {
	cfg         config.RunConfig
	oracle      *workspace.Oracle
	permissions *permission.Manager
	ledger      *ledger.Ledger
	redactor    *redact.Redactor
	artifacts   *artifact.Store
	tools       *tool.Registry
	tracker     *sessiontracker.Tracker
	log         *debuglog.Logger
	checkpoints *checkpoint.Manager
	providers   *provider.Registry
	sessionID   string
	metrics     *telemetry.Metrics
	tracerStop  func(context.Context) error
}

func wireRuntime(cfg config.RunConfig) (*runtime, error) {
	oracle, err := workspace.New(cfg.Workspace, cfg.AllowExternalPaths)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	policy := config.DefaultPermissivePolicy()
	if cfg.PermissionPolicyPath != "" {
		loaded, err := config.LoadPermissionPolicy(cfg.PermissionPolicyPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Warn("permission policy file not found, using permissive defaults", "path", cfg.PermissionPolicyPath)
			} else {
				return nil, fmt.Errorf("permission policy: %w", err)
			}
		} else {
			policy = loaded
		}
	}
	perms := permission.New(policy)

	base := revDir(oracle.Root())
	redactor := redact.New()
	artifacts, err := artifact.New(filepath.Join(base, "artifacts", "tool_outputs"), redactor,
		artifact.WithThreshold(cfg.ArtifactThreshold), artifact.WithMaxKeep(cfg.ToolOutputsMaxKeep))
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	ledgr := ledger.New()
	metrics := telemetry.NewMetrics()
	tools := tool.New(artifacts, ledgr, perms).SetMetrics(metrics)
	registerBuiltinTools(tools, oracle)

	sessionID := uuid.NewString()
	tracker := sessiontracker.New(sessionID)

	var logger *debuglog.Logger
	if cfg.Debug || config.LogAlways() {
		logger, err = debuglog.New(filepath.Join(base, "logs"), 50)
		if err != nil {
			return nil, fmt.Errorf("debug log: %w", err)
		}
		if cfg.Debug && !config.PrivateMode() {
			if err := logger.EnableTranscript(filepath.Join(base, "logs", "transcript.jsonl")); err != nil {
				return nil, fmt.Errorf("transcript log: %w", err)
			}
		}
	}
	tracerStop := telemetry.InitTracerProvider(cfg.Debug, logger)

	cp, err := checkpoint.New(filepath.Join(base, "checkpoints"))
	if err != nil {
		return nil, fmt.Errorf("checkpoint manager: %w", err)
	}

	return &runtime{
		cfg:         cfg,
		oracle:      oracle,
		permissions: perms,
		ledger:      ledgr,
		redactor:    redactor,
		artifacts:   artifacts,
		tools:       tools,
		tracker:     tracker,
		log:         logger,
		checkpoints: cp,
		providers:   provider.NewRegistry(),
		sessionID:   sessionID,
		metrics:     metrics,
		tracerStop:  tracerStop,
	}, nil
}

// registerBuiltinTools wires the fixed builtin tool set against oracle
//.
func registerBuiltinTools(reg *tool.Registry, oracle *workspace.Oracle) {
	must := func(t tool.Tool, internal bool) {
		if err := reg.Register(t, internal); err != nil {
			panic(fmt.Sprintf("registering builtin tool %q: %v", t.Name(), err))
		}
	}
	must(&builtin.WriteFile{Oracle: oracle}, false)
	must(&builtin.ReadFile{Oracle: oracle}, false)
	must(&builtin.AppendToFile{Oracle: oracle}, false)
	must(&builtin.ReplaceInFile{Oracle: oracle}, false)
	must(&builtin.DeleteFile{Oracle: oracle}, false)
	must(&builtin.MoveFile{Oracle: oracle}, false)
	must(&builtin.CopyFile{Oracle: oracle}, false)
	must(&builtin.CreateDirectory{Oracle: oracle}, false)
	must(&builtin.TreeView{Oracle: oracle}, false)
	must(&builtin.ApplyPatch{Oracle: oracle, ContextLines: 3}, false)
	must(&builtin.RunCmd{Oracle: oracle}, false)
}

// buildOrchestrator assembles the full central loop from
// an already-wired runtime plus the resolved Provider, returning the
// Orchestrator and the default role every action type dispatches to.
func (rt *runtime) buildOrchestrator(p provider.Provider, confirm orchestrator.ConfirmFunc) *orchestrator.Orchestrator {
	roles := task.NewRegistry()
	role := orchestrator.NewGenericAgentRole(p, rt.tools, contextbuilder.NewDefaultBuilder(), rt.tracker)
	role.Confirm = confirm
	role.SessionID = rt.sessionID
	role.Metrics = rt.metrics
	roles.SetDefault(role)

	runner := task.NewRunner(roles, rt.cfg.ToolMode == config.ToolModePlanOnly)
	vc := verify.New(rt.oracle.Root())
	rm := recovery.New()

	orch := orchestrator.New(runner, vc, rm, rt.tracker, rt.checkpoints, rt.log, rt.oracle.Root())
	orch.Metrics = rt.metrics
	orch.Parallel = rt.cfg.Parallel
	return orch
}

// resolveProvider looks up (or auto-detects) the Provider for cfg.Model,
// surfacing a clear error when none is registered: concrete LLM backends
// are an external collaborator this core only consumes, so a
// bare build of this binary ships the orchestration core with no backend
// wired in until one is registered against rt.providers.
func (rt *runtime) resolveProvider() (provider.Provider, error) {
	p, err := rt.providers.Resolve(rt.cfg.LLMProvider, rt.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("%w (this build registers no concrete LLM backend; "+
			"link one against pkg/provider.Provider and call Registry.Register before Run)", err)
	}
	return p, nil
}

func confirmFunc(autoYes bool) orchestrator.ConfirmFunc {
	return func(toolName, reason string) bool {
		if autoYes {
			return true
		}
		fmt.Fprintf(os.Stderr, "Confirm %s (%s)? [y/N] ", toolName, reason)
		var answer string
		_, _ = fmt.Scanln(&answer)
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

// installInterruptHandler sets up the process-wide escape flag: a single
// bit, set by SIGINT/SIGTERM, checked at every suspension point via the
// returned function.
func installInterruptHandler() func() bool {
	var tripped atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		tripped.Store(true)
	}()
	return tripped.Load
}

// RunCmd is the default command: `rev [flags] [task...]`.
type RunCmd struct {
	Task []string `arg:"" optional:"" help:"Natural-language task request, as trailing words."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg := cli.runConfig(c.Task)
	if cfg.Prompt == "" {
		return fmt.Errorf("rev run: no task request given (pass an argument or use --prompt)")
	}

	rt, err := wireRuntime(cfg)
	if err != nil {
		return err
	}
	if rt.log != nil {
		defer rt.log.Close()
	}
	defer rt.tracerStop(context.Background())

	p, err := rt.resolveProvider()
	if err != nil {
		return err
	}

	budget := config.ResourceBudget{MaxSteps: 200, MaxTokens: 2_000_000}
	plan := runctx.NewExecutionPlan([]*runctx.Task{
		{TaskID: "t1", Description: cfg.Prompt, ActionType: "research"},
	})
	rc := runctx.New(cfg.Prompt, budget, plan)

	orch := rt.buildOrchestrator(p, confirmFunc(cfg.Yes))
	orch.Interrupted = installInterruptHandler()

	ctx := context.Background()
	runErr := orch.Run(ctx, rc, func(g orchestrator.GuidanceRequest) bool {
		fmt.Fprintf(os.Stderr, "guidance requested for task %s: %s\n", g.TaskID, g.Reason)
		return cfg.Yes // auto-accept guidance under -y; otherwise stop the run.
	})

	fmt.Println(rt.tracker.ConciseSummary())

	if runErr != nil {
		if hint, cpErr := rt.checkpoints.OnInterrupt(invocationHint(), rc); cpErr == nil {
			fmt.Fprintf(os.Stderr, "Resume with: %s\n", hint)
		}
		return runErr
	}
	if rc.CurrentPhase == runctx.PhaseFailed {
		os.Exit(1)
	}
	return nil
}

func invocationHint() string {
	return strings.Join(append([]string{filepath.Base(os.Args[0])}, os.Args[1:]...), " ")
}

// ResumeCmd implements `--resume [PATH] [--resume-continue]` as a
// subcommand.
type ResumeCmd struct {
	Path     string `arg:"" optional:"" help:"Checkpoint path; defaults to the latest checkpoint."`
	Continue bool   `name:"continue" help:"Reset Stopped tasks to Pending and resume execution rather than only hydrating."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	cfg := cli.runConfig(nil)
	rt, err := wireRuntime(cfg)
	if err != nil {
		return err
	}
	if rt.log != nil {
		defer rt.log.Close()
	}
	defer rt.tracerStop(context.Background())

	path := c.Path
	if path == "" {
		found, ok := rt.checkpoints.FindLatestCheckpoint()
		if !ok {
			return fmt.Errorf("rev resume: no checkpoint found under %s", revDir(rt.oracle.Root()))
		}
		path = found
	}

	plan, agentState, err := checkpoint.LoadCheckpoint(path)
	if err != nil {
		return err
	}

	mode := checkpoint.ResumeLoadOnly
	if c.Continue {
		mode = checkpoint.ResumeContinue
	}
	checkpoint.ApplyResumeMode(plan, mode)

	rc := runctx.New(cfg.Prompt, config.ResourceBudget{MaxSteps: 200, MaxTokens: 2_000_000}, plan)
	rc.AgentState = agentState

	if mode == checkpoint.ResumeLoadOnly {
		fmt.Printf("Loaded checkpoint %s (%d tasks, phase %s); not resuming execution (pass --resume-continue to continue).\n",
			path, len(plan.Tasks), rc.CurrentPhase)
		return nil
	}

	p, err := rt.resolveProvider()
	if err != nil {
		return err
	}
	orch := rt.buildOrchestrator(p, confirmFunc(cfg.Yes))
	orch.Interrupted = installInterruptHandler()

	runErr := orch.Run(context.Background(), rc, func(g orchestrator.GuidanceRequest) bool {
		fmt.Fprintf(os.Stderr, "guidance requested for task %s: %s\n", g.TaskID, g.Reason)
		return false
	})
	fmt.Println(rt.tracker.ConciseSummary())
	return runErr
}

// ListCheckpointsCmd implements `--list-checkpoints`.
type ListCheckpointsCmd struct{}

func (c *ListCheckpointsCmd) Run(cli *CLI) error {
	cfg := cli.runConfig(nil)
	oracle, err := workspace.New(cfg.Workspace, cfg.AllowExternalPaths)
	if err != nil {
		return err
	}
	cp, err := checkpoint.New(filepath.Join(revDir(oracle.Root()), "checkpoints"))
	if err != nil {
		return err
	}
	entries, err := cp.ListCheckpoints()
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%d tasks\t%s\n", e.Filename, e.Timestamp, e.TasksTotal, e.Summary)
	}
	return nil
}

// CleanCmd implements `--clean`: removes the persisted-state directory.
type CleanCmd struct {
	Force bool `help:"Skip the confirmation prompt."`
}

func (c *CleanCmd) Run(cli *CLI) error {
	cfg := cli.runConfig(nil)
	oracle, err := workspace.New(cfg.Workspace, cfg.AllowExternalPaths)
	if err != nil {
		return err
	}
	dir := revDir(oracle.Root())
	if !c.Force {
		fmt.Printf("Remove %s? [y/N] ", dir)
		var answer string
		_, _ = fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("aborted")
			return nil
		}
	}
	return os.RemoveAll(dir)
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println("rev (agent orchestration core) dev")
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("loading .env files", "error", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("rev"),
		kong.Description("Drives LLM-assisted software engineering tasks inside a repository."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the closed exit-code set: 0 success
// (never reached here), 1 task failure/abort, 2 bad invocation.
func exitCodeFor(err error) int {
	if strings.Contains(err.Error(), "no task request given") {
		return 2
	}
	return 1
}
