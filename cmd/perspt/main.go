// perspt is an autonomous code-modification agent. It decomposes a task
// into a plan, speculates changes node by node, verifies each change
// against an energy threshold, and commits accepted changes to a
// tamper-evident ledger.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/eonseed/perspt/internal/config"
	"github.com/eonseed/perspt/internal/control"
	"github.com/eonseed/perspt/internal/diagnostics"
	"github.com/eonseed/perspt/internal/fs"
	"github.com/eonseed/perspt/internal/ledger"
	"github.com/eonseed/perspt/internal/llm"
	"github.com/eonseed/perspt/internal/lockfile"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/orchestrator"
	"github.com/eonseed/perspt/internal/policy"
	"github.com/eonseed/perspt/internal/retriever"
	"github.com/eonseed/perspt/internal/sandbox"
	"github.com/eonseed/perspt/internal/session"
	"github.com/eonseed/perspt/internal/tools"
	"github.com/eonseed/perspt/internal/verify"
)

const usage = `usage: perspt <command> [flags]

commands:
  agent   run a task:            perspt agent [flags] "<task>"
  resume  continue a stored run: perspt resume -id <run-id>
  status  query a running agent
  abort   stop a running agent
  runs    list stored runs for this workspace
  ledger  inspect the change ledger: recent | stats | verify | rollback <hash>
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command given")
	}

	switch os.Args[1] {
	case "agent":
		return runAgent(os.Args[2:], "")
	case "resume":
		return runResume(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "abort":
		return runAbort(os.Args[2:])
	case "runs":
		return runList(os.Args[2:])
	case "ledger":
		return runLedger(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

// agentFlags holds the flags shared by agent and resume
type agentFlags struct {
	dir        string
	mode       string
	configPath string
	policyPath string
	testCmd    string
	logLevel   string
	noLandlock bool
	runID      string
}

func parseAgentFlags(name string, args []string) (*agentFlags, []string, error) {
	fl := flag.NewFlagSet(name, flag.ContinueOnError)
	opts := &agentFlags{}
	fl.StringVar(&opts.dir, "dir", "", "workspace directory (default: current directory)")
	fl.StringVar(&opts.mode, "mode", "", "execution mode: cautious, balanced or yolo")
	fl.StringVar(&opts.configPath, "config", "", "config file path")
	fl.StringVar(&opts.policyPath, "policy", "", "policy rules file")
	fl.StringVar(&opts.testCmd, "test-cmd", "", "verification test command")
	fl.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fl.BoolVar(&opts.noLandlock, "no-landlock", false, "skip kernel sandboxing of the agent process")
	fl.StringVar(&opts.runID, "id", "", "run id")
	if err := fl.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fl.Args(), nil
}

func loadConfig(opts *agentFlags) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.dir != "" {
		cfg.WorkingDir = opts.dir
	}
	if cfg.WorkingDir == "" || cfg.WorkingDir == "." {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkingDir = wd
		}
	}
	if opts.mode != "" {
		cfg.Mode = opts.mode
	}
	if opts.policyPath != "" {
		cfg.PolicyPath = opts.policyPath
	}
	if opts.testCmd != "" {
		cfg.TestCommand = opts.testCmd
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if envLevel := strings.TrimSpace(os.Getenv("PERSPT_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if opts.noLandlock {
		cfg.Sandbox.DisableLandlock = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// workspaceStateDir is where a workspace keeps its ledger and control
// socket
func workspaceStateDir(workingDir string) string {
	return filepath.Join(workingDir, ".perspt")
}

func runAgent(args []string, resumeID string) error {
	opts, rest, err := parseAgentFlags("agent", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	var task string
	if resumeID == "" {
		if len(rest) == 0 {
			return errors.New("agent requires a task argument")
		}
		task = strings.Join(rest, " ")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("perspt starting in %s (mode %s)", cfg.WorkingDir, cfg.Mode)

	stateDir := workspaceStateDir(cfg.WorkingDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(stateDir, "agent.lock"))
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			logger.Warn("failed to release workspace lock: %v", releaseErr)
		}
	}()

	// Kernel-level sandboxing applies to this process and everything it
	// spawns. It must happen before any tool runs.
	if !cfg.Sandbox.DisableLandlock {
		if err := sandbox.Harden(cfg.WorkingDir, cfg.Sandbox.WritablePaths); err != nil {
			return fmt.Errorf("failed to harden process: %w", err)
		}
	}

	fsys := fs.NewCachedFS(cfg.WorkingDir, time.Minute, 256)
	defer fsys.Close()

	exec, err := sandbox.NewExecutor(cfg.WorkingDir, sandbox.Config{
		Timeout:     time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
		OutputLimit: cfg.Sandbox.OutputLimitBytes,
		AllowedEnv:  cfg.Sandbox.AllowedEnv,
	})
	if err != nil {
		return err
	}

	engine, err := policy.LoadRules(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	led, err := ledger.Open(filepath.Join(stateDir, "ledger.db"))
	if err != nil {
		return err
	}
	defer led.Close()

	router, err := llm.NewRouterFromConfig(cfg.Tiers)
	if err != nil {
		return err
	}

	store, err := session.NewStore(filepath.Join(cfg.StateDir, "runs"))
	if err != nil {
		return err
	}

	var sess *session.Session
	if resumeID != "" {
		sess, err = store.Load(cfg.WorkingDir, resumeID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", resumeID, err)
		}
		if sess.GetStatus() == session.StatusCompleted {
			return fmt.Errorf("run %s already completed", resumeID)
		}
		sess.SetStatus(session.StatusRunning)
		task = sess.Task
		fmt.Printf("Resuming run %s: %s\n", sess.ID, task)
	} else {
		sess = session.New(session.NewRunID(), task, cfg.WorkingDir, cfg.Mode)
		fmt.Printf("Run %s: %s\n", sess.ID, task)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := control.NewServer(control.SocketPath(stateDir), sess, led, fsys, cancel)
	if err := srv.Start(ctx); err != nil {
		logger.Warn("control server unavailable: %v", err)
	} else {
		defer srv.Stop()
	}

	confirmer := stdinConfirmer()
	executor := tools.NewExecutor(engine, exec, retriever.New(fsys), fsys, promptConfirmer(confirmer))
	verifier := verify.NewRunner(exec, diagnosticsClient(cfg), cfg.TestCommand)

	orch := orchestrator.New(cfg, sess, router, executor, verifier, led, fsys, commitConfirmer(confirmer), store)
	if err := orch.Run(ctx, task); err != nil {
		return err
	}

	fmt.Println(sess.Summary())
	return nil
}

func runResume(args []string) error {
	opts, _, err := parseAgentFlags("resume", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.runID == "" {
		return errors.New("resume requires -id <run-id>")
	}
	return runAgent(args, opts.runID)
}

// diagnosticsClient picks the configured analyzer, falling back to
// tree-sitter syntax checking
func diagnosticsClient(cfg *config.Config) diagnostics.Client {
	if cfg.DiagnosticsCommand != "" {
		return diagnostics.NewCommandClient(cfg.DiagnosticsCommand, cfg.WorkingDir)
	}
	return diagnostics.NewSyntaxChecker()
}

// stdinConfirmer asks yes/no questions on the terminal
func stdinConfirmer() func(prompt string) (bool, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (bool, error) {
		fmt.Printf("%s [y/N]: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func promptConfirmer(ask func(string) (bool, error)) tools.ConfirmFunc {
	return func(ctx context.Context, action policy.Action, reason string, warnings []string) (bool, error) {
		fmt.Printf("\nPolicy requires confirmation (%s):\n  %s %s\n", reason, action.Kind, action.Target)
		for _, w := range warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return ask("Allow this action?")
	}
}

func commitConfirmer(ask func(string) (bool, error)) orchestrator.CommitConfirmFunc {
	return func(ctx context.Context, nodeID, summary, diffText string) (bool, error) {
		fmt.Printf("\nNode %s is ready to commit: %s\n%s\n", nodeID, summary, diffText)
		return ask("Commit this change?")
	}
}

func runStatus(args []string) error {
	client, err := dialWorkspace(args)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Status(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("run:    %s\ntask:   %s\nstatus: %s\nmode:   %s\nsteps:  %d\nspent:  $%.4f\n",
		status.RunID, status.Task, status.Status, status.Mode, status.Steps, status.SpentUSD)
	if status.LedgerHead != "" {
		fmt.Printf("head:   %s\n", status.LedgerHead)
	}
	return nil
}

func runAbort(args []string) error {
	client, err := dialWorkspace(args)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Abort(context.Background()); err != nil {
		return err
	}
	fmt.Println("abort requested")
	return nil
}

func dialWorkspace(args []string) (*control.Client, error) {
	opts, _, err := parseAgentFlags("status", args)
	if err != nil {
		return nil, err
	}
	dir := opts.dir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	client, err := control.Dial(control.SocketPath(workspaceStateDir(dir)))
	if err != nil {
		return nil, fmt.Errorf("no agent running in %s: %w", dir, err)
	}
	return client, nil
}

func runList(args []string) error {
	opts, _, err := parseAgentFlags("runs", args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	store, err := session.NewStore(filepath.Join(cfg.StateDir, "runs"))
	if err != nil {
		return err
	}
	runs, err := store.List(cfg.WorkingDir)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no stored runs for this workspace")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%-24s %-10s %s  %s\n", r.ID, r.Status, r.UpdatedAt.Format(time.RFC3339), r.Task)
	}
	return nil
}

func runLedger(args []string) error {
	if len(args) == 0 {
		return errors.New("ledger requires a subcommand: recent, stats, verify or rollback")
	}
	sub, rest := args[0], args[1:]

	opts, rest, err := parseAgentFlags("ledger", rest)
	if err != nil {
		return err
	}
	dir := opts.dir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	led, err := ledger.Open(filepath.Join(workspaceStateDir(dir), "ledger.db"))
	if err != nil {
		return err
	}
	defer led.Close()

	switch sub {
	case "recent":
		entries, err := led.Recent(20)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%4d  %s  %-8s  %-12s  V=%.3f  %s\n",
				e.Seq, e.Timestamp.Format(time.RFC3339), e.Kind, e.NodeID, e.Energy, e.Summary)
		}
		return nil

	case "stats":
		stats, err := led.Stats()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case "verify":
		if err := led.VerifyChain(); err != nil {
			return err
		}
		_, seq := led.Head()
		fmt.Printf("chain verified: %d entries intact\n", seq)
		return nil

	case "rollback":
		if len(rest) == 0 {
			return errors.New("rollback requires an entry hash")
		}
		entry, err := led.Rollback(rest[0])
		if err != nil {
			return err
		}
		fsys := fs.NewCachedFS(dir, time.Minute, 64)
		defer fsys.Close()
		if err := ledger.Apply(context.Background(), fsys, entry.Diffs); err != nil {
			return err
		}
		fmt.Printf("rolled back to %s as entry %d (%d files restored)\n", rest[0], entry.Seq, len(entry.Diffs))
		return nil

	default:
		return fmt.Errorf("unknown ledger subcommand %q", sub)
	}
}
