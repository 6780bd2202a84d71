// Command taskledger drives the task ledger from the shell: it manages the
// caller keypair, funds identities and runs the profile and task operations
// against the configured ledger backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"taskledger/internal/blob"
	"taskledger/internal/config"
	"taskledger/internal/core"
	"taskledger/internal/export"
	"taskledger/internal/identity"
	"taskledger/internal/ledger"
	"taskledger/internal/logging"
	"taskledger/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: taskledger [-config file] [-env file] [-keypair file] <command> [flags]

commands:
  keygen   [-force]            create the caller keypair
  address  [-index n]          print the profile (and task) address of the caller
  fund     -amount n [-to id]  credit an identity
  init                         create the caller profile
  add      <content>           append a task
  mark     <index>             mark a task done
  delete   <index>             delete a task and refund its rent
  show     [-owner id]         print a profile and its balance
  task     [-owner id] <index> print one task
  snapshot [-format json,csv]  export every account and balance to the export store
`

func main() {
	exitFunc(cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type globalFlags struct {
	configPath string
	envPath    string
	keypair    string
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("taskledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	var g globalFlags
	fs.StringVar(&g.configPath, "config", "", "path to YAML config")
	fs.StringVar(&g.envPath, "env", "", "path to .env file (default .env when present)")
	fs.StringVar(&g.keypair, "keypair", "", "keypair file (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(g.configPath, g.envPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if g.keypair != "" {
		cfg.Keypair = g.keypair
	}
	logger, logCloser, err := logging.New(cfg.Log, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logging: %v\n", err)
		return 1
	}
	defer func() { _ = logCloser.Close() }()

	cmd, cmdArgs := rest[0], rest[1:]
	if err := dispatch(ctx, cfg, logger, cmd, cmdArgs, stdout, stderr); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		logger.Error("command failed", "command", cmd, "error", err)
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func dispatch(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd string, args []string, stdout, stderr io.Writer) error {
	program, err := cfg.DomainProgram()
	if err != nil {
		return err
	}
	switch cmd {
	case "keygen":
		return runKeygen(cfg, args, stdout, stderr)
	case "address":
		return runAddress(cfg, program, args, stdout, stderr)
	case "fund", "init", "add", "mark", "delete", "show", "task", "snapshot":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	exp, err := newExporters(cfg, logger, stderr)
	if err != nil {
		return err
	}
	defer exp.flush(context.WithoutCancel(ctx))

	store, err := ledger.Open(ctx, cfg.Ledger, program, core.NewDefaultRulesEngine(program))
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close(store) }()

	svc := core.NewService(store, program,
		core.WithLogger(logger),
		core.WithMetricsRecorder(exp.metrics),
		core.WithTracer(exp.tracer),
		core.WithAuditRecorder(core.LoggerAuditRecorder{Logger: logger}),
	)
	a := &app{svc: svc, cfg: cfg, stdout: stdout, stderr: stderr}

	switch cmd {
	case "fund":
		return a.fund(ctx, args)
	case "init":
		return a.init(ctx, args)
	case "add":
		return a.add(ctx, args)
	case "mark":
		return a.mark(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "snapshot":
		return a.snapshot(ctx, store, logger, args)
	default:
		return a.task(ctx, args)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runKeygen(cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("keygen", stderr)
	force := fs.Bool("force", false, "overwrite an existing keypair")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kp, err := identity.Generate(nil)
	if err != nil {
		return err
	}
	if err := kp.Save(cfg.Keypair, *force); err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"identity": kp.Identity(), "keypair": cfg.Keypair})
}

func runAddress(cfg config.Config, program domain.Program, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("address", stderr)
	owner := fs.String("owner", "", "identity (default: keypair identity)")
	index := fs.Int("index", -1, "task index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := resolveOwner(cfg, *owner)
	if err != nil {
		return err
	}
	profile, err := program.DeriveProfileAddress(id)
	if err != nil {
		return err
	}
	out := map[string]any{"owner": id, "profile": profile.Address, "profile_bump": profile.Bump}
	if *index >= 0 {
		idx, err := parseIndex(strconv.Itoa(*index))
		if err != nil {
			return err
		}
		task, err := program.DeriveTaskAddress(id, idx)
		if err != nil {
			return err
		}
		out["task"] = task.Address
		out["task_bump"] = task.Bump
	}
	return writeJSON(stdout, out)
}

func resolveOwner(cfg config.Config, raw string) (domain.Identity, error) {
	if raw != "" {
		return domain.ParseIdentity(raw)
	}
	kp, err := identity.Load(cfg.Keypair)
	if err != nil {
		return domain.Identity{}, err
	}
	return kp.Identity(), nil
}

func parseIndex(raw string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("task index %q: must be 0-255", raw)
	}
	return uint8(v), nil
}

type app struct {
	svc    *core.Service
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
}

func (a *app) caller() (domain.Identity, error) {
	return resolveOwner(a.cfg, "")
}

func (a *app) fund(ctx context.Context, args []string) error {
	fs := newFlagSet("fund", a.stderr)
	to := fs.String("to", "", "identity to credit (default: keypair identity)")
	amount := fs.Uint64("amount", 0, "amount to credit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *amount == 0 {
		return fmt.Errorf("%w: -amount is required", errUsage)
	}
	id, err := resolveOwner(a.cfg, *to)
	if err != nil {
		return err
	}
	balance, _, err := a.svc.Fund(ctx, id, *amount)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, map[string]any{"identity": id, "balance": balance})
}

func (a *app) init(ctx context.Context, args []string) error {
	if err := newFlagSet("init", a.stderr).Parse(args); err != nil {
		return err
	}
	id, err := a.caller()
	if err != nil {
		return err
	}
	profile, _, err := a.svc.InitializeProfile(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, profile)
}

func (a *app) add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: add needs content", errUsage)
	}
	id, err := a.caller()
	if err != nil {
		return err
	}
	task, _, err := a.svc.AddTask(ctx, id, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, task)
}

func (a *app) mark(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: mark needs an index", errUsage)
	}
	idx, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	id, err := a.caller()
	if err != nil {
		return err
	}
	task, _, err := a.svc.MarkTask(ctx, id, idx)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, task)
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete needs an index", errUsage)
	}
	idx, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	id, err := a.caller()
	if err != nil {
		return err
	}
	if _, err := a.svc.DeleteTask(ctx, id, idx); err != nil {
		return err
	}
	balance, err := a.svc.Balance(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, map[string]any{"deleted": idx, "balance": balance})
}

func (a *app) show(ctx context.Context, args []string) error {
	fs := newFlagSet("show", a.stderr)
	owner := fs.String("owner", "", "identity (default: keypair identity)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := resolveOwner(a.cfg, *owner)
	if err != nil {
		return err
	}
	profile, err := a.svc.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	balance, err := a.svc.Balance(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, map[string]any{"profile": profile, "balance": balance})
}

func (a *app) task(ctx context.Context, args []string) error {
	fs := newFlagSet("task", a.stderr)
	owner := fs.String("owner", "", "identity (default: keypair identity)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: task needs an index", errUsage)
	}
	idx, err := parseIndex(fs.Arg(0))
	if err != nil {
		return err
	}
	id, err := resolveOwner(a.cfg, *owner)
	if err != nil {
		return err
	}
	task, err := a.svc.GetTask(ctx, id, idx)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, task)
}

func (a *app) snapshot(ctx context.Context, store domain.Ledger, logger *slog.Logger, args []string) error {
	fs := newFlagSet("snapshot", a.stderr)
	formats := fs.String("format", "json,csv", "comma separated formats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	source, ok := store.(export.Source)
	if !ok {
		return fmt.Errorf("ledger driver %s cannot export snapshots", a.cfg.Ledger.Driver)
	}
	var list []export.Format
	for _, f := range strings.Split(*formats, ",") {
		if f = strings.TrimSpace(f); f != "" {
			list = append(list, export.Format(f))
		}
	}
	requester, err := a.caller()
	if err != nil {
		return err
	}
	objects, err := blob.Open(ctx, a.cfg.Export)
	if err != nil {
		return fmt.Errorf("open export store: %w", err)
	}
	w := export.NewWorker(source, objects, export.WithAuditRecorder(core.LoggerAuditRecorder{Logger: logger}))
	w.Start()
	defer func() { _ = w.Stop(context.WithoutCancel(ctx)) }()

	queued, err := w.Enqueue(ctx, requester, list...)
	if err != nil {
		return err
	}
	rec, err := w.Wait(ctx, queued.ID)
	if err != nil {
		return err
	}
	if rec.Status == export.StatusFailed {
		return errors.New(rec.Error)
	}
	return writeJSON(a.stdout, rec)
}
