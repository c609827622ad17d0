package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pwb/internal/api"
	"github.com/mattjoyce/pwb/internal/auth"
	"github.com/mattjoyce/pwb/internal/components"
	"github.com/mattjoyce/pwb/internal/config"
	"github.com/mattjoyce/pwb/internal/cwl"
	"github.com/mattjoyce/pwb/internal/doctor"
	"github.com/mattjoyce/pwb/internal/engine"
	"github.com/mattjoyce/pwb/internal/events"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/inspect"
	"github.com/mattjoyce/pwb/internal/lock"
	"github.com/mattjoyce/pwb/internal/log"
	"github.com/mattjoyce/pwb/internal/metanode"
	"github.com/mattjoyce/pwb/internal/state"
	"github.com/mattjoyce/pwb/internal/storage"
)

const version = cwl.DefaultVersion

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "serve":
		return runServe(rest, stderr)
	case "step":
		return runStepNoun(rest, stdout, stderr)
	case "metapath":
		return runMetapath(rest, stdout, stderr)
	case "export":
		return runExport(rest, stdout, stderr)
	case "doctor":
		return runDoctor(rest, stdout, stderr)
	case "nodes":
		return runNodes(rest, stdout, stderr)
	case "config":
		return runConfigNoun(rest, stdout, stderr)
	case "version":
		return runVersion(rest, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `pwb - playbook workflow builder

Usage:
  pwb <command> [flags]

Commands:
  serve                 Start the HTTP API
  step add|show|list    Append, show or list steps
  metapath <id>         Show a step and its ancestors in execution order
  export <id>           Compile a step's metapath to CWL (--out DIR | --s3)
  doctor                Check configuration, registry and stored graph
  nodes                 List registered node definitions
  config get|show       Read the resolved configuration
  version               Show version information
  help                  Show this help message

Every command accepts --config PATH. Without it, $PWB_CONFIG,
~/.config/pwb/config.yaml and ./config.yaml are tried in that order.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// splitPositional pulls the first non-flag argument out of args so flags may
// follow it, as in 'pwb metapath <id> --json'. Flags known to take a value
// keep their value.
func splitPositional(args []string, valued ...string) (string, []string) {
	takesValue := make(map[string]bool, len(valued))
	for _, v := range valued {
		takesValue["-"+v] = true
		takesValue["--"+v] = true
	}
	var positional string
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			rest = append(rest, arg)
			if takesValue[arg] && i+1 < len(args) {
				rest = append(rest, args[i+1])
				i++
			}
			continue
		}
		if positional == "" {
			positional = arg
			continue
		}
		rest = append(rest, arg)
	}
	return positional, rest
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		if discovered == "" {
			return config.Defaults(), nil
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// backend bundles everything a command needs to work on the step graph.
type backend struct {
	cfg      *config.Config
	registry *metanode.Registry
	store    *state.Store
	close    func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	reg, err := components.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	db, err := storage.Open(ctx, cfg.State.Driver, cfg.State.Path, cfg.State.DSN)
	if err != nil {
		return nil, err
	}
	return &backend{
		cfg:      cfg,
		registry: reg,
		store:    state.NewStore(db, cfg.State.Driver),
		close:    db.Close,
	}, nil
}

func (b *backend) engine(opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{engine.WithMaxParallel(b.cfg.Engine.MaxParallel)}, opts...)
	return engine.New(b.registry, b.store, opts...)
}

func openForTool(configPath string, stderr io.Writer) (*backend, int) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return nil, 1
	}
	b, err := openBackend(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open step store: %v\n", err)
		return nil, 1
	}
	return b, 0
}

// --- serve ---

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Override api.listen")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}

	log.SetupWithWriter(os.Stdout, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("pwb starting", "version", version, "config", cfg.SourceFile)

	if cfg.State.Driver == storage.DriverSQLite {
		lockPath := lock.PathFor(cfg.State.Path)
		pidLock, err := lock.Acquire(lockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", lockPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Error("failed to open step store", "driver", cfg.State.Driver, "error", err)
		return 1
	}
	defer b.close()
	logger.Info("step store opened", "driver", cfg.State.Driver, "nodes", b.registry.Len())

	hub := events.NewHub(cfg.API.EventBuffer)
	pool, err := engine.NewPool(cfg.Engine.SessionCacheSize, func(session string) *engine.Engine {
		return b.engine(
			engine.WithLogger(log.WithSession(session)),
			engine.WithPublisher(hub),
			engine.WithSession(session),
		)
	})
	if err != nil {
		logger.Error("failed to create engine pool", "error", err)
		return 1
	}

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	server := api.New(api.Config{
		Listen:  cfg.API.Listen,
		APIKey:  cfg.API.Auth.APIKey,
		Tokens:  tokens,
		Image:   cfg.Export.Image,
		Version: cfg.Export.Version,
	}, b.registry, b.store, pool, hub, log.WithComponent("api"))

	logger.Info("pwb running (press Ctrl+C to stop)", "listen", cfg.API.Listen)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return 1
	}
	logger.Info("pwb stopped")
	return 0
}

// --- step ---

func runStepNoun(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(stderr, "Usage: pwb step <add|show|list> [flags]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "add":
		return runStepAdd(args[1:], stdout, stderr)
	case "show":
		return runStepShow(args[1:], stdout, stderr)
	case "list":
		return runStepList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown step action: %s\n", args[0])
		return 1
	}
}

// inputFlags collects repeated --in name=id[,id...] flags.
type inputFlags map[string][]string

func (f inputFlags) String() string {
	parts := make([]string, 0, len(f))
	for name, ids := range f {
		parts = append(parts, name+"="+strings.Join(ids, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (f inputFlags) Set(v string) error {
	name, ids, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(ids) == "" {
		return fmt.Errorf("expected name=id[,id...], got %q", v)
	}
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			f[name] = append(f[name], id)
		}
	}
	return nil
}

// refs turns the collected flags into step inputs, using the node's
// declared arity to pick single or fan-in references.
func (f inputFlags) refs(proc *metanode.ProcessNode) map[string]graph.Ref {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]graph.Ref, len(f))
	for name, ids := range f {
		if in, ok := proc.Inputs[name]; ok && in.Many {
			out[name] = graph.Many(ids...)
			continue
		}
		out[name] = graph.Ref{IDs: ids}
	}
	return out
}

func runStepAdd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("step add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	stepType := fs.String("type", "", "Process node spec (required)")
	id := fs.String("id", "", "Step id (generated when empty)")
	data := fs.String("data", "", "Literal data as JSON")
	inputs := inputFlags{}
	fs.Var(inputs, "in", "Input wiring name=id[,id...] (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*stepType) == "" {
		fmt.Fprintln(stderr, "Usage: pwb step add --type SPEC [--id ID] [--in name=id[,id...]] [--data JSON]")
		return 1
	}

	b, code := openForTool(*configPath, stderr)
	if b == nil {
		return code
	}
	defer b.close()

	proc, _, ok := b.registry.Process(*stepType)
	if !ok {
		fmt.Fprintf(stderr, "Error: %v: %q\n", graph.ErrUnknownProcessType, *stepType)
		return 1
	}
	step := &graph.Step{ID: *id, Type: *stepType, Inputs: inputs.refs(proc)}
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			fmt.Fprintln(stderr, "Error: --data is not valid JSON")
			return 1
		}
		step.Data = &graph.Data{Type: *stepType, Value: json.RawMessage(*data)}
	}

	ctx := context.Background()
	if err := graph.Validate(ctx, b.store, b.registry, step); err != nil {
		fmt.Fprintf(stderr, "Invalid step: %v\n", err)
		return 1
	}
	stored, err := b.store.Append(ctx, step)
	if err != nil {
		fmt.Fprintf(stderr, "Append failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, stored.ID)
	return 0
}

func runStepShow(args []string, stdout, stderr io.Writer) int {
	id, rest := splitPositional(args, "config")
	fs := flag.NewFlagSet("step show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if id == "" {
		fmt.Fprintln(stderr, "Usage: pwb step show <id> [--config PATH]")
		return 1
	}

	b, code := openForTool(*configPath, stderr)
	if b == nil {
		return code
	}
	defer b.close()

	step, err := b.store.Get(context.Background(), id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, step)
}

func runStepList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("step list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	b, code := openForTool(*configPath, stderr)
	if b == nil {
		return code
	}
	defer b.close()

	steps, err := b.store.List(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return writeJSON(stdout, stderr, steps)
	}
	for _, s := range steps {
		parents := "-"
		if p := s.Parents(); len(p) > 0 {
			parents = strings.Join(p, ",")
		}
		fmt.Fprintf(stdout, "%d\t%s\t%s\t%s\n", s.Seq, s.ID, s.Type, parents)
	}
	return 0
}

// --- metapath / export ---

func runMetapath(args []string, stdout, stderr io.Writer) int {
	id, rest := splitPositional(args, "config")
	fs := flag.NewFlagSet("metapath", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	resolve := fs.Bool("resolve", false, "Resolve every step output")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if id == "" {
		fmt.Fprintln(stderr, "Usage: pwb metapath <id> [--config PATH] [--json] [--resolve]")
		return 1
	}

	b, code := openForTool(*configPath, stderr)
	if b == nil {
		return code
	}
	defer b.close()

	var res inspect.Resolver
	if *resolve {
		res = b.engine(engine.WithLogger(log.WithComponent("engine")))
	}

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(context.Background(), b.store, b.registry, res, id)
	if err != nil {
		fmt.Fprintf(stderr, "Metapath failed: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, strings.TrimRight(out, "\n")+"\n")
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	id, rest := splitPositional(args, "config", "out")
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	outDir := fs.String("out", "", "Directory to write the bundle into (default export.dir)")
	toS3 := fs.Bool("s3", false, "Upload the bundle to export.s3")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if id == "" || (*toS3 && *outDir != "") {
		fmt.Fprintln(stderr, "Usage: pwb export <id> [--out DIR | --s3] [--config PATH]")
		return 1
	}

	b, code := openForTool(*configPath, stderr)
	if b == nil {
		return code
	}
	defer b.close()

	var sink cwl.Sink
	if *toS3 {
		s3 := b.cfg.Export.S3
		if !s3.Enabled() {
			fmt.Fprintln(stderr, "Error: export.s3 is not configured")
			return 1
		}
		s, err := cwl.NewS3Sink(cwl.S3Config{
			Endpoint:  s3.Endpoint,
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			UseSSL:    s3.UseSSL,
			Prefix:    s3.Prefix,
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		sink = s
	} else {
		dir := *outDir
		if dir == "" {
			dir = b.cfg.Export.Dir
		}
		sink = &cwl.DirSink{Root: dir}
	}

	ctx := context.Background()
	location, fingerprint, err := exportBundle(ctx, b, id, sink)
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s\t%s\n", fingerprint, location)
	return 0
}

func exportBundle(ctx context.Context, b *backend, id string, sink cwl.Sink) (string, string, error) {
	lin, err := graph.Linearize(ctx, b.store, id, graph.Options{Mode: graph.ModeStrict, Registry: b.registry})
	if err != nil {
		return "", "", err
	}
	compiler := &cwl.Compiler{
		Registry: b.registry,
		Resolver: b.engine(engine.WithLogger(log.WithComponent("engine"))),
		Image:    b.cfg.Export.Image,
		Version:  b.cfg.Export.Version,
	}
	bundle, err := compiler.Compile(ctx, lin)
	if err != nil {
		return "", "", err
	}
	location, err := sink.Write(ctx, bundle)
	if err != nil {
		return "", "", err
	}
	return location, bundle.Fingerprint, nil
}

// --- doctor / nodes / config / version ---

func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	format := fs.String("format", "human", "Output format: human or json")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}

	var d *doctor.Doctor
	b, err := openBackend(context.Background(), cfg)
	if err != nil {
		reg, regErr := components.NewRegistry()
		if regErr != nil {
			fmt.Fprintf(stderr, "Registry error: %v\n", regErr)
			return 1
		}
		fmt.Fprintf(stderr, "Step store unavailable, skipping graph checks: %v\n", err)
		d = doctor.New(cfg, reg, nil)
	} else {
		defer b.close()
		d = doctor.New(cfg, b.registry, b.store)
	}

	result := d.Validate(context.Background())
	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	default:
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func runNodes(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("nodes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	kind := fs.String("kind", "", "Only list nodes of this kind (data, process, parameterized)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	reg, err := components.NewRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "Registry error: %v\n", err)
		return 1
	}

	type nodeRow struct {
		Spec   string        `json:"spec"`
		Kind   metanode.Kind `json:"kind"`
		Label  string        `json:"label"`
		Output string        `json:"output,omitempty"`
	}
	var rows []nodeRow
	for _, spec := range reg.Specs() {
		def, _ := reg.Lookup(spec)
		if *kind != "" && string(def.Kind()) != *kind {
			continue
		}
		row := nodeRow{Spec: spec, Kind: def.Kind(), Label: def.Label()}
		if proc, _, ok := reg.Process(spec); ok {
			row.Output = proc.Output
		}
		rows = append(rows, row)
	}

	if *jsonOut {
		return writeJSON(stdout, stderr, rows)
	}
	for _, r := range rows {
		fmt.Fprintf(stdout, "%-14s %-24s %s\n", r.Kind, r.Spec, r.Label)
	}
	return 0
}

func runConfigNoun(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(stderr, "Usage: pwb config <get|show> [flags]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "get":
		return runConfigGet(args[1:], stdout, stderr)
	case "show":
		return runConfigShow(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return writeJSON(stdout, stderr, cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, string(data))
	return 0
}

func runConfigGet(args []string, stdout, stderr io.Writer) int {
	path, rest := splitPositional(args, "config")
	fs := flag.NewFlagSet("config get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if path == "" {
		fmt.Fprintln(stderr, "Usage: pwb config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return writeJSON(stdout, stderr, val)
	}
	fmt.Fprintf(stdout, "%v\n", val)
	return 0
}

func runVersion(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *jsonOut {
		return writeJSON(stdout, stderr, map[string]string{
			"version":    version,
			"go_version": runtime.Version(),
			"image":      cwl.DefaultImage,
		})
	}
	fmt.Fprintf(stdout, "pwb version %s\n", version)
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}
