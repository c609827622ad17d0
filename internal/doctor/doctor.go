// Package doctor checks pwb configuration, the node registry and the stored
// step graph, and reports problems without changing anything.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/mattjoyce/pwb/internal/auth"
	"github.com/mattjoyce/pwb/internal/config"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
	"github.com/mattjoyce/pwb/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Steps    int     `json:"steps"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration, registry and graph.
type Doctor struct {
	cfg      *config.Config
	registry *metanode.Registry
	store    graph.Store
}

// New creates a Doctor. store may be nil, in which case graph checks are
// skipped.
func New(cfg *config.Config, registry *metanode.Registry, store graph.Store) *Doctor {
	return &Doctor{cfg: cfg, registry: registry, store: store}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateStateConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateExportConfig(r)
	d.validateRegistry(r)
	d.validateGraph(ctx, r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateStateConfig(r *Result) {
	switch d.cfg.State.Driver {
	case "", "sqlite":
		if d.cfg.State.Path == "" {
			d.addError(r, "state", "state.path", "state.path is required for the sqlite driver")
			return
		}
		var nfs *storage.NetworkFilesystemError
		if err := storage.CheckLocalFilesystem(d.cfg.State.Path); errors.As(err, &nfs) {
			d.addError(r, "state", "state.path", err.Error())
		}
	case "postgres":
		if d.cfg.State.DSN == "" {
			d.addError(r, "state", "state.dsn", "state.dsn is required for the postgres driver")
		}
	default:
		d.addError(r, "state", "state.driver", fmt.Sprintf("unknown driver %q", d.cfg.State.Driver))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}


func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		if len(token.Scopes) == 0 {
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes", i), "token has no scopes")
		}
		for j, scope := range token.Scopes {
			if !slices.Contains(auth.KnownScopes, scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

func (d *Doctor) validateExportConfig(r *Result) {
	if d.cfg.Export.Image == "" {
		d.addWarning(r, "export", "export.image", "no runtime image set; exported tools use the default image")
	}
	s3 := d.cfg.Export.S3
	if s3.Endpoint == "" && s3.Bucket == "" {
		return
	}
	if !s3.Enabled() {
		d.addError(r, "export", "export.s3", "export.s3 needs both endpoint and bucket")
		return
	}
	if s3.AccessKey == "" || s3.SecretKey == "" {
		d.addError(r, "export", "export.s3", "export.s3 needs access_key and secret_key")
	}
}

func (d *Doctor) validateRegistry(r *Result) {
	if d.registry == nil {
		d.addError(r, "registry", "", "no node registry")
		return
	}
	if !d.registry.Frozen() {
		d.addWarning(r, "registry", "", "registry is not frozen")
	}
	if d.registry.Len() == 0 {
		d.addError(r, "registry", "", "registry has no definitions")
	}
}

// validateGraph walks every stored step. Steps that reference missing or
// mistyped upstreams stay in the graph but cannot execute; they are
// reported as warnings. Unknown types and literals that no longer decode are
// errors.
func (d *Doctor) validateGraph(ctx context.Context, r *Result) {
	if d.store == nil || d.registry == nil {
		return
	}
	steps, err := d.store.List(ctx)
	if err != nil {
		d.addError(r, "graph", "", fmt.Sprintf("failed to list steps: %v", err))
		return
	}
	r.Steps = len(steps)

	referenced := make(map[string]bool)
	for _, step := range steps {
		for _, id := range step.Parents() {
			referenced[id] = true
		}

		proc, codec, ok := d.registry.Process(step.Type)
		if !ok {
			d.addError(r, "graph", stepField(step.ID, ""), fmt.Sprintf("unknown process type %q", step.Type))
			continue
		}
		if step.Data == nil {
			continue
		}
		if codec == nil {
			d.addWarning(r, "graph", stepField(step.ID, "data"), fmt.Sprintf("%s does not accept literal data", proc.Spec))
			continue
		}
		if _, err := codec.Decode(step.Data.Value); err != nil {
			d.addError(r, "graph", stepField(step.ID, "data"), fmt.Sprintf("literal data does not decode: %v", err))
		}
	}

	// Every edge lies under some unreferenced step.
	seen := make(map[string]bool)
	for _, step := range steps {
		if referenced[step.ID] {
			continue
		}
		lin, err := graph.Linearize(ctx, d.store, step.ID, graph.Options{Mode: graph.ModeLenient, Registry: d.registry})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.addError(r, "graph", stepField(step.ID, ""), fmt.Sprintf("failed to linearize: %v", err))
			continue
		}
		for _, dr := range lin.Dangling {
			key := "d|" + dr.StepID + "|" + dr.Param + "|" + dr.MissingID
			if seen[key] {
				continue
			}
			seen[key] = true
			d.addWarning(r, "graph", stepField(dr.StepID, "inputs."+dr.Param),
				fmt.Sprintf("dangling reference to %q", dr.MissingID))
		}
		for _, m := range lin.Mismatched {
			key := "m|" + m.StepID + "|" + m.Param + "|" + m.Upstream
			if seen[key] {
				continue
			}
			seen[key] = true
			d.addWarning(r, "graph", stepField(m.StepID, "inputs."+m.Param),
				fmt.Sprintf("upstream %q produces %s, want %s", m.Upstream, m.Got, m.Want))
		}
	}
	sortIssues(r.Warnings)
}

func stepField(id, suffix string) string {
	if suffix == "" {
		return "steps." + id
	}
	return "steps." + id + "." + suffix
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Category != issues[j].Category {
			return issues[i].Category < issues[j].Category
		}
		return issues[i].Field < issues[j].Field
	})
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid, %d step(s) checked.\n", r.Steps)
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
