package doctor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mattjoyce/pwb/internal/components"
	"github.com/mattjoyce/pwb/internal/config"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

func validConfig() *config.Config {
	return config.Defaults()
}

func catalog(t *testing.T) *metanode.Registry {
	t.Helper()
	reg, err := components.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func healthyStore(t *testing.T) *graph.MemoryStore {
	t.Helper()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	term, err := store.Append(ctx, &graph.Step{
		ID:   "term",
		Type: "InputGene",
		Data: &graph.Data{Type: "InputGene", Value: json.RawMessage(`"ACE2"`)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.Append(ctx, &graph.Step{
		ID:     "set",
		Type:   "GeneTermToSet",
		Inputs: map[string]graph.Ref{"term": graph.One(term.ID)},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	return store
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	d := New(validConfig(), catalog(t), healthyStore(t))
	r := d.Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if r.Steps != 2 {
		t.Fatalf("expected 2 steps checked, got %d", r.Steps)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ""
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "state", "state.path")
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Driver = "postgres"
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	assertHasError(t, r, "state", "state.dsn")
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Driver = "mysql"
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	assertHasError(t, r, "state", "mysql")
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "no authentication")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "ok", Scopes: []string{"graph:ro", "events:ro"}},
		{Token: "bad", Scopes: []string{"plugins:rw"}},
		{Token: "", Scopes: []string{"*"}},
	}
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", "plugins:rw")
	assertHasWarning(t, r, "env_vars", "empty")
}

func TestValidate_PartialS3(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Export.S3.Endpoint = "localhost:9000"
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	assertHasError(t, r, "export", "endpoint and bucket")

	cfg = validConfig()
	cfg.Export.S3.Endpoint = "localhost:9000"
	cfg.Export.S3.Bucket = "pwb"
	r = New(cfg, catalog(t), nil).Validate(context.Background())
	assertHasError(t, r, "export", "access_key")

	cfg.Export.S3.AccessKey = "minio"
	cfg.Export.S3.SecretKey = "minio123"
	r = New(cfg, catalog(t), nil).Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
}

func TestValidate_UnfrozenRegistry(t *testing.T) {
	t.Parallel()
	reg := metanode.NewRegistry()
	if err := components.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	r := New(validConfig(), reg, nil).Validate(context.Background())
	assertHasWarning(t, r, "registry", "not frozen")
}

func TestValidate_DamagedGraph(t *testing.T) {
	t.Parallel()
	store := healthyStore(t)
	store.Put(&graph.Step{ID: "orphan", Type: "GeneTermToSet", Seq: 3, Inputs: map[string]graph.Ref{"term": graph.One("gone")}})
	store.Put(&graph.Step{ID: "wrong", Type: "DrugTermToSet", Seq: 4, Inputs: map[string]graph.Ref{"term": graph.One("term")}})
	store.Put(&graph.Step{ID: "alien", Type: "Retired", Seq: 5})
	store.Put(&graph.Step{ID: "stale", Type: "InputGene", Seq: 6, Data: &graph.Data{Type: "InputGene", Value: json.RawMessage(`""`)}})

	r := New(validConfig(), catalog(t), store).Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if r.Steps != 6 {
		t.Fatalf("expected 6 steps, got %d", r.Steps)
	}
	assertHasWarning(t, r, "graph", `"gone"`)
	assertHasWarning(t, r, "graph", "want DrugTerm")
	assertHasError(t, r, "graph", `"Retired"`)
	assertHasError(t, r, "graph", "does not decode")
}

func TestValidate_SharedDanglingReportedOnce(t *testing.T) {
	t.Parallel()
	store := graph.NewMemoryStore()
	store.Put(&graph.Step{ID: "orphan", Type: "GeneTermToSet", Seq: 1, Inputs: map[string]graph.Ref{"term": graph.One("gone")}})
	store.Put(&graph.Step{ID: "u1", Type: "GeneSetUnion", Seq: 2, Inputs: map[string]graph.Ref{"sets": graph.Many("orphan")}})
	store.Put(&graph.Step{ID: "u2", Type: "GeneSetUnion", Seq: 3, Inputs: map[string]graph.Ref{"sets": graph.Many("orphan")}})

	r := New(validConfig(), catalog(t), store).Validate(context.Background())
	count := 0
	for _, w := range r.Warnings {
		if w.Category == "graph" && strings.Contains(w.Message, "gone") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one dangling warning, got %d: %v", count, r.Warnings)
	}
}

func TestValidate_DeprecatedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "legacy"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "new-key", Scopes: []string{"*"}}}
	r := New(cfg, catalog(t), nil).Validate(context.Background())
	assertHasWarning(t, r, "deprecated", "both")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true, Steps: 3})
	if !strings.Contains(out, "valid") || !strings.Contains(out, "3 step(s)") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && (strings.Contains(e.Message, substring) || strings.Contains(e.Field, substring)) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && (strings.Contains(w.Message, substring) || strings.Contains(w.Field, substring)) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
