package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mattjoyce/pwb/internal/components"
	"github.com/mattjoyce/pwb/internal/engine"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

func fixture(t *testing.T) (*metanode.Registry, *graph.MemoryStore) {
	t.Helper()
	reg, err := components.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := graph.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Append(ctx, &graph.Step{
		ID:   "term",
		Type: "InputGene",
		Data: &graph.Data{Type: "InputGene", Value: json.RawMessage(`"ACE2"`)},
	}); err != nil {
		t.Fatalf("Append(term): %v", err)
	}
	if _, err := store.Append(ctx, &graph.Step{
		ID:     "set",
		Type:   "GeneTermToSet",
		Inputs: map[string]graph.Ref{"term": graph.One("term")},
	}); err != nil {
		t.Fatalf("Append(set): %v", err)
	}
	return reg, store
}

func TestBuildReportRendersMetapath(t *testing.T) {
	t.Parallel()
	reg, store := fixture(t)

	out, err := BuildReport(context.Background(), store, reg, nil, "set")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Metapath Report",
		"Target      : set",
		"Steps       : 2",
		"[1] Input Gene :: term",
		"    parents    : <none>",
		"[2] Gene Term to Set :: set",
		"    parents    : term",
		`"ACE2"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "state") {
		t.Fatalf("expected no resolved state without a resolver:\n%s", out)
	}
}

func TestBuildReportWithResolver(t *testing.T) {
	t.Parallel()
	reg, store := fixture(t)
	eng := engine.New(reg, store)

	out, err := BuildReport(context.Background(), store, reg, eng, "set")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if !strings.Contains(out, "state      : ready") {
		t.Fatalf("expected ready state:\n%s", out)
	}
	if !strings.Contains(out, `"set": [`) {
		t.Fatalf("expected resolved set output:\n%s", out)
	}
}

func TestBuildJSONReportReportsDangling(t *testing.T) {
	t.Parallel()
	reg, store := fixture(t)
	store.Put(&graph.Step{ID: "orphan", Type: "GeneSetUnion", Seq: 3, Inputs: map[string]graph.Ref{"sets": graph.Many("set", "gone")}})

	out, err := BuildJSONReport(context.Background(), store, reg, engine.New(reg, store), "orphan")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(report.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(report.Steps))
	}
	if len(report.Dangling) != 1 || report.Dangling[0].MissingID != "gone" {
		t.Fatalf("unexpected dangling: %+v", report.Dangling)
	}
	last := report.Steps[2]
	if last.ID != "orphan" || last.Executable {
		t.Fatalf("expected non-executable orphan, got %+v", last)
	}
	if last.State != string(engine.StateWaiting) {
		t.Fatalf("expected waiting orphan, got %q", last.State)
	}
	if report.Steps[1].State != string(engine.StateReady) {
		t.Fatalf("expected ready ancestor, got %q", report.Steps[1].State)
	}
}

func TestGatherMissingTarget(t *testing.T) {
	t.Parallel()
	reg, store := fixture(t)
	_, err := Gather(context.Background(), store, reg, nil, "nope")
	if !errors.Is(err, graph.ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
	if _, err := Gather(context.Background(), store, reg, nil, " "); err == nil {
		t.Fatal("expected error for empty id")
	}
}
