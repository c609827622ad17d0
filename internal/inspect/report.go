// Package inspect renders metapath reports: a target step, its ancestors in
// execution order, their literal data and, when a resolver is supplied, the
// resolved output of each step.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/pwb/internal/engine"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

// Resolver resolves step outputs. *engine.Engine satisfies it.
type Resolver interface {
	ResolveOutput(ctx context.Context, stepID string) (engine.Result, error)
}

// Report is the structured JSON representation of a metapath report.
type Report struct {
	Target     string                    `json:"target"`
	Steps      []Step                    `json:"steps"`
	Dangling   []graph.DanglingReference `json:"dangling,omitempty"`
	Mismatched []graph.TypeMismatch      `json:"mismatched,omitempty"`
}

// Step is one entry in the metapath.
type Step struct {
	Position   int             `json:"position"`
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Label      string          `json:"label"`
	Parents    []string        `json:"parents,omitempty"`
	Executable bool            `json:"executable"`
	Data       json.RawMessage `json:"data,omitempty"`
	State      string          `json:"state,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Waiting    []string        `json:"waiting,omitempty"`
}

// BuildReport renders a terminal-friendly metapath report.
func BuildReport(ctx context.Context, src graph.Source, reg *metanode.Registry, res Resolver, targetID string) (string, error) {
	report, err := Gather(ctx, src, reg, res, targetID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Metapath Report\n")
	fmt.Fprintf(&out, "Target      : %s\n", report.Target)
	fmt.Fprintf(&out, "Steps       : %d\n", len(report.Steps))
	if n := len(report.Dangling) + len(report.Mismatched); n > 0 {
		fmt.Fprintf(&out, "Broken edges: %d\n", n)
	}
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s :: %s\n", step.Position, step.Label, step.ID)
		fmt.Fprintf(&out, "    type       : %s\n", step.Type)
		if len(step.Parents) == 0 {
			fmt.Fprintf(&out, "    parents    : <none>\n")
		} else {
			fmt.Fprintf(&out, "    parents    : %s\n", strings.Join(step.Parents, ", "))
		}
		if !step.Executable {
			fmt.Fprintf(&out, "    executable : no\n")
		}
		if step.State != "" {
			fmt.Fprintf(&out, "    state      : %s\n", step.State)
		}
		if step.Error != "" {
			fmt.Fprintf(&out, "    error      : %s\n", step.Error)
		}
		if len(step.Waiting) > 0 {
			fmt.Fprintf(&out, "    waiting on : %s\n", strings.Join(step.Waiting, ", "))
		}
		writeBlock(&out, "data", step.Data)
		writeBlock(&out, "output", step.Output)
		fmt.Fprintf(&out, "\n")
	}

	for _, d := range report.Dangling {
		fmt.Fprintf(&out, "dangling   : %s.%s -> %s\n", d.StepID, d.Param, d.MissingID)
	}
	for _, m := range report.Mismatched {
		fmt.Fprintf(&out, "mismatched : %s.%s <- %s (want %s, got %s)\n", m.StepID, m.Param, m.Upstream, m.Want, renderUnset(m.Got, "<unknown>"))
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable metapath report.
func BuildJSONReport(ctx context.Context, src graph.Source, reg *metanode.Registry, res Resolver, targetID string) (string, error) {
	report, err := Gather(ctx, src, reg, res, targetID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather linearizes targetID leniently and collects per-step details. res
// may be nil, in which case no outputs are resolved.
func Gather(ctx context.Context, src graph.Source, reg *metanode.Registry, res Resolver, targetID string) (*Report, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, fmt.Errorf("step id is required")
	}

	lin, err := graph.Linearize(ctx, src, targetID, graph.Options{Mode: graph.ModeLenient, Registry: reg})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Target:     lin.Target,
		Steps:      make([]Step, 0, len(lin.Steps)),
		Dangling:   lin.Dangling,
		Mismatched: lin.Mismatched,
	}
	for i, s := range lin.Steps {
		step := Step{
			Position:   i + 1,
			ID:         s.ID,
			Type:       s.Type,
			Label:      s.Type,
			Parents:    s.Parents(),
			Executable: lin.Executable(s.ID),
		}
		if def, ok := reg.Lookup(s.Type); ok {
			step.Label = def.Label()
		}
		if s.Data != nil {
			step.Data = s.Data.Value
		}
		if res != nil {
			if err := resolveInto(ctx, reg, res, &step); err != nil {
				return nil, err
			}
		}
		report.Steps = append(report.Steps, step)
	}

	return report, nil
}

func resolveInto(ctx context.Context, reg *metanode.Registry, res Resolver, step *Step) error {
	result, err := res.ResolveOutput(ctx, step.ID)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", step.ID, err)
	}
	step.State = string(result.State)
	step.Waiting = result.Waiting
	if result.Err != nil {
		step.Error = result.Err.Error()
	}
	if !result.Ready() {
		return nil
	}
	if data, ok := reg.Data(result.OutputType); ok && data.Codec != nil {
		raw, err := data.Codec.Encode(result.Value)
		if err != nil {
			return fmt.Errorf("encode output of %q: %w", step.ID, err)
		}
		step.Output = raw
		return nil
	}
	raw, err := json.Marshal(result.Value)
	if err != nil {
		return fmt.Errorf("encode output of %q: %w", step.ID, err)
	}
	step.Output = raw
	return nil
}

func writeBlock(out *strings.Builder, name string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	fmt.Fprintf(out, "    %-11s:\n", name)
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(raw)), "\n") {
		fmt.Fprintf(out, "      %s\n", line)
	}
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
