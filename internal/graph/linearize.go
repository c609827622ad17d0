package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/pwb/internal/metanode"
)

// Mode selects how a missing or mistyped edge is handled.
type Mode int

const (
	// ModeLenient drops unusable edges and reports them on the result.
	ModeLenient Mode = iota
	// ModeStrict aborts on the first unusable edge.
	ModeStrict
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "lenient"
}

// Options configures Linearize. Registry is optional; when set, edges whose
// upstream output type differs from the declared parameter type are treated
// like dangling edges.
type Options struct {
	Mode     Mode
	Registry *metanode.Registry
}

// Linearization is a target step preceded by all of its reachable ancestors,
// ancestors first.
type Linearization struct {
	Target     string              `json:"target"`
	Steps      []*Step             `json:"steps"`
	Dangling   []DanglingReference `json:"dangling,omitempty"`
	Mismatched []TypeMismatch      `json:"mismatched,omitempty"`
}

// Executable reports whether the step has no dropped edges of its own.
// Ancestors may still be waiting; that is the engine's concern.
func (l *Linearization) Executable(id string) bool {
	for _, d := range l.Dangling {
		if d.StepID == id {
			return false
		}
	}
	for _, m := range l.Mismatched {
		if m.StepID == id {
			return false
		}
	}
	return true
}

// Position returns the 0-based index of id, or -1.
func (l *Linearization) Position(id string) int {
	for i, s := range l.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Linearize walks the ancestors of targetID and returns them sorted by
// creation index. Because a step can only reference steps created before it,
// creation order is a valid topological order.
func Linearize(ctx context.Context, src Source, targetID string, opts Options) (*Linearization, error) {
	target, err := src.Get(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}

	out := &Linearization{Target: targetID}
	visited := map[string]*Step{target.ID: target}
	worklist := []*Step{target}

	for len(worklist) > 0 {
		step := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		var want map[string]metanode.Input
		if opts.Registry != nil {
			if proc, _, ok := opts.Registry.Process(step.Type); ok {
				want = proc.Inputs
			}
		}

		for _, name := range step.InputNames() {
			for _, id := range step.Inputs[name].IDs {
				parent, seen := visited[id]
				if !seen {
					parent, err = src.Get(ctx, id)
					if errors.Is(err, ErrStepNotFound) {
						dangling := DanglingReference{StepID: step.ID, Param: name, MissingID: id}
						if opts.Mode == ModeStrict {
							return nil, dangling
						}
						out.Dangling = append(out.Dangling, dangling)
						continue
					}
					if err != nil {
						return nil, fmt.Errorf("load step %q: %w", id, err)
					}
					visited[id] = parent
					worklist = append(worklist, parent)
				}

				if in, declared := want[name]; declared {
					var mismatch TypeMismatch
					if err := checkEdgeType(opts.Registry, step.ID, name, in.Spec, parent); errors.As(err, &mismatch) {
						if opts.Mode == ModeStrict {
							return nil, mismatch
						}
						out.Mismatched = append(out.Mismatched, mismatch)
					}
				}
			}
		}
	}

	out.Steps = make([]*Step, 0, len(visited))
	for _, s := range visited {
		out.Steps = append(out.Steps, s)
	}
	sortSteps(out.Steps)
	return out, nil
}
