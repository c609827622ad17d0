package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/pwb/internal/metanode"
)

// Validate checks a step against the registry and the existing graph before
// it is appended: the type must be a registered process node, every declared
// parameter must be wired with the right arity to existing steps producing
// the declared type, and literal data must decode under the node's codec.
func Validate(ctx context.Context, src Source, reg *metanode.Registry, step *Step) error {
	if step == nil {
		return fmt.Errorf("%w: step is nil", ErrInvalidStep)
	}
	proc, codec, ok := reg.Process(step.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProcessType, step.Type)
	}

	for name := range step.Inputs {
		if _, declared := proc.Inputs[name]; !declared {
			return fmt.Errorf("%w: %s has no input %q", ErrInvalidStep, step.Type, name)
		}
	}

	for _, name := range proc.InputNames() {
		in := proc.Inputs[name]
		ref, wired := step.Inputs[name]
		if !wired {
			return fmt.Errorf("%w: input %q is not wired", ErrInvalidStep, name)
		}
		if ref.Many != in.Many {
			return fmt.Errorf("%w: input %q arity mismatch (fan-in=%t)", ErrInvalidStep, name, in.Many)
		}
		if !ref.Many && len(ref.IDs) != 1 {
			return fmt.Errorf("%w: input %q must reference exactly one step", ErrInvalidStep, name)
		}
		if ref.Many && len(ref.IDs) == 0 {
			return fmt.Errorf("%w: input %q must reference at least one step", ErrInvalidStep, name)
		}
		for _, id := range ref.IDs {
			upstream, err := src.Get(ctx, id)
			if errors.Is(err, ErrStepNotFound) {
				return DanglingReference{StepID: step.ID, Param: name, MissingID: id}
			}
			if err != nil {
				return fmt.Errorf("load upstream %q: %w", id, err)
			}
			if err := checkEdgeType(reg, step.ID, name, in.Spec, upstream); err != nil {
				return err
			}
		}
	}

	if step.Data == nil {
		return nil
	}
	if codec == nil {
		return fmt.Errorf("%w: %s does not accept literal data", ErrInvalidStep, step.Type)
	}
	if step.Data.Type != step.Type {
		return fmt.Errorf("%w: data type %q does not match step type %q", ErrInvalidStep, step.Data.Type, step.Type)
	}
	if _, err := codec.Decode(step.Data.Value); err != nil {
		return fmt.Errorf("data for %s: %w", step.Type, err)
	}
	return nil
}

// checkEdgeType returns a TypeMismatch when upstream does not produce want.
// An upstream whose own type is unregistered cannot produce anything.
func checkEdgeType(reg *metanode.Registry, stepID, param, want string, upstream *Step) error {
	proc, _, ok := reg.Process(upstream.Type)
	got := ""
	if ok {
		got = proc.Output
	}
	if got != want {
		return TypeMismatch{StepID: stepID, Param: param, Upstream: upstream.ID, Want: want, Got: got}
	}
	return nil
}
