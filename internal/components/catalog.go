package components

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/pwb/internal/metanode"
)

// Set is the value of every <Primitive>Set data node.
type Set struct {
	Description string   `json:"description,omitempty"`
	Set         []string `json:"set"`
}

var (
	errEmptyTerm = errors.New("term is empty")
	errEmptySet  = errors.New("set is empty")
)

func validateTerm(term string) error {
	if strings.TrimSpace(term) == "" {
		return errEmptyTerm
	}
	return nil
}

func validateSet(s Set) error {
	if len(s.Set) == 0 {
		return errEmptySet
	}
	for i, member := range s.Set {
		if strings.TrimSpace(member) == "" {
			return fmt.Errorf("set member %d is empty", i)
		}
	}
	return nil
}

// TermCodec and SetCodec are shared by every primitive.
var (
	TermCodec = metanode.JSONCodec[string]{Validate: validateTerm}
	SetCodec  = metanode.JSONCodec[Set]{Validate: validateSet}
)

// Register adds the whole catalog to reg.
func Register(reg *metanode.Registry) error {
	for _, p := range Primitives {
		for _, def := range Definitions(p) {
			if err := reg.Register(def); err != nil {
				return fmt.Errorf("register %s: %w", p.Name, err)
			}
		}
	}
	return nil
}

// NewRegistry returns a frozen registry holding the catalog.
func NewRegistry() (*metanode.Registry, error) {
	reg := metanode.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("freeze registry: %w", err)
	}
	return reg, nil
}

// Definitions returns the six node definitions of one primitive.
func Definitions(p Primitive) []metanode.Definition {
	termMeta := metanode.Meta{Label: p.Label + " Term", Color: p.Color, Tags: []string{"Type:" + p.Name, "Cardinality:Term"}}
	setMeta := metanode.Meta{Label: p.Label + " Set", Color: p.Color, Tags: []string{"Type:" + p.Name, "Cardinality:Set"}}

	var setExample any
	if len(p.SetExample) > 0 {
		setExample = Set{Set: p.SetExample}
	}
	var termExample any
	if p.TermExample != "" {
		termExample = p.TermExample
	}

	return []metanode.Definition{
		&metanode.DataNode{Spec: p.TermSpec(), Meta: termMeta, Codec: TermCodec},
		&metanode.DataNode{Spec: p.SetSpec(), Meta: setMeta, Codec: SetCodec},
		&metanode.ParameterizedNode{
			ProcessNode: metanode.ProcessNode{
				Spec:    p.InputTermSpec(),
				Meta:    metanode.Meta{Label: "Input " + p.Label, Description: "Start with a " + strings.ToLower(p.Label) + " term", Color: p.Color, Tags: []string{"Type:" + p.Name, "Cardinality:Term"}},
				Output:  p.TermSpec(),
				Resolve: resolveInputTerm,
			},
			Codec:  TermCodec,
			Prompt: metanode.Prompt{Description: "Enter a " + strings.ToLower(p.Label) + " term", Example: termExample},
		},
		&metanode.ParameterizedNode{
			ProcessNode: metanode.ProcessNode{
				Spec:    p.InputSetSpec(),
				Meta:    metanode.Meta{Label: "Input " + p.Label + " Set", Description: "Start with a set of " + strings.ToLower(p.Label) + " terms", Color: p.Color, Tags: []string{"Type:" + p.Name, "Cardinality:Set"}},
				Output:  p.SetSpec(),
				Resolve: resolveInputSet,
			},
			Codec:  SetCodec,
			Prompt: metanode.Prompt{Description: "Enter one " + strings.ToLower(p.Label) + " per line", Example: setExample},
		},
		&metanode.ProcessNode{
			Spec:    p.TermToSetSpec(),
			Meta:    metanode.Meta{Label: p.Label + " Term to Set", Description: "Treat a single term as a set of one", Color: p.Color},
			Inputs:  map[string]metanode.Input{"term": {Spec: p.TermSpec()}},
			Output:  p.SetSpec(),
			Resolve: resolveTermToSet,
		},
		&metanode.ProcessNode{
			Spec:    p.UnionSpec(),
			Meta:    metanode.Meta{Label: p.Label + " Set Union", Description: "Combine sets, keeping first occurrence order", Color: p.Color},
			Inputs:  map[string]metanode.Input{"sets": {Spec: p.SetSpec(), Many: true}},
			Output:  p.SetSpec(),
			Resolve: resolveUnion,
		},
	}
}

func resolveInputTerm(ctx context.Context, req metanode.ResolveRequest) (any, error) {
	term, ok := req.Data.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected data type %T", req.Data)
	}
	return strings.TrimSpace(term), nil
}

func resolveInputSet(ctx context.Context, req metanode.ResolveRequest) (any, error) {
	s, ok := req.Data.(Set)
	if !ok {
		return nil, fmt.Errorf("unexpected data type %T", req.Data)
	}
	return Set{Description: s.Description, Set: dedupe(s.Set)}, nil
}

func resolveTermToSet(ctx context.Context, req metanode.ResolveRequest) (any, error) {
	term, ok := req.Inputs["term"].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected term type %T", req.Inputs["term"])
	}
	return Set{Set: []string{term}}, nil
}

func resolveUnion(ctx context.Context, req metanode.ResolveRequest) (any, error) {
	sets, ok := req.Inputs["sets"].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected sets type %T", req.Inputs["sets"])
	}
	var members []string
	for i, v := range sets {
		s, ok := v.(Set)
		if !ok {
			return nil, fmt.Errorf("set %d has unexpected type %T", i, v)
		}
		members = append(members, s.Set...)
	}
	return Set{Set: dedupe(members)}, nil
}

func dedupe(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.TrimSpace(m)
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
