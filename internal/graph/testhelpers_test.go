package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mattjoyce/pwb/internal/metanode"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *metanode.Registry {
	t.Helper()
	noop := func(ctx context.Context, req metanode.ResolveRequest) (any, error) { return nil, nil }
	reg := metanode.NewRegistry()
	reg.MustRegister(
		&metanode.DataNode{Spec: "TermValue", Codec: metanode.JSONCodec[string]{}},
		&metanode.DataNode{Spec: "InfoValue", Codec: metanode.JSONCodec[map[string]any]{}},
		&metanode.ParameterizedNode{
			ProcessNode: metanode.ProcessNode{Spec: "Term", Output: "TermValue", Resolve: noop},
			Codec:       metanode.JSONCodec[string]{},
		},
		&metanode.ProcessNode{
			Spec:    "InfoFromTerm",
			Inputs:  map[string]metanode.Input{"term": {Spec: "TermValue"}},
			Output:  "InfoValue",
			Resolve: noop,
		},
		&metanode.ProcessNode{
			Spec:    "Merge",
			Inputs:  map[string]metanode.Input{"infos": {Spec: "InfoValue", Many: true}},
			Output:  "InfoValue",
			Resolve: noop,
		},
	)
	require.NoError(t, reg.Freeze())
	return reg
}

func appendStep(t *testing.T, store *MemoryStore, s *Step) *Step {
	t.Helper()
	out, err := store.Append(context.Background(), s)
	require.NoError(t, err)
	return out
}

func termStep(id, value string) *Step {
	return &Step{ID: id, Type: "Term", Data: &Data{Type: "Term", Value: json.RawMessage(`"` + value + `"`)}}
}

func ids(steps []*Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.ID)
	}
	return out
}
