package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearizeTwoStepChain(t *testing.T) {
	store := NewMemoryStore()
	appendStep(t, store, termStep("A", "ACE2"))
	appendStep(t, store, &Step{ID: "B", Type: "InfoFromTerm", Inputs: map[string]Ref{"term": One("A")}})

	lin, err := Linearize(context.Background(), store, "B", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(lin.Steps))
	assert.Empty(t, lin.Dangling)
	assert.Equal(t, "B", lin.Target)
	assert.Equal(t, 0, lin.Position("A"))
	assert.Equal(t, -1, lin.Position("Z"))
}

func TestLinearizeExcludesUnrelatedSteps(t *testing.T) {
	store := NewMemoryStore()
	appendStep(t, store, termStep("A", "ACE2"))
	appendStep(t, store, termStep("X", "TP53"))
	appendStep(t, store, &Step{ID: "B", Type: "InfoFromTerm", Inputs: map[string]Ref{"term": One("A")}})
	appendStep(t, store, &Step{ID: "Y", Type: "InfoFromTerm", Inputs: map[string]Ref{"term": One("X")}})

	lin, err := Linearize(context.Background(), store, "B", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(lin.Steps))
}

func TestLinearizeDiamondIsTopologicalAndDeterministic(t *testing.T) {
	store := NewMemoryStore()
	appendStep(t, store, termStep("root", "ACE2"))
	appendStep(t, store, &Step{ID: "left", Type: "InfoFromTerm", Inputs: map[string]Ref{"term": One("root")}})
	appendStep(t, store, &Step{ID: "right", Type: "InfoFromTerm", Inputs: map[string]Ref{"term": One("root")}})
	appendStep(t, store, &Step{ID: "join", Type: "Merge", Inputs: map[string]Ref{"infos": Many("right", "left")}})

	first, err := Linearize(context.Background(), store, "join", Options{Registry: testRegistry(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "left", "right", "join"}, ids(first.Steps))

	pos := make(map[string]int)
	for i, s := range first.Steps {
		pos[s.ID] = i
	}
	for _, s := range first.Steps {
		for _, parent := range s.Parents() {
			assert.Less(t, pos[parent], pos[s.ID], "%s must follow %s", s.ID, parent)
		}
	}

	for range 20 {
		again, err := Linearize(context.Background(), store, "join", Options{})
		require.NoError(t, err)
		assert.Equal(t, ids(first.Steps), ids(again.Steps))
	}
}

func TestLinearizeDanglingLenientKeepsStep(t *testing.T) {
	store := NewMemoryStore()
	appendStep(t, store, termStep("A", "ACE2"))
	store.Put(&Step{ID: "C", Type: "InfoFromTerm", Seq: 5, Inputs: map[string]Ref{"term": One("ghost")}})

	lin, err := Linearize(context.Background(), store, "C", Options{Mode: ModeLenient})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, ids(lin.Steps))
	require.Len(t, lin.Dangling, 1)
	assert.Equal(t, DanglingReference{StepID: "C", Param: "term", MissingID: "ghost"}, lin.Dangling[0])
	assert.False(t, lin.Executable("C"))
}

func TestLinearizeDanglingStrictFails(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Step{ID: "C", Type: "InfoFromTerm", Seq: 1, Inputs: map[string]Ref{"term": One("ghost")}})

	_, err := Linearize(context.Background(), store, "C", Options{Mode: ModeStrict})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDanglingReference))

	var dangling DanglingReference
	require.True(t, errors.As(err, &dangling))
	assert.Equal(t, "ghost", dangling.MissingID)
}

func TestLinearizeTypeMismatch(t *testing.T) {
	reg := testRegistry(t)
	store := NewMemoryStore()
	appendStep(t, store, termStep("A", "ACE2"))
	// Merge expects InfoValue but Term produces TermValue.
	store.Put(&Step{ID: "M", Type: "Merge", Seq: 9, Inputs: map[string]Ref{"infos": Many("A")}})

	lin, err := Linearize(context.Background(), store, "M", Options{Registry: reg})
	require.NoError(t, err)
	require.Len(t, lin.Mismatched, 1)
	assert.Equal(t, "TermValue", lin.Mismatched[0].Got)
	assert.False(t, lin.Executable("M"))
	assert.True(t, lin.Executable("A"))

	_, err = Linearize(context.Background(), store, "M", Options{Registry: reg, Mode: ModeStrict})
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestLinearizeMissingTarget(t *testing.T) {
	_, err := Linearize(context.Background(), NewMemoryStore(), "nope", Options{})
	assert.True(t, errors.Is(err, ErrStepNotFound))
}
