package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepWireShape(t *testing.T) {
	raw := []byte(`{
  "id": "b",
  "type": "SetUnion",
  "inputs": {"sets": [{"id": "a1"}, {"id": "a2"}], "term": {"id": "t"}},
  "data": null
}`)

	var s Step
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, Many("a1", "a2"), s.Inputs["sets"])
	assert.Equal(t, One("t"), s.Inputs["term"])
	assert.Nil(t, s.Data)
	assert.Equal(t, []string{"a1", "a2", "t"}, s.Parents())

	out, err := json.Marshal(s.Inputs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sets":[{"id":"a1"},{"id":"a2"}],"term":{"id":"t"}}`, string(out))
}

func TestRefMarshalRejectsMultiIDSingleRef(t *testing.T) {
	_, err := json.Marshal(Ref{IDs: []string{"a", "b"}})
	assert.Error(t, err)
}

func TestStepCloneIsDeep(t *testing.T) {
	s := &Step{
		ID:     "a",
		Inputs: map[string]Ref{"x": Many("p", "q")},
		Data:   &Data{Type: "T", Value: json.RawMessage(`"v"`)},
	}
	cp := s.Clone()
	cp.Inputs["x"].IDs[0] = "changed"
	cp.Data.Value[1] = 'w'

	assert.Equal(t, "p", s.Inputs["x"].IDs[0])
	assert.Equal(t, `"v"`, string(s.Data.Value))
}
