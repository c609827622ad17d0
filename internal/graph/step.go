package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Step is one persisted invocation of a process node.
type Step struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Inputs    map[string]Ref `json:"inputs"`
	Data      *Data          `json:"data"`
	Seq       int64          `json:"seq"`
	CreatedAt time.Time      `json:"created_at"`
}

// Data is the literal payload of a parameterized step, serialized by the
// codec of the node named by Type.
type Data struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Ref points at one upstream step, or at several for a fan-in parameter.
// On the wire it is {"id": "..."} or [{"id": "..."}, ...].
type Ref struct {
	IDs  []string
	Many bool
}

// One returns a single-step reference.
func One(id string) Ref {
	return Ref{IDs: []string{id}}
}

// Many returns a fan-in reference.
func Many(ids ...string) Ref {
	return Ref{IDs: append([]string(nil), ids...), Many: true}
}

type refID struct {
	ID string `json:"id"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Many {
		out := make([]refID, 0, len(r.IDs))
		for _, id := range r.IDs {
			out = append(out, refID{ID: id})
		}
		return json.Marshal(out)
	}
	if len(r.IDs) != 1 {
		return nil, fmt.Errorf("single reference must hold exactly one id, got %d", len(r.IDs))
	}
	return json.Marshal(refID{ID: r.IDs[0]})
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []refID
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("invalid reference list: %w", err)
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		*r = Ref{IDs: ids, Many: true}
		return nil
	}
	var item refID
	if err := json.Unmarshal(b, &item); err != nil {
		return fmt.Errorf("invalid reference: %w", err)
	}
	*r = Ref{IDs: []string{item.ID}}
	return nil
}

// InputNames returns the step's parameter names in sorted order.
func (s *Step) InputNames() []string {
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parents returns the distinct upstream ids in parameter order.
func (s *Step) Parents() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range s.InputNames() {
		for _, id := range s.Inputs[name].IDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Inputs != nil {
		cp.Inputs = make(map[string]Ref, len(s.Inputs))
		for k, v := range s.Inputs {
			cp.Inputs[k] = Ref{IDs: append([]string(nil), v.IDs...), Many: v.Many}
		}
	}
	if s.Data != nil {
		d := *s.Data
		d.Value = append(json.RawMessage(nil), s.Data.Value...)
		cp.Data = &d
	}
	return &cp
}
