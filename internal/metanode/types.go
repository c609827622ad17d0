// Package metanode defines the typed building blocks of a playbook: data
// nodes describing a value and its codec, and process nodes that turn typed
// inputs into a typed output.
package metanode

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Kind identifies which variant a Definition is.
type Kind string

const (
	KindData          Kind = "data"
	KindProcess       Kind = "process"
	KindParameterized Kind = "parameterized"
)

// Meta is descriptive information used by presentation layers. The core only
// reads Label.
type Meta struct {
	Label       string   `json:"label,omitempty" yaml:"label,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Color       string   `json:"color,omitempty" yaml:"color,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Codec converts between a value and its serialized JSON form. Decode is
// also where validation happens.
type Codec interface {
	Encode(v any) (json.RawMessage, error)
	Decode(raw json.RawMessage) (any, error)
}

// Definition is implemented by *DataNode, *ProcessNode and *ParameterizedNode
// only.
type Definition interface {
	SpecID() string
	Kind() Kind
	Label() string
	sealed()
}

// DataNode describes a value type.
type DataNode struct {
	Spec  string
	Meta  Meta
	Codec Codec
}

func (n *DataNode) SpecID() string { return n.Spec }
func (n *DataNode) Kind() Kind     { return KindData }
func (n *DataNode) Label() string  { return labelOr(n.Meta.Label, n.Spec) }
func (n *DataNode) sealed()        {}

// Input declares one parameter of a process node. Many marks a fan-in
// parameter accepting any number of upstream steps.
type Input struct {
	Spec string `json:"spec"`
	Many bool   `json:"many,omitempty"`
}

// ResolveRequest carries the gathered upstream outputs and the decoded
// literal data (nil when the step has none). Fan-in inputs are []any.
type ResolveRequest struct {
	Inputs map[string]any
	Data   any
}

// ResolveFunc computes a process node output. It may block and may fail.
type ResolveFunc func(ctx context.Context, req ResolveRequest) (any, error)

// ProcessNode describes a computation from typed inputs to a typed output.
type ProcessNode struct {
	Spec    string
	Meta    Meta
	Inputs  map[string]Input
	Output  string
	Resolve ResolveFunc
}

func (n *ProcessNode) SpecID() string { return n.Spec }
func (n *ProcessNode) Kind() Kind     { return KindProcess }
func (n *ProcessNode) Label() string  { return labelOr(n.Meta.Label, n.Spec) }
func (n *ProcessNode) sealed()        {}

// InputNames returns parameter names in sorted order.
func (n *ProcessNode) InputNames() []string {
	names := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompt is the interactive capability of a parameterized node. It is opaque
// to the core apart from being carried along.
type Prompt struct {
	Description string `json:"description,omitempty"`
	Example     any    `json:"example,omitempty"`
}

// ParameterizedNode is a process node whose steps carry literal data, which
// is decoded by Codec before being handed to Resolve.
type ParameterizedNode struct {
	ProcessNode
	Codec  Codec
	Prompt Prompt
}

func (n *ParameterizedNode) Kind() Kind { return KindParameterized }
func (n *ParameterizedNode) sealed()    {}

func labelOr(label, spec string) string {
	if strings.TrimSpace(label) != "" {
		return label
	}
	return spec
}

// shape is the structural signature used to detect registration conflicts.
// Functions cannot be compared, so only types and wiring are considered.
func shape(def Definition) string {
	var b strings.Builder
	b.WriteString(string(def.Kind()))
	switch d := def.(type) {
	case *DataNode:
		b.WriteString("|codec=")
		b.WriteString(boolString(d.Codec != nil))
	case *ProcessNode:
		writeProcessShape(&b, d)
	case *ParameterizedNode:
		writeProcessShape(&b, &d.ProcessNode)
		b.WriteString("|codec=")
		b.WriteString(boolString(d.Codec != nil))
	}
	return b.String()
}

func writeProcessShape(b *strings.Builder, p *ProcessNode) {
	b.WriteString("|out=")
	b.WriteString(p.Output)
	for _, name := range p.InputNames() {
		in := p.Inputs[name]
		b.WriteString("|in:")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(in.Spec)
		if in.Many {
			b.WriteString("[]")
		}
	}
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
