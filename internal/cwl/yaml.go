package cwl

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Documents are built as yaml.Node trees so mapping keys keep insertion
// order; a Go map would be emitted sorted, and CWL readers expect cwlVersion
// and class first.

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode}
}

func set(m *yaml.Node, key string, value *yaml.Node) *yaml.Node {
	m.Content = append(m.Content, str(key), value)
	return m
}

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func boolean(v bool) *yaml.Node {
	value := "false"
	if v {
		value = "true"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: value}
}

func seq(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Content: items}
}

func flowSeq(items ...string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, item := range items {
		n.Content = append(n.Content, str(item))
	}
	return n
}

func encode(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close yaml encoder: %w", err)
	}
	return buf.Bytes(), nil
}
