package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

// CreateStepRequest is the JSON body for POST /api/db/process.
type CreateStepRequest struct {
	ID     string               `json:"id,omitempty"`
	Type   string               `json:"type"`
	Inputs map[string]graph.Ref `json:"inputs,omitempty"`
	Data   *graph.Data          `json:"data,omitempty"`
}

// OutputResponse reports the resolution state of one step.
type OutputResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"` // ready | waiting | failed
	Type    string          `json:"type,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
	Waiting []string        `json:"waiting,omitempty"`
}

// MetapathStep is one breadcrumb of a metapath report.
type MetapathStep struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Label      string    `json:"label"`
	Seq        int64     `json:"seq"`
	Parents    []string  `json:"parents"`
	Executable bool      `json:"executable"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// MetapathResponse is returned by GET /api/db/process/{id}/metapath.
type MetapathResponse struct {
	Target     string                    `json:"target"`
	Steps      []MetapathStep            `json:"steps"`
	Dangling   []graph.DanglingReference `json:"dangling"`
	Mismatched []graph.TypeMismatch      `json:"mismatched"`
}

// CWLResponse is returned by GET /api/db/process/{id}/cwl.
type CWLResponse struct {
	Target      string            `json:"target"`
	Fingerprint string            `json:"fingerprint"`
	Files       map[string]string `json:"files"`
}

// NodeResponse describes one registered definition.
type NodeResponse struct {
	Spec        string                    `json:"spec"`
	Kind        metanode.Kind             `json:"kind"`
	Label       string                    `json:"label"`
	Description string                    `json:"description,omitempty"`
	Color       string                    `json:"color,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
	Inputs      map[string]metanode.Input `json:"inputs,omitempty"`
	Output      string                    `json:"output,omitempty"`
	Prompt      *metanode.Prompt          `json:"prompt,omitempty"`
}

// StatusResponse acknowledges an accepted request.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	NodesRegistered int    `json:"nodes_registered"`
	Sessions        int    `json:"sessions"`
}
