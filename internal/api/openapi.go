package api

import (
	"net/http"

	"github.com/mattjoyce/pwb/internal/metanode"
)

// handleOpenAPI serves a generated OpenAPI document (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.registry))
}

// buildOpenAPIDoc describes the step graph routes. The step type enum lists
// every registered process node.
func buildOpenAPIDoc(reg *metanode.Registry) map[string]any {
	var processTypes []string
	for _, spec := range reg.Specs() {
		if _, _, ok := reg.Process(spec); ok {
			processTypes = append(processTypes, spec)
		}
	}

	security := []any{map[string]any{"BearerAuth": []string{}}}
	idParam := []any{map[string]any{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}}
	op := func(id, summary string, responses map[string]any) map[string]any {
		return map[string]any{
			"operationId": id,
			"summary":     summary,
			"security":    security,
			"responses":   responses,
		}
	}
	resp := func(desc string) map[string]any {
		return map[string]any{"description": desc}
	}

	createStep := op("createStep", "Append a step to the graph", map[string]any{
		"201": resp("Step stored"),
		"400": resp("Invalid step or literal data"),
		"422": resp("Unknown type, dangling reference or type mismatch"),
	})
	createStep["requestBody"] = map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{
					"type":     "object",
					"required": []string{"type"},
					"properties": map[string]any{
						"id":     map[string]any{"type": "string"},
						"type":   map[string]any{"type": "string", "enum": processTypes},
						"inputs": map[string]any{"type": "object"},
						"data":   map[string]any{"type": "object"},
					},
				},
			},
		},
	}

	withID := func(m map[string]any) map[string]any {
		m["parameters"] = idParam
		return m
	}

	paths := map[string]any{
		"/api/nodes": map[string]any{
			"get": op("listNodes", "List registered definitions", map[string]any{"200": resp("Definitions")}),
		},
		"/api/db/process": map[string]any{
			"post": createStep,
		},
		"/api/db/process/{id}": map[string]any{
			"get": withID(op("getStep", "Fetch a stored step", map[string]any{
				"200": resp("Step"), "404": resp("Step not found"),
			})),
		},
		"/api/db/process/{id}/output": map[string]any{
			"get": withID(op("getOutput", "Resolve a step output", map[string]any{
				"200": resp("Ready, failed or waiting"), "404": resp("Step not found"),
			})),
		},
		"/api/db/process/{id}/output/delete": map[string]any{
			"post": withID(op("invalidateOutput", "Drop a cached output", map[string]any{
				"202": resp("Accepted"), "404": resp("Step not found"),
			})),
		},
		"/api/db/process/{id}/metapath": map[string]any{
			"get": withID(op("getMetapath", "Linearize a step and its ancestors", map[string]any{
				"200": resp("Metapath"), "404": resp("Step not found"),
			})),
		},
		"/api/db/process/{id}/cwl": map[string]any{
			"get": withID(op("exportCWL", "Compile the metapath to CWL", map[string]any{
				"200": resp("CWL bundle"),
				"404": resp("Step not found"),
				"409": resp("Literal data not resolvable"),
				"422": resp("Graph not exportable"),
			})),
		},
		"/events": map[string]any{
			"get": op("streamEvents", "Server-sent step events", map[string]any{"200": resp("Event stream")}),
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Playbook Workflow Builder",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
