package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/pwb/internal/cwl"
	"github.com/mattjoyce/pwb/internal/engine"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

const maxStepBodyBytes = 2 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		NodesRegistered: s.registry.Len(),
		Sessions:        s.engines.Sessions(),
	})
}

// handleListNodes handles GET /api/nodes.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	specs := s.registry.Specs()
	out := make([]NodeResponse, 0, len(specs))
	for _, spec := range specs {
		def, ok := s.registry.Lookup(spec)
		if !ok {
			continue
		}
		out = append(out, nodeResponse(def))
	}
	respondJSON(w, http.StatusOK, out)
}

func nodeResponse(def metanode.Definition) NodeResponse {
	resp := NodeResponse{Spec: def.SpecID(), Kind: def.Kind(), Label: def.Label()}
	var meta metanode.Meta
	switch d := def.(type) {
	case *metanode.DataNode:
		meta = d.Meta
	case *metanode.ProcessNode:
		meta = d.Meta
		resp.Inputs = d.Inputs
		resp.Output = d.Output
	case *metanode.ParameterizedNode:
		meta = d.Meta
		resp.Inputs = d.Inputs
		resp.Output = d.Output
		prompt := d.Prompt
		resp.Prompt = &prompt
	}
	resp.Description = meta.Description
	resp.Color = meta.Color
	resp.Tags = meta.Tags
	return resp
}

// handleCreateStep handles POST /api/db/process.
func (s *Server) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	var req CreateStepRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStepBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	step := &graph.Step{
		ID:     strings.TrimSpace(req.ID),
		Type:   strings.TrimSpace(req.Type),
		Inputs: req.Inputs,
		Data:   req.Data,
	}
	if step.Data != nil && step.Data.Type == "" {
		step.Data.Type = step.Type
	}

	if err := graph.Validate(r.Context(), s.store, s.registry, step); err != nil {
		s.writeError(w, statusForGraphError(err), err.Error())
		return
	}
	stored, err := s.store.Append(r.Context(), step)
	if err != nil {
		status := statusForGraphError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("failed to append step", "type", step.Type, "error", err)
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.logger.Info("step appended", "step_id", stored.ID, "type", stored.Type, "seq", stored.Seq)
	respondJSON(w, http.StatusCreated, stored)
}

// handleGetStep handles GET /api/db/process/{id}.
func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	step, ok := s.loadStep(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, step)
}

// handleGetOutput handles GET /api/db/process/{id}/output. Waiting and
// failed are both 200 responses, told apart by status.
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.engineFor(r).ResolveOutput(r.Context(), id)
	switch {
	case errors.Is(err, graph.ErrStepNotFound):
		s.writeError(w, http.StatusNotFound, "step not found")
		return
	case r.Context().Err() != nil:
		// Client went away; the computation continues in the background.
		return
	case err != nil:
		s.logger.Error("failed to resolve output", "step_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve output")
		return
	}

	resp := OutputResponse{ID: id, Status: string(res.State), Waiting: res.Waiting}
	switch res.State {
	case engine.StateReady:
		resp.Type = res.OutputType
		value, err := s.encodeValue(res)
		if err != nil {
			s.logger.Error("failed to encode output", "step_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to encode output")
			return
		}
		resp.Value = value
	case engine.StateFailed:
		resp.Error = res.Err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) encodeValue(res engine.Result) (json.RawMessage, error) {
	if data, ok := s.registry.Data(res.OutputType); ok && data.Codec != nil {
		return data.Codec.Encode(res.Value)
	}
	return json.Marshal(res.Value)
}

// handleDeleteOutput handles POST /api/db/process/{id}/output/delete.
// Dependents are left cached; clients recompute them explicitly.
func (s *Server) handleDeleteOutput(w http.ResponseWriter, r *http.Request) {
	step, ok := s.loadStep(w, r)
	if !ok {
		return
	}
	dropped := s.engineFor(r).Invalidate(step.ID)
	s.logger.Debug("output invalidation requested", "step_id", step.ID, "dropped", dropped)
	respondJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}

// handleMetapath handles GET /api/db/process/{id}/metapath.
func (s *Server) handleMetapath(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lin, err := graph.Linearize(r.Context(), s.store, id, graph.Options{Mode: graph.ModeLenient, Registry: s.registry})
	if err != nil {
		s.writeError(w, statusForGraphError(err), err.Error())
		return
	}

	eng := s.engineFor(r)
	resp := MetapathResponse{
		Target:     lin.Target,
		Steps:      make([]MetapathStep, 0, len(lin.Steps)),
		Dangling:   lin.Dangling,
		Mismatched: lin.Mismatched,
	}
	if resp.Dangling == nil {
		resp.Dangling = []graph.DanglingReference{}
	}
	if resp.Mismatched == nil {
		resp.Mismatched = []graph.TypeMismatch{}
	}
	for _, step := range lin.Steps {
		label := step.Type
		if def, ok := s.registry.Lookup(step.Type); ok {
			label = def.Label()
		}
		parents := step.Parents()
		if parents == nil {
			parents = []string{}
		}
		resp.Steps = append(resp.Steps, MetapathStep{
			ID:         step.ID,
			Type:       step.Type,
			Label:      label,
			Seq:        step.Seq,
			Parents:    parents,
			Executable: lin.Executable(step.ID),
			State:      string(eng.Peek(step.ID).State),
			CreatedAt:  step.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCWL handles GET /api/db/process/{id}/cwl.
func (s *Server) handleCWL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lin, err := graph.Linearize(r.Context(), s.store, id, graph.Options{Mode: graph.ModeStrict, Registry: s.registry})
	if err != nil {
		s.writeError(w, statusForGraphError(err), err.Error())
		return
	}

	compiler := &cwl.Compiler{
		Registry: s.registry,
		Resolver: s.engineFor(r),
		Image:    s.config.Image,
		Version:  s.config.Version,
	}
	bundle, err := compiler.Compile(r.Context(), lin)
	if err != nil {
		if errors.Is(err, cwl.ErrUnresolvedLiteral) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, statusForGraphError(err), err.Error())
		return
	}

	resp := CWLResponse{Target: bundle.Target, Fingerprint: bundle.Fingerprint, Files: make(map[string]string, len(bundle.Files))}
	for _, f := range bundle.Files {
		resp.Files[f.Name] = string(f.Content)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) loadStep(w http.ResponseWriter, r *http.Request) (*graph.Step, bool) {
	id := chi.URLParam(r, "id")
	step, err := s.store.Get(r.Context(), id)
	if errors.Is(err, graph.ErrStepNotFound) {
		s.writeError(w, http.StatusNotFound, "step not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load step", "step_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load step")
		return nil, false
	}
	return step, true
}

func statusForGraphError(err error) int {
	switch {
	case errors.Is(err, graph.ErrStepNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrDanglingReference),
		errors.Is(err, graph.ErrTypeMismatch),
		errors.Is(err, graph.ErrUnknownProcessType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, graph.ErrInvalidStep),
		errors.Is(err, metanode.ErrCodecValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
