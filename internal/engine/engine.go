package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/pwb/internal/events"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/log"
	"github.com/mattjoyce/pwb/internal/metanode"
)

const defaultMaxParallel = 8

type cell struct {
	done   chan struct{}
	result Result
	err    error
}

func (c *cell) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Engine owns one execution cache.
type Engine struct {
	registry    *metanode.Registry
	source      graph.Source
	logger      *slog.Logger
	events      events.Publisher
	session     string
	maxParallel int

	mu    sync.Mutex
	cells map[string]*cell
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithSession(id string) Option {
	return func(e *Engine) { e.session = id }
}

// WithMaxParallel bounds how many ancestors of one step are awaited
// concurrently. Values below 1 are ignored.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// New creates an engine with an empty cache.
func New(reg *metanode.Registry, src graph.Source, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		source:      src,
		maxParallel: defaultMaxParallel,
		cells:       make(map[string]*cell),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.WithComponent("engine")
	}
	return e
}

// ResolveOutput returns the output of stepID, computing it and its ancestors
// if needed. The returned error is reserved for conditions where no result
// exists at all: the step is absent, the store failed, or ctx ended before
// the result was available. Waiting and failed are normal results.
//
// Cancelling ctx only stops this caller from waiting; a started computation
// runs to completion and is cached for later callers.
func (e *Engine) ResolveOutput(ctx context.Context, stepID string) (Result, error) {
	e.mu.Lock()
	c, ok := e.cells[stepID]
	if !ok {
		c = &cell{done: make(chan struct{})}
		e.cells[stepID] = c
		e.mu.Unlock()
		go e.compute(context.WithoutCancel(ctx), stepID, c)
	} else {
		e.mu.Unlock()
	}

	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return Result{StepID: stepID, State: StateInFlight}, ctx.Err()
	}
}

// ResolveAll resolves every step of a linearization in order.
func (e *Engine) ResolveAll(ctx context.Context, lin *graph.Linearization) ([]Result, error) {
	out := make([]Result, 0, len(lin.Steps))
	for _, step := range lin.Steps {
		res, err := e.ResolveOutput(ctx, step.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", step.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Peek reports the cached state of stepID without starting any work.
func (e *Engine) Peek(stepID string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cells[stepID]
	if !ok {
		return Result{StepID: stepID, State: StatePending}
	}
	if !c.settled() {
		return Result{StepID: stepID, State: StateInFlight}
	}
	return c.result
}

// Invalidate drops a settled (ready or failed) entry so the next
// ResolveOutput recomputes it. An in-flight computation is left alone and
// false is returned. Dependents are not invalidated.
func (e *Engine) Invalidate(stepID string) bool {
	e.mu.Lock()
	c, ok := e.cells[stepID]
	if !ok || !c.settled() {
		e.mu.Unlock()
		return false
	}
	delete(e.cells, stepID)
	e.mu.Unlock()

	e.logger.Info("step output invalidated", "step_id", stepID)
	e.publish(events.StepInvalidated, stepID, nil)
	return true
}

func (e *Engine) compute(ctx context.Context, stepID string, c *cell) {
	res, err := e.run(ctx, stepID)

	// Report before settling so observers see the transition before any
	// caller can act on the result.
	switch {
	case err != nil:
		e.logger.Warn("step could not be loaded", "step_id", stepID, "error", err)
	case res.State == StateReady:
		e.publish(events.StepReady, stepID, map[string]any{"output_type": res.OutputType})
	case res.State == StateFailed:
		e.logger.Error("step failed", "step_id", stepID, "error", res.Err)
		e.publish(events.StepFailed, stepID, map[string]any{"error": res.Err.Error()})
	case res.State == StateWaiting:
		e.logger.Debug("step waiting for input", "step_id", stepID, "waiting", res.Waiting)
		e.publish(events.StepWaiting, stepID, map[string]any{"waiting": res.Waiting})
	}

	e.mu.Lock()
	c.result, c.err = res, err
	if err != nil || res.State == StateWaiting {
		if e.cells[stepID] == c {
			delete(e.cells, stepID)
		}
	}
	close(c.done)
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, stepID string) (Result, error) {
	step, err := e.source.Get(ctx, stepID)
	if err != nil {
		return Result{}, fmt.Errorf("load step %q: %w", stepID, err)
	}

	proc, codec, ok := e.registry.Process(step.Type)
	if !ok {
		return Result{
			StepID: stepID,
			State:  StateFailed,
			Err:    fmt.Errorf("%w: %q", graph.ErrUnknownProcessType, step.Type),
		}, nil
	}

	inputs, waiting := e.gather(ctx, step, proc)

	var data any
	if codec != nil {
		data = e.literalData(step, codec)
		if data == nil {
			waiting = append(waiting, DataParam)
		}
	}

	if len(waiting) > 0 {
		return Result{StepID: stepID, State: StateWaiting, Waiting: waiting}, nil
	}

	e.publish(events.StepInFlight, stepID, nil)
	value, err := invoke(ctx, proc.Resolve, metanode.ResolveRequest{Inputs: inputs, Data: data})
	if err != nil {
		return Result{
			StepID: stepID,
			State:  StateFailed,
			Err:    fmt.Errorf("%w: %s: %w", ErrResolveFailure, step.Type, err),
		}, nil
	}
	return Result{StepID: stepID, State: StateReady, OutputType: proc.Output, Value: value}, nil
}

// gather resolves every referenced ancestor concurrently and returns the
// inputs map plus the names of parameters that are not ready.
func (e *Engine) gather(ctx context.Context, step *graph.Step, proc *metanode.ProcessNode) (map[string]any, []string) {
	type edge struct {
		param string
		index int
		id    string
	}

	var edges []edge
	var waiting []string
	for _, name := range proc.InputNames() {
		ref, ok := step.Inputs[name]
		if !ok || len(ref.IDs) == 0 {
			waiting = append(waiting, name)
			continue
		}
		for i, id := range ref.IDs {
			edges = append(edges, edge{param: name, index: i, id: id})
		}
	}

	results := make([]Result, len(edges))
	var g errgroup.Group
	g.SetLimit(e.maxParallel)
	for i, ed := range edges {
		g.Go(func() error {
			res, err := e.ResolveOutput(ctx, ed.id)
			if err != nil {
				e.logger.Debug("ancestor unavailable", "step_id", step.ID, "param", ed.param, "upstream", ed.id, "error", err)
				res = Result{StepID: ed.id, State: StateWaiting}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	blocked := make(map[string]bool)
	for i, ed := range edges {
		res := results[i]
		want := proc.Inputs[ed.param].Spec
		if !res.Ready() || res.OutputType != want {
			blocked[ed.param] = true
		}
	}
	for _, name := range proc.InputNames() {
		if blocked[name] {
			waiting = append(waiting, name)
		}
	}
	if len(waiting) > 0 {
		return nil, waiting
	}

	inputs := make(map[string]any, len(proc.Inputs))
	for i, ed := range edges {
		if proc.Inputs[ed.param].Many {
			values, _ := inputs[ed.param].([]any)
			inputs[ed.param] = append(values, results[i].Value)
			continue
		}
		inputs[ed.param] = results[i].Value
	}
	return inputs, nil
}

// literalData decodes the step's literal payload. A payload that no longer
// decodes under the current codec is treated as absent.
func (e *Engine) literalData(step *graph.Step, codec metanode.Codec) any {
	if step.Data == nil {
		return nil
	}
	if step.Data.Type != step.Type {
		e.logger.Warn("ignoring literal data of another type", "step_id", step.ID, "data_type", step.Data.Type, "step_type", step.Type)
		return nil
	}
	v, err := codec.Decode(step.Data.Value)
	if err != nil {
		e.logger.Warn("literal data failed codec validation; treating as absent", "step_id", step.ID, "error", err)
		return nil
	}
	return v
}

func invoke(ctx context.Context, fn metanode.ResolveFunc, req metanode.ResolveRequest) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, req)
}

func (e *Engine) publish(eventType, stepID string, data any) {
	if e.events == nil {
		return
	}
	e.events.Publish(eventType, e.session, stepID, data)
}
