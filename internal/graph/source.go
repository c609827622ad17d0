package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mattjoyce/pwb/internal/graph Source

// Source reads step records. Get returns an error wrapping ErrStepNotFound
// when the id is absent.
type Source interface {
	Get(ctx context.Context, id string) (*Step, error)
}

// Store is a Source that can also append and enumerate steps.
type Store interface {
	Source
	Append(ctx context.Context, step *Step) (*Step, error)
	List(ctx context.Context) ([]*Step, error)
}

// MemoryStore is an in-process Store, used by tests and the CLI when no
// database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	steps map[string]*Step
	seq   int64
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps: make(map[string]*Step),
		now:   time.Now,
	}
}

// Get returns a copy of the step.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStepNotFound, id)
	}
	return s.Clone(), nil
}

// Append stores step, assigning an id when empty and the next creation index.
// Every referenced id must already exist, which keeps the graph acyclic.
func (m *MemoryStore) Append(ctx context.Context, step *Step) (*Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step == nil {
		return nil, fmt.Errorf("%w: step is nil", ErrInvalidStep)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := step.Clone()
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, exists := m.steps[s.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidStep, s.ID)
	}
	for _, name := range s.InputNames() {
		for _, id := range s.Inputs[name].IDs {
			if _, ok := m.steps[id]; !ok {
				return nil, DanglingReference{StepID: s.ID, Param: name, MissingID: id}
			}
		}
	}

	m.seq++
	s.Seq = m.seq
	s.CreatedAt = m.now().UTC()
	m.steps[s.ID] = s
	return s.Clone(), nil
}

// Put stores step verbatim, including its Seq. It performs no reference
// checks and exists to model graphs damaged outside the core (imports,
// manual edits) in diagnostics and tests.
func (m *MemoryStore) Put(step *Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := step.Clone()
	if s.Seq > m.seq {
		m.seq = s.Seq
	}
	m.steps[s.ID] = s
}

// List returns all steps in creation order.
func (m *MemoryStore) List(ctx context.Context) ([]*Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Step, 0, len(m.steps))
	for _, s := range m.steps {
		out = append(out, s.Clone())
	}
	sortSteps(out)
	return out, nil
}

func sortSteps(steps []*Step) {
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Seq == steps[j].Seq {
			return steps[i].ID < steps[j].ID
		}
		return steps[i].Seq < steps[j].Seq
	})
}
