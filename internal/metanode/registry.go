package metanode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrRegistrationConflict = errors.New("registration conflict")
	ErrRegistryFrozen       = errors.New("registry is frozen")
)

// Registry holds node definitions indexed by spec. It is built once at
// startup, then frozen and shared read-only.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]Definition),
	}
}

// Register inserts def. Registering a structurally identical definition
// again is a no-op; a different shape under the same spec is a conflict.
func (r *Registry) Register(def Definition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}
	spec := strings.TrimSpace(def.SpecID())
	if spec == "" {
		return fmt.Errorf("definition spec is empty")
	}
	if spec != def.SpecID() {
		return fmt.Errorf("definition spec %q has surrounding whitespace", def.SpecID())
	}
	if err := checkDefinition(def); err != nil {
		return fmt.Errorf("definition %q: %w", spec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", spec, ErrRegistryFrozen)
	}
	if existing, ok := r.defs[spec]; ok {
		if shape(existing) == shape(def) {
			return nil
		}
		return fmt.Errorf("%w: spec %q already registered as %s", ErrRegistrationConflict, spec, shape(existing))
	}
	r.defs[spec] = def
	return nil
}

// MustRegister registers every definition and panics on the first error.
// Intended for static catalogs wired at process start.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

func checkDefinition(def Definition) error {
	switch d := def.(type) {
	case *DataNode:
		if d.Codec == nil {
			return fmt.Errorf("data node requires a codec")
		}
	case *ProcessNode:
		return checkProcess(d)
	case *ParameterizedNode:
		if d.Codec == nil {
			return fmt.Errorf("parameterized node requires a codec")
		}
		return checkProcess(&d.ProcessNode)
	default:
		return fmt.Errorf("unsupported definition type %T", def)
	}
	return nil
}

func checkProcess(p *ProcessNode) error {
	if strings.TrimSpace(p.Output) == "" {
		return fmt.Errorf("process node requires an output spec")
	}
	if p.Resolve == nil {
		return fmt.Errorf("process node requires a resolve function")
	}
	for name, in := range p.Inputs {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("input name is empty")
		}
		if name == "data" || name == "output" {
			return fmt.Errorf("input name %q is reserved", name)
		}
		if strings.TrimSpace(in.Spec) == "" {
			return fmt.Errorf("input %q has no spec", name)
		}
	}
	return nil
}

// Freeze checks that every process input and output names a registered data
// node and makes the registry read-only. Freezing twice is allowed.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	var problems []string
	for _, spec := range sortedKeys(r.defs) {
		p, _, ok := processView(r.defs[spec])
		if !ok {
			continue
		}
		if !r.isDataLocked(p.Output) {
			problems = append(problems, fmt.Sprintf("%s: output %q is not a registered data node", spec, p.Output))
		}
		for _, name := range p.InputNames() {
			in := p.Inputs[name]
			if !r.isDataLocked(in.Spec) {
				problems = append(problems, fmt.Sprintf("%s: input %q type %q is not a registered data node", spec, name, in.Spec))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("registry validation failed: %s", strings.Join(problems, "; "))
	}

	r.frozen = true
	return nil
}

// Frozen reports whether Freeze has completed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) isDataLocked(spec string) bool {
	_, ok := r.defs[spec].(*DataNode)
	return ok
}

// Lookup returns the definition registered under spec.
func (r *Registry) Lookup(spec string) (Definition, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[spec]
	return def, ok
}

// Data returns the data node registered under spec.
func (r *Registry) Data(spec string) (*DataNode, bool) {
	def, ok := r.Lookup(spec)
	if !ok {
		return nil, false
	}
	d, ok := def.(*DataNode)
	return d, ok
}

// Process returns the process view of either process variant, together with
// the literal-data codec for parameterized nodes (nil otherwise).
func (r *Registry) Process(spec string) (*ProcessNode, Codec, bool) {
	def, ok := r.Lookup(spec)
	if !ok {
		return nil, nil, false
	}
	return processView(def)
}

func processView(def Definition) (*ProcessNode, Codec, bool) {
	switch d := def.(type) {
	case *ProcessNode:
		return d, nil, true
	case *ParameterizedNode:
		return &d.ProcessNode, d.Codec, true
	case *DataNode:
		return nil, nil, false
	}
	return nil, nil, false
}

// Specs returns all registered specs, sorted.
func (r *Registry) Specs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.defs)
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

func sortedKeys(m map[string]Definition) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
