// Package cwl exports a linearized step graph as Common Workflow Language
// documents: one CommandLineTool per node definition, a Workflow wiring the
// steps, and an inputs document carrying resolved literal data.
package cwl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pwb/internal/engine"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

// DefaultVersion is the current release. Exported tools pin the runtime
// image to it unless the export config names another version.
const DefaultVersion = "0.1.0"

const (
	DefaultImage = "maayanlab/playbook-partnership"
	cwlVersion   = "v1.2"
	outputID     = "output.json"
)

// ErrUnresolvedLiteral means a step carrying literal data has no ready
// output, so its value cannot be embedded in the inputs document.
var ErrUnresolvedLiteral = errors.New("literal step output is not ready")

// Resolver supplies outputs of literal steps. *engine.Engine satisfies it.
type Resolver interface {
	ResolveOutput(ctx context.Context, stepID string) (engine.Result, error)
}

// Compiler turns linearizations into bundles.
type Compiler struct {
	Registry *metanode.Registry
	Resolver Resolver
	Image    string
	Version  string
}

type plannedStep struct {
	index int // 1-based
	name  string
	step  *graph.Step
	proc  *metanode.ProcessNode
	codec metanode.Codec
}

// Compile builds the bundle for lin. It is all-or-nothing: any dangling or
// mismatched edge, unregistered type or unready literal step fails the
// whole export and no bundle is returned.
func (c *Compiler) Compile(ctx context.Context, lin *graph.Linearization) (*Bundle, error) {
	if c.Registry == nil {
		return nil, fmt.Errorf("compiler has no registry")
	}
	if lin == nil {
		return nil, fmt.Errorf("linearization is nil")
	}
	if len(lin.Dangling) > 0 {
		return nil, fmt.Errorf("compile %q: %w", lin.Target, lin.Dangling[0])
	}
	if len(lin.Mismatched) > 0 {
		return nil, fmt.Errorf("compile %q: %w", lin.Target, lin.Mismatched[0])
	}

	plan, err := c.plan(lin)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", lin.Target, err)
	}

	literals, err := c.literals(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", lin.Target, err)
	}

	files := make(map[string][]byte)
	for _, p := range plan {
		name := p.proc.Spec + ".cwl"
		if _, done := files[name]; done {
			continue
		}
		body, err := encode(c.tool(p.proc, p.codec != nil))
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", p.proc.Spec, err)
		}
		files[name] = body
	}

	wf, err := encode(c.workflow(plan))
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	files[WorkflowFile] = wf

	inputs, err := encode(inputsDoc(plan, literals))
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	files[InputsFile] = inputs

	return newBundle(lin.Target, files), nil
}

func (c *Compiler) plan(lin *graph.Linearization) ([]plannedStep, error) {
	positions := make(map[string]int, len(lin.Steps))
	plan := make([]plannedStep, 0, len(lin.Steps))

	for i, step := range lin.Steps {
		n := i + 1
		proc, codec, ok := c.Registry.Process(step.Type)
		if !ok {
			return nil, fmt.Errorf("step %q: %w: %q", step.ID, graph.ErrUnknownProcessType, step.Type)
		}
		for _, name := range proc.InputNames() {
			ref, ok := step.Inputs[name]
			if !ok || len(ref.IDs) == 0 {
				return nil, fmt.Errorf("%w: step %q does not wire input %q", graph.ErrInvalidStep, step.ID, name)
			}
			for _, id := range ref.IDs {
				if pos, ok := positions[id]; !ok || pos >= n {
					return nil, graph.DanglingReference{StepID: step.ID, Param: name, MissingID: id}
				}
			}
		}
		positions[step.ID] = n
		plan = append(plan, plannedStep{
			index: n,
			name:  fmt.Sprintf("%d_%s", n, stepLabel(proc)),
			step:  step,
			proc:  proc,
			codec: codec,
		})
	}
	return plan, nil
}

// literals awaits every step that carries a codec and renders its output as
// JSON through the output data node codec.
func (c *Compiler) literals(ctx context.Context, plan []plannedStep) (map[int]string, error) {
	out := make(map[int]string)
	for _, p := range plan {
		if p.codec == nil {
			continue
		}
		if c.Resolver == nil {
			return nil, fmt.Errorf("%w: step %q: no resolver configured", ErrUnresolvedLiteral, p.step.ID)
		}
		res, err := c.Resolver.ResolveOutput(ctx, p.step.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: step %q: %w", ErrUnresolvedLiteral, p.step.ID, err)
		}
		if !res.Ready() {
			return nil, fmt.Errorf("%w: step %q is %s", ErrUnresolvedLiteral, p.step.ID, res.State)
		}
		data, ok := c.Registry.Data(p.proc.Output)
		if !ok {
			return nil, fmt.Errorf("step %q: output type %q is not registered", p.step.ID, p.proc.Output)
		}
		raw, err := data.Codec.Encode(res.Value)
		if err != nil {
			return nil, fmt.Errorf("step %q: encode output: %w", p.step.ID, err)
		}
		out[p.index] = string(raw)
	}
	return out, nil
}

func (c *Compiler) image() string {
	image := c.Image
	if image == "" {
		image = DefaultImage
	}
	version := c.Version
	if version == "" {
		version = DefaultVersion
	}
	return image + ":" + version
}

func (c *Compiler) tool(proc *metanode.ProcessNode, hasData bool) *yaml.Node {
	inputs := mapping()
	if hasData {
		set(inputs, "data", fileInput("File", "--data="))
	}
	for _, name := range proc.InputNames() {
		typ := "File"
		if proc.Inputs[name].Many {
			typ = "File[]"
		}
		set(inputs, name, fileInput(typ, "--inputs."+name+"="))
	}
	set(inputs, "output", set(set(set(mapping(),
		"type", str("string")),
		"default", str(outputID)),
		"inputBinding", binding("--output=")))

	outputs := mapping()
	set(outputs, outputID, set(set(mapping(),
		"type", str("File")),
		"outputBinding", set(mapping(), "glob", str("$(inputs.output)"))))

	docker := mapping()
	set(docker, "class", str("DockerRequirement"))
	set(docker, "dockerPull", str(c.image()))

	doc := mapping()
	set(doc, "cwlVersion", str(cwlVersion))
	set(doc, "class", str("CommandLineTool"))
	set(doc, "label", str(proc.Label()))
	set(doc, "baseCommand", flowSeq("pwb", proc.Spec))
	set(doc, "requirements", seq(docker))
	set(doc, "inputs", inputs)
	set(doc, "outputs", outputs)
	return doc
}

func fileInput(typ, prefix string) *yaml.Node {
	in := mapping()
	set(in, "type", str(typ))
	set(in, "inputBinding", binding(prefix))
	return in
}

func binding(prefix string) *yaml.Node {
	b := mapping()
	set(b, "prefix", str(prefix))
	set(b, "separate", boolean(false))
	return b
}

func (c *Compiler) workflow(plan []plannedStep) *yaml.Node {
	names := make(map[string]string, len(plan))
	for _, p := range plan {
		names[p.step.ID] = p.name
	}

	requirements := mapping()
	inputs := mapping()
	outputs := mapping()
	steps := mapping()
	fanIn := false

	for _, p := range plan {
		in := mapping()
		if p.codec != nil {
			dataInput := dataInputName(p.index)
			set(inputs, dataInput, set(mapping(), "type", str("File")))
			set(in, "data", str(dataInput))
		}
		for _, name := range p.proc.InputNames() {
			ref := p.step.Inputs[name]
			if p.proc.Inputs[name].Many {
				fanIn = true
				sources := make([]string, 0, len(ref.IDs))
				for _, id := range ref.IDs {
					sources = append(sources, names[id]+"/"+outputID)
				}
				set(in, name, set(mapping(), "source", flowSeq(sources...)))
				continue
			}
			set(in, name, set(mapping(), "source", str(names[ref.IDs[0]]+"/"+outputID)))
		}

		step := mapping()
		set(step, "run", str(p.proc.Spec+".cwl"))
		set(step, "in", in)
		set(step, "out", flowSeq(outputID))
		set(steps, p.name, step)

		out := mapping()
		set(out, "type", str("File"))
		set(out, "outputSource", str(p.name+"/"+outputID))
		set(outputs, fmt.Sprintf("step-%d-output", p.index), out)
	}

	if fanIn {
		set(requirements, "MultipleInputFeatureRequirement", mapping())
	}
	if len(requirements.Content) == 0 {
		requirements.Style = yaml.FlowStyle
	}
	if len(inputs.Content) == 0 {
		inputs.Style = yaml.FlowStyle
	}

	doc := mapping()
	set(doc, "cwlVersion", str(cwlVersion))
	set(doc, "class", str("Workflow"))
	set(doc, "requirements", requirements)
	set(doc, "inputs", inputs)
	set(doc, "outputs", outputs)
	set(doc, "steps", steps)
	return doc
}

func inputsDoc(plan []plannedStep, literals map[int]string) *yaml.Node {
	doc := mapping()
	for _, p := range plan {
		contents, ok := literals[p.index]
		if !ok {
			continue
		}
		file := mapping()
		set(file, "class", str("File"))
		set(file, "contents", str(contents))
		set(doc, dataInputName(p.index), file)
	}
	if len(doc.Content) == 0 {
		doc.Style = yaml.FlowStyle
	}
	return doc
}

func dataInputName(index int) string {
	return fmt.Sprintf("step-%d-data", index)
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// stepLabel reduces a definition label to a CWL-safe identifier, falling back
// to the spec when nothing usable is left.
func stepLabel(proc *metanode.ProcessNode) string {
	label := strings.Trim(nonIdent.ReplaceAllString(proc.Label(), "_"), "_")
	if label == "" {
		label = strings.Trim(nonIdent.ReplaceAllString(proc.Spec, "_"), "_")
	}
	return label
}
