package cwl

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// Well-known bundle file names.
const (
	WorkflowFile = "workflow.cwl"
	InputsFile   = "inputs.yaml"
)

// File is one generated artifact.
type File struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// Bundle is a complete export: one tool file per definition, the workflow
// and the inputs document. Files are sorted by name.
type Bundle struct {
	Target      string `json:"target"`
	Files       []File `json:"files"`
	Fingerprint string `json:"fingerprint"`
}

// File returns the content of the named artifact.
func (b *Bundle) File(name string) ([]byte, bool) {
	for _, f := range b.Files {
		if f.Name == name {
			return f.Content, true
		}
	}
	return nil, false
}

// Names lists the artifact names in order.
func (b *Bundle) Names() []string {
	out := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		out = append(out, f.Name)
	}
	return out
}

func newBundle(target string, files map[string][]byte) *Bundle {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	b := &Bundle{Target: target, Files: make([]File, 0, len(names))}
	h := blake3.New()
	for _, name := range names {
		b.Files = append(b.Files, File{Name: name, Content: files[name]})
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(files[name])
		_, _ = h.Write([]byte{0})
	}
	b.Fingerprint = "blake3:" + hex.EncodeToString(h.Sum(nil))
	return b
}
