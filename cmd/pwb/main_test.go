package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pwb/internal/cwl"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/inspect"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	exports := filepath.Join(dir, "exports")
	body := fmt.Sprintf(`service:
  name: pwb-test
  log_level: error
state:
  driver: sqlite
  path: %s
export:
  image: example/pwb
  version: "1.2.3"
  dir: %s
`, filepath.Join(dir, "data", "pwb.db"), exports)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, exports
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func addStep(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	code, out, errOut := runCLI(t, append([]string{"step", "add", "--config", cfgPath}, args...)...)
	require.Equal(t, 0, code, errOut)
	return strings.TrimSpace(out)
}

func TestUsage(t *testing.T) {
	code, _, errOut := runCLI(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage:")

	code, out, _ := runCLI(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "metapath <id>")

	code, _, errOut = runCLI(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: bogus")
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	require.Equal(t, 0, code)
	assert.Equal(t, "pwb version "+version+"\n", out)

	code, out, _ = runCLI(t, "version", "--json")
	require.Equal(t, 0, code)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, version, v["version"])
	assert.Equal(t, cwl.DefaultImage, v["image"])
}

func TestNodes(t *testing.T) {
	code, out, _ := runCLI(t, "nodes", "--kind", "parameterized")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "InputGene ")
	assert.NotContains(t, out, "GeneSetUnion")

	code, out, _ = runCLI(t, "nodes", "--json")
	require.Equal(t, 0, code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.NotEmpty(t, rows)
}

func TestStepLifecycle(t *testing.T) {
	cfgPath, exports := writeConfig(t)

	a := addStep(t, cfgPath, "--type", "InputGeneSet", "--id", "a", "--data", `{"set":["TP53","ACE2"]}`)
	assert.Equal(t, "a", a)
	b := addStep(t, cfgPath, "--type", "InputGene", "--data", `"BRCA1"`)
	assert.NotEmpty(t, b)
	bs := addStep(t, cfgPath, "--type", "GeneTermToSet", "--in", "term="+b)
	u := addStep(t, cfgPath, "--type", "GeneSetUnion", "--id", "u", "--in", "sets=a,"+bs)

	code, out, errOut := runCLI(t, "step", "show", u, "--config", cfgPath)
	require.Equal(t, 0, code, errOut)
	var step graph.Step
	require.NoError(t, json.Unmarshal([]byte(out), &step))
	assert.True(t, step.Inputs["sets"].Many)
	assert.Equal(t, []string{"a", bs}, step.Inputs["sets"].IDs)

	code, out, _ = runCLI(t, "step", "list", "--config", cfgPath)
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "1\ta\tInputGeneSet\t-"))

	code, out, errOut = runCLI(t, "metapath", u, "--config", cfgPath, "--json", "--resolve")
	require.Equal(t, 0, code, errOut)
	var report inspect.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Steps, 4)
	last := report.Steps[3]
	assert.Equal(t, "u", last.ID)
	assert.Equal(t, "ready", last.State)
	assert.JSONEq(t, `{"set":["TP53","ACE2","BRCA1"]}`, string(last.Output))

	code, out, errOut = runCLI(t, "export", u, "--config", cfgPath)
	require.Equal(t, 0, code, errOut)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.Len(t, fields, 2)
	assert.True(t, strings.HasPrefix(fields[0], "blake3:"))
	assert.Equal(t, filepath.Join(exports, u), fields[1])

	tool, err := os.ReadFile(filepath.Join(exports, u, "InputGene.cwl"))
	require.NoError(t, err)
	assert.Contains(t, string(tool), "example/pwb:1.2.3")
	_, err = os.Stat(filepath.Join(exports, u, cwl.WorkflowFile))
	require.NoError(t, err)

	// The target directory exists now, so a second export into it fails.
	code, _, errOut = runCLI(t, "export", u, "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")

	other := t.TempDir()
	code, _, errOut = runCLI(t, "export", u, "--config", cfgPath, "--out", other)
	require.Equal(t, 0, code, errOut)
	_, err = os.Stat(filepath.Join(other, u, cwl.InputsFile))
	require.NoError(t, err)
}

func TestStepAddRejectsInvalid(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	code, _, errOut := runCLI(t, "step", "add", "--config", cfgPath, "--type", "Nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Nope")

	code, _, errOut = runCLI(t, "step", "add", "--config", cfgPath, "--type", "GeneTermToSet", "--in", "term=missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Invalid step")

	code, _, errOut = runCLI(t, "step", "add", "--config", cfgPath, "--type", "InputGene", "--data", "not json")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not valid JSON")

	code, _, _ = runCLI(t, "step", "add", "--config", cfgPath)
	assert.Equal(t, 1, code)

	code, out, _ := runCLI(t, "step", "list", "--config", cfgPath)
	require.Equal(t, 0, code)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestExportUsage(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	code, _, errOut := runCLI(t, "export", "x", "--config", cfgPath, "--s3", "--out", "dir")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage:")

	code, _, errOut = runCLI(t, "export", "x", "--config", cfgPath, "--s3")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "export.s3 is not configured")

	code, _, errOut = runCLI(t, "export", "missing", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Export failed")
}

func TestDoctor(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	addStep(t, cfgPath, "--type", "InputGene", "--data", `"ACE2"`)

	code, out, errOut := runCLI(t, "doctor", "--config", cfgPath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "1 step(s) checked")

	code, out, _ = runCLI(t, "doctor", "--config", cfgPath, "--format", "json")
	require.Equal(t, 0, code)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, true, result["valid"])
}

func TestConfigGet(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	code, out, errOut := runCLI(t, "config", "get", "export.version", "--config", cfgPath)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "1.2.3\n", out)

	code, out, _ = runCLI(t, "config", "get", "engine.max_parallel", "--config", cfgPath, "--json")
	require.Equal(t, 0, code)
	assert.Equal(t, "8", strings.TrimSpace(out))

	code, _, errOut = runCLI(t, "config", "get", "nope.key", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")

	code, out, _ = runCLI(t, "config", "show", "--config", cfgPath)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "pwb-test")
}

func TestSplitPositional(t *testing.T) {
	id, rest := splitPositional([]string{"--config", "c.yaml", "abc", "--json"}, "config")
	assert.Equal(t, "abc", id)
	assert.Equal(t, []string{"--config", "c.yaml", "--json"}, rest)

	id, rest = splitPositional([]string{"--json"})
	assert.Empty(t, id)
	assert.Equal(t, []string{"--json"}, rest)
}

func TestInputFlags(t *testing.T) {
	f := inputFlags{}
	require.NoError(t, f.Set("sets=a, b"))
	require.NoError(t, f.Set("term=x"))
	assert.Error(t, f.Set("novalue"))
	assert.Error(t, f.Set("=a"))
	assert.Equal(t, "sets=a,b term=x", f.String())
}
