package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func TestDecompileText(t *testing.T) {
	out, err := execute(t, "decompile", "testdata/sample.json", "--method", "App.Program.Abs")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "// App.Program.Abs\n"))
	require.NotContains(t, out, "warning")
}

func TestDecompileJSON(t *testing.T) {
	out, err := execute(t, "decompile", "testdata/sample.json", "-o", "json")
	require.NoError(t, err)

	var outputs []methodOutput
	require.NoError(t, json.Unmarshal([]byte(out), &outputs))
	require.Len(t, outputs, 2)
	require.Equal(t, "App.Program.Abs", outputs[0].Method)
	require.Equal(t, "App.Program.Sum", outputs[1].Method)
	for _, o := range outputs {
		require.Empty(t, o.Error)
		require.NotEmpty(t, o.ID)
		require.NotEmpty(t, o.Tree)
	}
	require.Equal(t, "n", outputs[1].Names[0])
	require.Contains(t, outputs[1].Names, "total")
}

func TestDecompileUnknownMethod(t *testing.T) {
	_, err := execute(t, "decompile", "testdata/sample.json", "--method", "App.Program.Missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestDecompileConfigFile(t *testing.T) {
	withLoops, err := execute(t, "decompile", "testdata/sample.json", "-m", "App.Program.Sum")
	require.NoError(t, err)
	withoutLoops, err := execute(t, "decompile", "testdata/sample.json", "-m", "App.Program.Sum",
		"--config", "testdata/config.yaml")
	require.NoError(t, err)
	require.NotEqual(t, withLoops, withoutLoops)
	require.Contains(t, withoutLoops, "BlockContainer (loop)")
}

func TestSettingsFlagMatchesConfigFile(t *testing.T) {
	fromConfig, err := execute(t, "decompile", "testdata/sample.json", "-m", "App.Program.Sum",
		"--config", "testdata/config.yaml")
	require.NoError(t, err)
	fromFlag, err := execute(t, "decompile", "testdata/sample.json", "-m", "App.Program.Sum",
		"--high-level-loops=false")
	require.NoError(t, err)
	require.Equal(t, fromConfig, fromFlag)

	// Flags bound by an earlier command must not leak into the next one.
	defaults, err := execute(t, "decompile", "testdata/sample.json", "-m", "App.Program.Sum")
	require.NoError(t, err)
	require.NotEqual(t, fromFlag, defaults)
}

func TestBadOutputFormat(t *testing.T) {
	_, err := execute(t, "version", "-o", "xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown output format")
}

func TestDis(t *testing.T) {
	out, err := execute(t, "dis", "testdata/sample.json", "-m", "App.Program.Abs")
	require.NoError(t, err)
	require.Contains(t, out, "| OFFSET  |  OPCODE  | OPERANDS | INFO |")
	require.Contains(t, out, "| IL_0002 | bge.s    | IL_0007  |      |")
	require.Contains(t, out, "| IL_0005 | neg      |          |      |")
}

func TestFlags(t *testing.T) {
	out, err := execute(t, "flags", "testdata/sample.json", "-o", "json")
	require.NoError(t, err)
	var outputs []struct {
		Method     string `json:"method"`
		IsIterator bool   `json:"isIterator"`
		IsAsync    bool   `json:"isAsync"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outputs))
	require.Len(t, outputs, 2)
	for _, o := range outputs {
		require.False(t, o.IsIterator)
		require.False(t, o.IsAsync)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "cildec dev (unknown, unknown)\n", out)
}
