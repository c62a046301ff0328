package transform

import (
	"context"
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/reader"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

var (
	program = &typesys.Type{Namespace: "App", Name: "Program", Kind: typesys.KindClass}
	m1      = &typesys.Method{DeclaringType: program, Name: "M1", IsStatic: true}
	m2      = &typesys.Method{DeclaringType: program, Name: "M2", IsStatic: true}
	m3      = &typesys.Method{DeclaringType: program, Name: "M3", IsStatic: true}
	m4      = &typesys.Method{DeclaringType: program, Name: "M4", IsStatic: true}
)

func staticMethod(ret *typesys.Type, params ...*typesys.Type) *typesys.Method {
	m := &typesys.Method{DeclaringType: program, Name: "Test", IsStatic: true, ReturnType: ret}
	for i, p := range params {
		m.Params = append(m.Params, &typesys.Parameter{Name: string(rune('a' + i)), Type: p})
	}
	return m
}

func read(t *testing.T, body *bytecode.MethodBody) *il.Function {
	t.Helper()
	f, err := reader.New().Read(context.Background(), body)
	require.Nil(t, err)
	require.Nil(t, il.Check(f, il.CheckOptions{}), il.Format(f))
	return f
}

// run reads body and applies transforms with a context built from
// settings and bodies.
func run(t *testing.T, body *bytecode.MethodBody, settings *Settings, bodies bytecode.BodyProvider, transforms ...Transform) *il.Function {
	t.Helper()
	f := read(t, body)
	c := NewContext(settings)
	c.Bodies = bodies
	err := NewPipeline(transforms...).Run(context.Background(), f, c)
	require.Nil(t, err, il.Format(f))
	return f
}

// decompile runs the default pipeline.
func decompile(t *testing.T, body *bytecode.MethodBody, settings *Settings, bodies bytecode.BodyProvider) *il.Function {
	t.Helper()
	return run(t, body, settings, bodies, DefaultTransforms(settings)...)
}

func find(f *il.Function, op il.OpCode) []il.Node {
	var out []il.Node
	f.Walk(f.Body, func(n il.Node) bool {
		if f.Op(n) == op {
			out = append(out, n)
		}
		return true
	})
	return out
}

func containers(f *il.Function, kind il.ContainerKind) []il.Node {
	var out []il.Node
	for _, n := range find(f, il.OpBlockContainer) {
		if f.Inst(n).Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func calls(f *il.Function, m *typesys.Method) int {
	count := 0
	for _, n := range find(f, il.OpCall) {
		if f.Inst(n).Method == m {
			count++
		}
	}
	return count
}

func warningCodes(f *il.Function) []errz.Code {
	var out []errz.Code
	for _, w := range f.Warnings {
		out = append(out, w.Code)
	}
	return out
}

func variableNames(f *il.Function) []string {
	var out []string
	for _, v := range f.Variables {
		out = append(out, v.Name)
	}
	return out
}
