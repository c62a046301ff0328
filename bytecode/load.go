package bytecode

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// ModuleFile is the JSON method file format. Bodies are written as
// assembly listings: instructions may carry a label, and branch operands,
// switch targets and handler ranges refer to labels by name. A numeric
// branch operand is taken as a raw target offset.
type ModuleFile struct {
	Name  string     `json:"name"`
	Types []TypeFile `json:"types"`
}

// TypeFile describes one type.
type TypeFile struct {
	Namespace         string       `json:"namespace"`
	Name              string       `json:"name"`
	Kind              string       `json:"kind"`
	DeclaringType     string       `json:"declaringType,omitempty"`
	BaseType          string       `json:"base,omitempty"`
	Element           string       `json:"element,omitempty"`
	Interfaces        []string     `json:"interfaces,omitempty"`
	CompilerGenerated bool         `json:"compilerGenerated,omitempty"`
	Fields            []FieldFile  `json:"fields,omitempty"`
	Methods           []MethodFile `json:"methods,omitempty"`
}

// FieldFile describes one field.
type FieldFile struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Static bool   `json:"static,omitempty"`
}

// MethodFile describes one method and, optionally, its body.
type MethodFile struct {
	Name        string      `json:"name"`
	Static      bool        `json:"static,omitempty"`
	Virtual     bool        `json:"virtual,omitempty"`
	Constructor bool        `json:"constructor,omitempty"`
	Returns     string      `json:"returns,omitempty"`
	Params      []ParamFile `json:"params,omitempty"`
	Body        *BodyFile   `json:"body,omitempty"`
}

// ParamFile describes one parameter.
type ParamFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// BodyFile is an assembly listing of a method body.
type BodyFile struct {
	Locals       []LocalFile       `json:"locals,omitempty"`
	Instructions []InstructionFile `json:"instructions"`
	Handlers     []HandlerFile     `json:"handlers,omitempty"`
}

// LocalFile describes one local variable.
type LocalFile struct {
	Name   string `json:"name,omitempty"`
	Type   string `json:"type"`
	Pinned bool   `json:"pinned,omitempty"`
}

// InstructionFile is one line of an assembly listing.
type InstructionFile struct {
	Label   string          `json:"label,omitempty"`
	Op      string          `json:"op"`
	Operand json.RawMessage `json:"operand,omitempty"`
}

// HandlerFile describes an exception handler clause by label names.
type HandlerFile struct {
	Kind         string `json:"kind"`
	TryStart     string `json:"tryStart"`
	TryEnd       string `json:"tryEnd"`
	HandlerStart string `json:"handlerStart"`
	HandlerEnd   string `json:"handlerEnd"`
	FilterStart  string `json:"filterStart,omitempty"`
	CatchType    string `json:"catchType,omitempty"`
}

var typeKinds = map[string]typesys.Kind{
	"":          typesys.KindClass,
	"class":     typesys.KindClass,
	"struct":    typesys.KindValueType,
	"interface": typesys.KindInterface,
	"enum":      typesys.KindEnum,
}

// LoadModule decodes a JSON method file and assembles every body in it.
func LoadModule(r io.Reader) (*Module, error) {
	var file ModuleFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding module file: %w", err)
	}
	return file.Build()
}

type loader struct {
	mod      *Module
	external map[string]*typesys.Type
	errs     *multierror.Error
}

// Build resolves the references in the file and assembles its bodies.
func (f *ModuleFile) Build() (*Module, error) {
	l := &loader{mod: NewModule(f.Name), external: map[string]*typesys.Type{}}
	declared := make([]*typesys.Type, len(f.Types))
	for i, tf := range f.Types {
		kind, ok := typeKinds[tf.Kind]
		if !ok {
			l.fail("type %s: unknown kind %q", tf.Name, tf.Kind)
		}
		t := &typesys.Type{
			Namespace:         tf.Namespace,
			Name:              tf.Name,
			Kind:              kind,
			CompilerGenerated: tf.CompilerGenerated,
		}
		if tf.DeclaringType != "" {
			outer, ok := l.mod.Type(tf.DeclaringType)
			if !ok {
				l.fail("type %s: declaring type %s must be listed first", tf.Name, tf.DeclaringType)
			} else {
				t.DeclaringType = outer
				t.Namespace = ""
				outer.NestedTypes = append(outer.NestedTypes, t)
			}
		}
		declared[i] = t
		l.mod.AddType(t)
	}
	for i, tf := range f.Types {
		t := declared[i]
		if tf.BaseType != "" {
			t.BaseType = l.typeRef(tf.BaseType)
		}
		if tf.Element != "" {
			t.Element = l.typeRef(tf.Element)
		}
		for _, iface := range tf.Interfaces {
			t.Interfaces = append(t.Interfaces, l.typeRef(iface))
		}
		for _, ff := range tf.Fields {
			t.Fields = append(t.Fields, &typesys.Field{
				DeclaringType: t,
				Name:          ff.Name,
				Type:          l.typeRef(ff.Type),
				IsStatic:      ff.Static,
			})
		}
		for _, mf := range tf.Methods {
			m := &typesys.Method{
				DeclaringType: t,
				Name:          mf.Name,
				IsStatic:      mf.Static,
				IsVirtual:     mf.Virtual,
				IsConstructor: mf.Constructor || mf.Name == ".ctor",
				ReturnType:    typesys.VoidType,
			}
			if mf.Returns != "" {
				m.ReturnType = l.typeRef(mf.Returns)
			}
			for _, pf := range mf.Params {
				m.Params = append(m.Params, &typesys.Parameter{Name: pf.Name, Type: l.typeRef(pf.Type)})
			}
			t.Methods = append(t.Methods, m)
		}
	}
	for i, tf := range f.Types {
		for j, mf := range tf.Methods {
			if mf.Body == nil {
				continue
			}
			m := declared[i].Methods[j]
			body, err := l.assemble(m, mf.Body)
			if err != nil {
				l.errs = multierror.Append(l.errs, fmt.Errorf("%s: %w", m.FullName(), err))
				continue
			}
			l.mod.AddBody(body)
		}
	}
	if err := l.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return l.mod, nil
}

func (l *loader) fail(format string, args ...any) {
	l.errs = multierror.Append(l.errs, fmt.Errorf(format, args...))
}

// typeRef resolves a type name such as "System.Int32[]" or
// "App.Outer/Inner&". Unknown names become external class types.
func (l *loader) typeRef(name string) *typesys.Type {
	switch {
	case strings.HasSuffix(name, "[]"):
		return typesys.ArrayOf(l.typeRef(strings.TrimSuffix(name, "[]")))
	case strings.HasSuffix(name, "*"):
		return typesys.PointerTo(l.typeRef(strings.TrimSuffix(name, "*")))
	case strings.HasSuffix(name, "&"):
		return typesys.ByRef(l.typeRef(strings.TrimSuffix(name, "&")))
	}
	if t, ok := builtinByName[name]; ok {
		return t
	}
	if t, ok := l.mod.Type(name); ok {
		return t
	}
	if t, ok := l.external[name]; ok {
		return t
	}
	ns, short := "", name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ns, short = name[:i], name[i+1:]
	}
	t := &typesys.Type{Namespace: ns, Name: short, Kind: typesys.KindClass}
	l.external[name] = t
	return t
}

var builtinByName = func() map[string]*typesys.Type {
	m := map[string]*typesys.Type{}
	for k := typesys.KindVoid; k <= typesys.KindObject; k++ {
		t := typesys.Primitive(k)
		m[t.FullName()] = t
		m[k.String()] = t
	}
	return m
}()

// memberRef splits "Ns.Type::Name" or "Ns.Type::Name(2)".
func memberRef(s string) (typ, name string, arity int, err error) {
	i := strings.Index(s, "::")
	if i < 0 {
		return "", "", 0, fmt.Errorf("member reference %q lacks '::'", s)
	}
	typ, name, arity = s[:i], s[i+2:], -1
	if j := strings.IndexByte(name, '('); j >= 0 && strings.HasSuffix(name, ")") {
		n, convErr := strconv.Atoi(name[j+1 : len(name)-1])
		if convErr != nil {
			return "", "", 0, fmt.Errorf("member reference %q: bad arity", s)
		}
		name, arity = name[:j], n
	}
	return typ, name, arity, nil
}

func (l *loader) methodRef(s string) (*typesys.Method, error) {
	typ, name, arity, err := memberRef(s)
	if err != nil {
		return nil, err
	}
	t, ok := l.mod.Type(typ)
	if !ok {
		return nil, fmt.Errorf("method %s: type %s is not declared", s, typ)
	}
	for _, m := range t.Methods {
		if m.Name == name && (arity < 0 || len(m.Params) == arity) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("method %s not found", s)
}

func (l *loader) fieldRef(s string) (*typesys.Field, error) {
	typ, name, _, err := memberRef(s)
	if err != nil {
		return nil, err
	}
	t, ok := l.mod.Type(typ)
	if !ok {
		return nil, fmt.Errorf("field %s: type %s is not declared", s, typ)
	}
	if f := t.Field(name); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("field %s not found", s)
}

func (l *loader) assemble(m *typesys.Method, bf *BodyFile) (*MethodBody, error) {
	b := NewBuilder(m)
	for _, lf := range bf.Locals {
		if lf.Pinned {
			b.DeclarePinned(l.typeRef(lf.Type))
		} else {
			b.DeclareNamedLocal(lf.Name, l.typeRef(lf.Type))
		}
	}
	labels := map[string]Label{}
	label := func(name string) Label {
		if lbl, ok := labels[name]; ok {
			return lbl
		}
		lbl := b.NewLabel()
		labels[name] = lbl
		return lbl
	}
	var errs *multierror.Error
	for idx, inf := range bf.Instructions {
		if inf.Label != "" {
			b.Mark(label(inf.Label))
		}
		code, ok := op.Lookup(inf.Op)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("instruction %d: unknown opcode %q", idx, inf.Op))
			continue
		}
		operand, err := l.operand(code, inf.Operand, label)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("instruction %d (%s): %w", idx, inf.Op, err))
			continue
		}
		if operand == nil {
			b.Emit(code)
		} else {
			b.Emit(code, operand)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	// Labels only referenced by handlers may point at the end of the body.
	end := b.Offset()
	for _, hf := range bf.Handlers {
		kind, ok := ParseHandlerKind(hf.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown handler kind %q", hf.Kind)
		}
		spec := HandlerSpec{
			Kind:         kind,
			TryStart:     label(hf.TryStart),
			TryEnd:       label(hf.TryEnd),
			HandlerStart: label(hf.HandlerStart),
			HandlerEnd:   label(hf.HandlerEnd),
		}
		if kind == HandlerFilter {
			spec.FilterStart = label(hf.FilterStart)
		}
		if hf.CatchType != "" {
			spec.CatchType = l.typeRef(hf.CatchType)
		}
		b.AddHandler(spec)
	}
	for name, lbl := range labels {
		if name == "end" && b.labels[lbl] < 0 {
			b.labels[lbl] = end
		}
	}
	return b.Build()
}

func decode[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (l *loader) operand(code op.Code, raw json.RawMessage, label func(string) Label) (any, error) {
	info := op.GetInfo(code)
	if info.Operand == op.InlineNone {
		if len(raw) != 0 {
			return nil, fmt.Errorf("unexpected operand")
		}
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing operand")
	}
	var str string
	isString := json.Unmarshal(raw, &str) == nil
	switch info.Operand {
	case op.ShortInlineI, op.InlineI:
		return decode[int32](raw)
	case op.InlineI8:
		return decode[int64](raw)
	case op.ShortInlineR:
		return decode[float32](raw)
	case op.InlineR:
		return decode[float64](raw)
	case op.ShortInlineVar, op.InlineVar:
		return decode[int](raw)
	case op.ShortInlineBrTarget, op.InlineBrTarget:
		if isString {
			return label(str), nil
		}
		return decode[int](raw)
	case op.InlineSwitch:
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, err
		}
		targets := make([]Label, len(names))
		for i, n := range names {
			targets[i] = label(n)
		}
		return targets, nil
	case op.InlineString:
		if !isString {
			return nil, fmt.Errorf("expected a string")
		}
		return str, nil
	case op.InlineMethod:
		if !isString {
			return nil, fmt.Errorf("expected a method reference")
		}
		return l.methodRef(str)
	case op.InlineField:
		if !isString {
			return nil, fmt.Errorf("expected a field reference")
		}
		return l.fieldRef(str)
	case op.InlineType:
		if !isString {
			return nil, fmt.Errorf("expected a type reference")
		}
		return l.typeRef(str), nil
	case op.InlineTok:
		if !isString {
			return nil, fmt.Errorf("expected a token reference")
		}
		kind, ref, _ := strings.Cut(str, ":")
		switch kind {
		case "type":
			return l.typeRef(ref), nil
		case "method":
			return l.methodRef(ref)
		case "field":
			return l.fieldRef(ref)
		}
		return nil, fmt.Errorf("token reference %q needs a type:, method: or field: prefix", str)
	}
	return nil, fmt.Errorf("operand kind not supported in method files")
}
