package il

// Clone returns a detached deep copy of the subtree rooted at n. Branch and
// leave targets inside the subtree are remapped to their copies; targets
// outside it are kept.
func (f *Function) Clone(n Node) Node {
	remap := map[Node]Node{}
	c := f.copyFrom(f, n, remap, nil)
	f.retarget(c, remap)
	return c
}

// Adopt moves the body of src into f and returns it as a detached node.
// Every variable of src is recreated in f. The returned map translates src
// variables to their f counterparts. src must not be used afterwards.
func (f *Function) Adopt(src *Function) (Node, map[*Variable]*Variable) {
	vars := make(map[*Variable]*Variable, len(src.Variables))
	for _, v := range src.Variables {
		nv := f.NewVariable(v.Kind, v.Type, v.StackType, v.Index)
		nv.Name = v.Name
		nv.HasInitialValue = v.HasInitialValue
		vars[v] = nv
	}
	if src.Body == None {
		return None, vars
	}
	remap := map[Node]Node{}
	c := f.copyFrom(src, src.Body, remap, vars)
	f.retarget(c, remap)
	f.Warnings = append(f.Warnings, src.Warnings...)
	return c, vars
}

func (f *Function) copyFrom(src *Function, n Node, remap map[Node]Node, vars map[*Variable]*Variable) Node {
	si := src.Inst(n)
	children := make([]Node, len(si.children))
	for i, c := range si.children {
		children[i] = f.copyFrom(src, c, remap, vars)
	}
	c := f.New(si.Op, children...)
	ci := f.Inst(c)
	ci.Start, ci.End = si.Start, si.End
	ci.Value, ci.Float, ci.Str = si.Value, si.Float, si.Str
	ci.Type, ci.Method, ci.Field, ci.Token = si.Type, si.Method, si.Field, si.Token
	ci.Target = si.Target
	ci.Binary, ci.Comp, ci.Checked, ci.Sign, ci.ConvTo = si.Binary, si.Comp, si.Checked, si.Sign, si.ConvTo
	ci.InputType, ci.ResultType = si.InputType, si.ResultType
	ci.Kind, ci.Labels = si.Kind, si.Labels
	v := si.Var
	if mapped, ok := vars[v]; ok {
		v = mapped
	}
	ci.Var = v
	remap[n] = c
	return c
}

func (f *Function) retarget(root Node, remap map[Node]Node) {
	f.Walk(root, func(x Node) bool {
		inst := f.Inst(x)
		if inst.Target != None {
			if t, ok := remap[inst.Target]; ok {
				inst.Target = t
			}
		}
		return true
	})
}
