package bytecode

// copyInstructions returns a copy of the given instruction slice. Switch
// target slices are copied too.
func copyInstructions(src []Instruction) []Instruction {
	if src == nil {
		return nil
	}
	dst := make([]Instruction, len(src))
	copy(dst, src)
	for i, instr := range dst {
		if targets, ok := instr.Operand.([]int); ok {
			dst[i].Operand = append([]int(nil), targets...)
		}
	}
	return dst
}

// copyHandlers returns a copy of the given exception handler slice.
func copyHandlers(src []ExceptionHandler) []ExceptionHandler {
	if src == nil {
		return nil
	}
	dst := make([]ExceptionHandler, len(src))
	copy(dst, src)
	return dst
}

// copyLocals returns a copy of the given local slice.
func copyLocals(src []Local) []Local {
	if src == nil {
		return nil
	}
	dst := make([]Local, len(src))
	copy(dst, src)
	return dst
}
