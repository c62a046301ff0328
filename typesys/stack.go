package typesys

// StackType is the computational type of a value on the evaluation stack.
type StackType uint8

const (
	Unknown StackType = iota
	Void
	I4
	I
	I8
	F4
	F8
	O
	Ref
)

func (s StackType) String() string {
	switch s {
	case Void:
		return "void"
	case I4:
		return "i4"
	case I:
		return "i"
	case I8:
		return "i8"
	case F4:
		return "f4"
	case F8:
		return "f8"
	case O:
		return "o"
	case Ref:
		return "ref"
	default:
		return "unknown"
	}
}

// IsIntegral reports whether s is one of the integer stack types.
func (s StackType) IsIntegral() bool {
	return s == I4 || s == I || s == I8
}

// IsFloat reports whether s is a floating point stack type.
func (s StackType) IsFloat() bool {
	return s == F4 || s == F8
}

// MergeStackTypes reconciles the types of one stack slot arriving on two
// control flow edges. The silent merges are I4 with I (yielding I) and F4
// with F8 (yielding F8). Any other mismatch reports ok=false and returns
// the first-seen type a.
func MergeStackTypes(a, b StackType) (merged StackType, ok bool) {
	switch {
	case a == b:
		return a, true
	case a == Unknown:
		return b, true
	case b == Unknown:
		return a, true
	case (a == I4 && b == I) || (a == I && b == I4):
		return I, true
	case (a == F4 && b == F8) || (a == F8 && b == F4):
		return F8, true
	}
	return a, false
}

// Sign describes the signedness of an integer operation.
type Sign uint8

const (
	SignNone Sign = iota
	Signed
	Unsigned
)

func (s Sign) String() string {
	switch s {
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	}
	return ""
}
