package errz

// Code identifies a kind of diagnostic. Codes are organized by category:
//   - W1xxx: Reader warnings (malformed or suspect bytecode)
//   - W2xxx: Transform warnings (declined rewrites, caps reached)
//   - E3xxx: Internal errors (invariant violations, panics)
type Code string

const (
	// Reader warnings (W1xxx)
	W1001 Code = "W1001" // Invalid branch target
	W1002 Code = "W1002" // Stack underflow
	W1003 Code = "W1003" // Unsupported or unknown opcode
	W1004 Code = "W1004" // Incompatible stack types at merge
	W1005 Code = "W1005" // Stack height mismatch at merge
	W1006 Code = "W1006" // Bad operand
	W1007 Code = "W1007" // Unreachable code discarded
	W1008 Code = "W1008" // Control falls off the end of the body
	W1009 Code = "W1009" // Malformed exception handler
	W1010 Code = "W1010" // Maximum nesting depth exceeded
	W1011 Code = "W1011" // Branch into the middle of a protected region
	W1012 Code = "W1012" // Non-empty stack at leave or return

	// Transform warnings (W2xxx)
	W2001 Code = "W2001" // Statement rerun limit reached
	W2002 Code = "W2002" // Iterator state machine not recognized
	W2003 Code = "W2003" // Async state machine not recognized
	W2004 Code = "W2004" // Irreducible control flow

	// Internal errors (E3xxx)
	E3001 Code = "E3001" // Invariant violation
	E3002 Code = "E3002" // Panic in transform
	E3003 Code = "E3003" // Missing method body
)

// codeDescriptions maps codes to their short descriptions.
var codeDescriptions = map[Code]string{
	W1001: "invalid branch target",
	W1002: "stack underflow",
	W1003: "unsupported opcode",
	W1004: "incompatible stack types",
	W1005: "stack height mismatch",
	W1006: "bad operand",
	W1007: "unreachable code discarded",
	W1008: "control falls off the end of the body",
	W1009: "malformed exception handler",
	W1010: "maximum nesting depth exceeded",
	W1011: "branch into protected region",
	W1012: "non-empty stack at leave",

	W2001: "statement rerun limit reached",
	W2002: "iterator not recognized",
	W2003: "async method not recognized",
	W2004: "irreducible control flow",

	E3001: "invariant violation",
	E3002: "panic in transform",
	E3003: "missing method body",
}

// Description returns the short description for a code.
func (c Code) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown diagnostic"
}

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the diagnostic category based on the code prefix.
func (c Code) Category() string {
	if len(c) < 2 {
		return "unknown"
	}
	switch c[1] {
	case '1':
		return "reader"
	case '2':
		return "transform"
	case '3':
		return "internal"
	default:
		return "unknown"
	}
}

// IsWarning reports whether the code denotes a recoverable anomaly.
func (c Code) IsWarning() bool {
	return len(c) > 0 && c[0] == 'W'
}
