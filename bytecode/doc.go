// Package bytecode provides immutable representations of CIL method bodies
// as consumed by the cildec reader.
//
// A method body is the decoded instruction stream of one method: ordered
// (offset, opcode, operand) triples whose operands are already resolved to
// [typesys] entities, the exception handler table, and the local variable
// signature. Token resolution and PE parsing are out of scope; bodies are
// either assembled in memory with a [Builder] or loaded from the JSON
// method file format with [LoadModule].
//
// # Key Types
//
//   - [MethodBody]: An immutable method body
//   - [Instruction]: A decoded instruction (value type)
//   - [ExceptionHandler]: One entry of the exception handler table (value type)
//   - [Builder]: A label-based assembler that computes offsets
//   - [Module]: A set of types and bodies, usable as a [BodyProvider]
//
// # Operand Conventions
//
// Instruction operands are typed by the opcode's [op.OperandType]:
//
//	ShortInlineI, InlineI        int32
//	InlineI8                     int64
//	ShortInlineR                 float32
//	InlineR                      float64
//	ShortInlineVar, InlineVar    int (argument or local index)
//	*BrTarget                    int (absolute target offset)
//	InlineSwitch                 []int (absolute target offsets)
//	InlineMethod                 *typesys.Method
//	InlineField                  *typesys.Field
//	InlineType                   *typesys.Type
//	InlineString                 string
//	InlineTok                    *typesys.Type, *typesys.Method or *typesys.Field
//
// Bodies whose operands violate these conventions are still accepted; the
// reader reports them as malformed input.
package bytecode
