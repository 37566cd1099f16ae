package compiler

import (
	"fmt"
	"strings"
)

// Disassemble renders chunk as a human-readable instruction listing, one
// line per instruction: offset, source line (when it changes), opcode
// mnemonic, and operands. It recurses into every prototype's own chunk,
// the way a single-pass compiler dump needs to show nested fn* bodies.
func Disassemble(chunk *Chunk) string {
	var sb strings.Builder
	disassembleInto(&sb, chunk, chunk.Name)
	return sb.String()
}

func disassembleInto(sb *strings.Builder, chunk *Chunk, label string) {
	fmt.Fprintf(sb, "== %s ==\n", label)
	lastLine := -1
	for offset, inst := range chunk.Code {
		line := chunk.LineFor(offset)
		if line == lastLine {
			fmt.Fprintf(sb, "%4d    | ", offset)
		} else {
			fmt.Fprintf(sb, "%4d %4d ", offset, line)
			lastLine = line
		}
		writeInstruction(sb, chunk, offset, inst)
		sb.WriteByte('\n')
	}
	for i, proto := range chunk.Protos {
		if mp, ok := proto.(*MultiArityProto); ok {
			for j, arity := range mp.Arities {
				sb.WriteByte('\n')
				disassembleInto(sb, arity.Chunk, fmt.Sprintf("%s[%d] %s/arity%d", label, i, mp.Name, j))
			}
		}
	}
}

func writeInstruction(sb *strings.Builder, chunk *Chunk, offset int, inst Instruction) {
	op := inst.OpCode()
	sb.WriteString(op.String())
	switch op {
	case OpLoadConst:
		idx := inst.B()
		if int(idx) < len(chunk.Constants) {
			fmt.Fprintf(sb, " %d", idx)
		}
	case OpLoadLocal, OpStoreLocal, OpLoadCapture:
		fmt.Fprintf(sb, " %d", inst.B())
	case OpLoadVar, OpSetVar, OpBindVar:
		idx := inst.B()
		if int(idx) < len(chunk.VarRefs) {
			ref := chunk.VarRefs[idx]
			fmt.Fprintf(sb, " %s/%s", ref.Namespace, ref.Name)
		}
	case OpUnbindVar:
		fmt.Fprintf(sb, " %d", inst.B())
	case OpJump, OpJumpIfFalse, OpJumpIfTrue:
		fmt.Fprintf(sb, " -> %d", offset+1+int(inst.SignedB()))
	case OpMakeClosure:
		fmt.Fprintf(sb, " proto=%d captures=%d", inst.B(), inst.A())
	case OpCall, OpTailCall:
		fmt.Fprintf(sb, " argc=%d", inst.A())
	case OpMakeVector, OpMakeSet:
		fmt.Fprintf(sb, " count=%d", inst.B())
	case OpMakeMap:
		fmt.Fprintf(sb, " pairs=%d", inst.B())
	case OpInteropCall:
		idx := inst.B()
		member := "?"
		if int(idx) < len(chunk.Members) {
			member = chunk.Members[idx]
		}
		fmt.Fprintf(sb, " .%s argc=%d", member, inst.A())
	}
}
