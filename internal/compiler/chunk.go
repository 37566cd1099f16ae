package compiler

import "github.com/lumen-lang/lumen/internal/value"

// HandlerInfo describes the catch/finally targets for one OpPushHandler
// instruction, keyed by that instruction's index within the chunk (mirrors
// how line numbers are looked up out-of-line rather than packed into the
// instruction word, since two 16-bit targets don't fit one operand field).
type HandlerInfo struct {
	CatchTargets  []int // instruction index to jump to for each CatchTypes entry
	CatchTypes    []string
	CatchBindSlot []int // local slot to bind the caught exception into
	FinallyTarget int   // 0 means no finally
	FinallyEnd    int   // instruction index immediately after the finally body
	HasFinally    bool
}

// LineEntry run-length-encodes instruction-index -> source-line mapping.
type LineEntry struct {
	InstructionOffset int
	Line              int
}

// Chunk is one compiled unit: the instruction stream for a single fn*
// arity (or the top-level program), its constant pool, and per-instruction
// metadata needed at run time (line numbers, handler descriptors).
type Chunk struct {
	Name       string
	Code       []Instruction
	Constants  []value.Value
	Lines      []LineEntry
	Handlers   map[int]HandlerInfo
	LocalCount int

	// VarRefs is OpLoadVar/OpSetVar/OpBindVar's out-of-line operand table:
	// a Var reference is a (namespace, name) pair, not itself a NaN-boxed
	// Value, so it can't live in Constants.
	VarRefs []VarRefEntry
	// Members is OpInteropCall's out-of-line member-name table.
	Members []string
	// Protos collects every nested fn*'s compiled prototype reachable from
	// this chunk, keyed by OpMakeClosure's B operand.
	Protos []value.FnProto
}

// AddProto appends a function prototype and returns its index.
func (c *Chunk) AddProto(p value.FnProto) int {
	c.Protos = append(c.Protos, p)
	return len(c.Protos) - 1
}

// NewChunk creates an empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Name:     name,
		Code:     make([]Instruction, 0, 64),
		Handlers: make(map[int]HandlerInfo),
	}
}

// Emit appends an instruction and records its source line, returning the
// instruction's index.
func (c *Chunk) Emit(i Instruction, line int) int {
	idx := len(c.Code)
	c.Code = append(c.Code, i)
	if len(c.Lines) == 0 || c.Lines[len(c.Lines)-1].Line != line {
		c.Lines = append(c.Lines, LineEntry{InstructionOffset: idx, Line: line})
	}
	return idx
}

// EmitOp is a convenience wrapper for Emit(MakeInstruction(...)).
func (c *Chunk) EmitOp(op OpCode, a byte, b uint16, line int) int {
	return c.Emit(MakeInstruction(op, a, b), line)
}

// EmitSimple emits a no-operand instruction.
func (c *Chunk) EmitSimple(op OpCode, line int) int {
	return c.Emit(MakeSimple(op), line)
}

// Patch rewrites the instruction at idx, preserving its opcode's meaning
// but replacing operands (used to back-patch forward jump targets once
// the jump destination is known).
func (c *Chunk) Patch(idx int, i Instruction) { c.Code[idx] = i }

// PatchJumpTarget back-patches a previously emitted OpJump/OpJumpIfFalse/
// OpJumpIfTrue at idx so its B operand becomes target - (idx+1) — the
// relative offset from the instruction after the jump.
func (c *Chunk) PatchJumpTarget(idx, target int) {
	op := c.Code[idx].OpCode()
	offset := int32(target - (idx + 1))
	c.Code[idx] = MakeInstruction(op, c.Code[idx].A(), uint16(int16(offset)))
}

// AddConstant interns a constant, deduping identical NaN-boxed scalars (a
// heap-pointer constant is never deduped since structural equality would
// require resolving through a Heap this package does not own).
func (c *Chunk) AddConstant(v value.Value) int {
	if v.Kind() != value.KindHeap {
		for i, existing := range c.Constants {
			if existing == v {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// LineFor returns the source line covering instruction idx.
func (c *Chunk) LineFor(idx int) int {
	line := 0
	for _, e := range c.Lines {
		if e.InstructionOffset > idx {
			break
		}
		line = e.Line
	}
	return line
}

// FnProto is one compiled arity of a fn* form: its chunk plus the shape
// info the Call Bridge and VM need to route and validate calls.
type FnProto struct {
	Name       string
	Params     []string
	Variadic   bool
	LocalCount int
	CaptureLen int
	Chunk      *Chunk
}

// ProtoName implements value.FnProto.
func (p *FnProto) ProtoName() string { return p.Name }

var _ value.FnProto = (*FnProto)(nil)

// MultiArityProto groups every arity compiled from one (possibly
// multi-arity) fn* form; the Call Bridge selects among Arities by argument
// count at call time.
type MultiArityProto struct {
	Name     string
	Arities  []*FnProto
	Captures []CaptureRef
}

// ProtoName implements value.FnProto.
func (p *MultiArityProto) ProtoName() string { return p.Name }

var _ value.FnProto = (*MultiArityProto)(nil)

// CaptureRef names one value captured from the defining scope, either an
// outer local slot or, for a nested closure, one of the outer closure's
// own captures.
type CaptureRef struct {
	Name         string
	FromOuterLocal bool
	OuterIndex   int
}
