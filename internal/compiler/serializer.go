package compiler

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

// Chunk file format
// =================
//
// Header (8 bytes): magic "LMC\x00", version major/minor/patch, reserved.
// Body: one serialized Chunk (name, local count, instructions, constants,
// line table, handler table, var-ref table, member table, proto table).
//
// This mirrors a compiled-artifact format the way an object file would:
// it exists so `lumen compile` can write out a chunk once and `lumen run`
// can execute it without recompiling, and so the disassembler has
// something to load independent of a live compile step.

const (
	chunkMagic        = "LMC\x00"
	chunkVersionMajor = 1
	chunkVersionMinor = 0
	chunkVersionPatch = 0
)

// constTag discriminates a serialized constant's shape, independent of
// value.Value's internal NaN-boxing bit layout (not a stable on-disk
// format by itself).
type constTag uint8

const (
	constNil constTag = iota
	constBool
	constInt
	constFloat
	constChar
	constString
)

// Serializer writes and reads compiled Chunks to the format above.
type Serializer struct {
	heap *gc.Heap
}

// NewSerializer builds a serializer bound to heap, used to resolve and
// allocate string constants (the only heap-backed constant kind this
// format supports — a quoted vector/map/set literal is rejected with a
// descriptive error, the same restriction a bytecode constant pool
// naturally imposes on runtime-only value kinds like arrays, objects, and
// closures).
func NewSerializer(heap *gc.Heap) *Serializer {
	return &Serializer{heap: heap}
}

// SerializeChunk writes chunk (and every nested prototype's chunk,
// recursively) to binary form.
func (s *Serializer) SerializeChunk(chunk *Chunk) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := s.writeHeader(buf); err != nil {
		return nil, err
	}
	if err := s.writeChunkBody(buf, chunk); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeChunk reads a Chunk previously written by SerializeChunk.
func (s *Serializer) DeserializeChunk(data []byte) (*Chunk, error) {
	r := bytes.NewReader(data)
	if err := s.readHeader(r); err != nil {
		return nil, err
	}
	return s.readChunkBody(r)
}

func (s *Serializer) writeHeader(w io.Writer) error {
	if _, err := w.Write([]byte(chunkMagic)); err != nil {
		return err
	}
	_, err := w.Write([]byte{chunkVersionMajor, chunkVersionMinor, chunkVersionPatch, 0})
	return err
}

func (s *Serializer) readHeader(r io.Reader) error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != chunkMagic {
		return fmt.Errorf("compiler: bad chunk magic number %q", magic)
	}
	version := make([]byte, 4)
	if _, err := io.ReadFull(r, version); err != nil {
		return err
	}
	if version[0] != chunkVersionMajor {
		return fmt.Errorf("compiler: incompatible chunk version %d.%d.%d", version[0], version[1], version[2])
	}
	return nil
}

func (s *Serializer) writeChunkBody(w io.Writer, chunk *Chunk) error {
	if err := writeStr(w, chunk.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(chunk.LocalCount)); err != nil {
		return err
	}
	if err := s.writeInstructions(w, chunk.Code); err != nil {
		return err
	}
	if err := s.writeConstants(w, chunk.Constants); err != nil {
		return err
	}
	if err := s.writeLines(w, chunk.Lines); err != nil {
		return err
	}
	if err := s.writeHandlers(w, chunk.Handlers); err != nil {
		return err
	}
	if err := s.writeVarRefs(w, chunk.VarRefs); err != nil {
		return err
	}
	if err := s.writeMembers(w, chunk.Members); err != nil {
		return err
	}
	return s.writeProtos(w, chunk.Protos)
}

func (s *Serializer) readChunkBody(r io.Reader) (*Chunk, error) {
	name, err := readStr(r)
	if err != nil {
		return nil, err
	}
	localCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	code, err := s.readInstructions(r)
	if err != nil {
		return nil, err
	}
	constants, err := s.readConstants(r)
	if err != nil {
		return nil, err
	}
	lines, err := s.readLines(r)
	if err != nil {
		return nil, err
	}
	handlers, err := s.readHandlers(r)
	if err != nil {
		return nil, err
	}
	varRefs, err := s.readVarRefs(r)
	if err != nil {
		return nil, err
	}
	members, err := s.readMembers(r)
	if err != nil {
		return nil, err
	}
	protos, err := s.readProtos(r)
	if err != nil {
		return nil, err
	}
	return &Chunk{
		Name: name, LocalCount: int(localCount), Code: code, Constants: constants,
		Lines: lines, Handlers: handlers, VarRefs: varRefs, Members: members, Protos: protos,
	}, nil
}

func (s *Serializer) writeInstructions(w io.Writer, code []Instruction) error {
	if err := writeU32(w, uint32(len(code))); err != nil {
		return err
	}
	for _, inst := range code {
		if err := binary.Write(w, binary.LittleEndian, uint32(inst)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readInstructions(r io.Reader) ([]Instruction, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	code := make([]Instruction, n)
	for i := range code {
		var raw uint32
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, err
		}
		code[i] = Instruction(raw)
	}
	return code, nil
}

func (s *Serializer) writeConstants(w io.Writer, constants []value.Value) error {
	if err := writeU32(w, uint32(len(constants))); err != nil {
		return err
	}
	for _, c := range constants {
		if err := s.writeConstant(w, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readConstants(r io.Reader) ([]value.Value, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, n)
	for i := range out {
		v, err := s.readConstant(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Serializer) writeConstant(w io.Writer, v value.Value) error {
	if v.Kind() == value.KindHeap {
		if str, ok := s.heap.Resolve(v).(*value.StringObj); ok {
			if err := writeU8(w, uint8(constString)); err != nil {
				return err
			}
			return writeStr(w, string(str.Bytes))
		}
		return fmt.Errorf("compiler: cannot serialize non-string heap constant %T as a chunk constant", s.heap.Resolve(v))
	}
	switch v.Kind() {
	case value.KindConst:
		if v.IsNil() {
			return writeU8(w, uint8(constNil))
		}
		if err := writeU8(w, uint8(constBool)); err != nil {
			return err
		}
		return writeBoolByte(w, v.IsTrue())
	case value.KindInteger:
		if err := writeU8(w, uint8(constInt)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.AsInteger())
	case value.KindFloat:
		if err := writeU8(w, uint8(constFloat)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.AsFloat())
	case value.KindChar:
		if err := writeU8(w, uint8(constChar)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, int64(v.AsChar()))
	default:
		return fmt.Errorf("compiler: cannot serialize constant of kind %v", v.Kind())
	}
}

func (s *Serializer) readConstant(r io.Reader) (value.Value, error) {
	tag, err := readU8(r)
	if err != nil {
		return value.InitNil(), err
	}
	switch constTag(tag) {
	case constNil:
		return value.InitNil(), nil
	case constBool:
		b, err := readBoolByte(r)
		return value.InitBool(b), err
	case constInt:
		var n int64
		err := binary.Read(r, binary.LittleEndian, &n)
		return value.InitInteger(n), err
	case constFloat:
		var f float64
		err := binary.Read(r, binary.LittleEndian, &f)
		return value.InitFloat(f), err
	case constChar:
		var n int64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return value.InitNil(), err
		}
		return value.InitChar(rune(n)), nil
	case constString:
		str, err := readStr(r)
		if err != nil {
			return value.InitNil(), err
		}
		return s.heap.NewString(str), nil
	default:
		return value.InitNil(), fmt.Errorf("compiler: unknown constant tag %d", tag)
	}
}

func (s *Serializer) writeLines(w io.Writer, lines []LineEntry) error {
	if err := writeU32(w, uint32(len(lines))); err != nil {
		return err
	}
	for _, l := range lines {
		if err := writeU32(w, uint32(l.InstructionOffset)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(l.Line)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readLines(r io.Reader) ([]LineEntry, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]LineEntry, n)
	for i := range out {
		offset, err := readU32(r)
		if err != nil {
			return nil, err
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = LineEntry{InstructionOffset: int(offset), Line: int(line)}
	}
	return out, nil
}

func (s *Serializer) writeHandlers(w io.Writer, handlers map[int]HandlerInfo) error {
	if err := writeU32(w, uint32(len(handlers))); err != nil {
		return err
	}
	for idx, h := range handlers {
		if err := writeU32(w, uint32(idx)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(h.CatchTargets))); err != nil {
			return err
		}
		for i := range h.CatchTargets {
			if err := writeU32(w, uint32(h.CatchTargets[i])); err != nil {
				return err
			}
			if err := writeStr(w, h.CatchTypes[i]); err != nil {
				return err
			}
			if err := writeU32(w, uint32(h.CatchBindSlot[i])); err != nil {
				return err
			}
		}
		if err := writeU32(w, uint32(h.FinallyTarget)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(h.FinallyEnd)); err != nil {
			return err
		}
		if err := writeBoolByte(w, h.HasFinally); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readHandlers(r io.Reader) (map[int]HandlerInfo, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[int]HandlerInfo, n)
	for i := uint32(0); i < n; i++ {
		idx, err := readU32(r)
		if err != nil {
			return nil, err
		}
		count, err := readU32(r)
		if err != nil {
			return nil, err
		}
		h := HandlerInfo{}
		for j := uint32(0); j < count; j++ {
			target, err := readU32(r)
			if err != nil {
				return nil, err
			}
			typ, err := readStr(r)
			if err != nil {
				return nil, err
			}
			slot, err := readU32(r)
			if err != nil {
				return nil, err
			}
			h.CatchTargets = append(h.CatchTargets, int(target))
			h.CatchTypes = append(h.CatchTypes, typ)
			h.CatchBindSlot = append(h.CatchBindSlot, int(slot))
		}
		finallyTarget, err := readU32(r)
		if err != nil {
			return nil, err
		}
		finallyEnd, err := readU32(r)
		if err != nil {
			return nil, err
		}
		hasFinally, err := readBoolByte(r)
		if err != nil {
			return nil, err
		}
		h.FinallyTarget, h.FinallyEnd, h.HasFinally = int(finallyTarget), int(finallyEnd), hasFinally
		out[int(idx)] = h
	}
	return out, nil
}

func (s *Serializer) writeVarRefs(w io.Writer, refs []VarRefEntry) error {
	if err := writeU32(w, uint32(len(refs))); err != nil {
		return err
	}
	for _, ref := range refs {
		if err := writeStr(w, ref.Namespace); err != nil {
			return err
		}
		if err := writeStr(w, ref.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readVarRefs(r io.Reader) ([]VarRefEntry, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]VarRefEntry, n)
	for i := range out {
		ns, err := readStr(r)
		if err != nil {
			return nil, err
		}
		name, err := readStr(r)
		if err != nil {
			return nil, err
		}
		out[i] = VarRefEntry{Namespace: ns, Name: name}
	}
	return out, nil
}

func (s *Serializer) writeMembers(w io.Writer, members []string) error {
	if err := writeU32(w, uint32(len(members))); err != nil {
		return err
	}
	for _, m := range members {
		if err := writeStr(w, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readMembers(r io.Reader) ([]string, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		m, err := readStr(r)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// writeProtos serializes only MultiArityProto prototypes (the only kind a
// top-level compile produces); a bare FnProto reachable without its
// MultiArityProto wrapper can't occur from compileFn's output.
func (s *Serializer) writeProtos(w io.Writer, protos []value.FnProto) error {
	if err := writeU32(w, uint32(len(protos))); err != nil {
		return err
	}
	for _, p := range protos {
		multi, ok := p.(*MultiArityProto)
		if !ok {
			return fmt.Errorf("compiler: cannot serialize prototype of type %T", p)
		}
		if err := writeStr(w, multi.Name); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(multi.Captures))); err != nil {
			return err
		}
		for _, c := range multi.Captures {
			if err := writeStr(w, c.Name); err != nil {
				return err
			}
			if err := writeBoolByte(w, c.FromOuterLocal); err != nil {
				return err
			}
			if err := writeU32(w, uint32(c.OuterIndex)); err != nil {
				return err
			}
		}
		if err := writeU32(w, uint32(len(multi.Arities))); err != nil {
			return err
		}
		for _, arity := range multi.Arities {
			if err := s.writeArity(w, arity); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Serializer) readProtos(r io.Reader) ([]value.FnProto, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]value.FnProto, n)
	for i := range out {
		name, err := readStr(r)
		if err != nil {
			return nil, err
		}
		capCount, err := readU32(r)
		if err != nil {
			return nil, err
		}
		captures := make([]CaptureRef, capCount)
		for j := range captures {
			cname, err := readStr(r)
			if err != nil {
				return nil, err
			}
			fromLocal, err := readBoolByte(r)
			if err != nil {
				return nil, err
			}
			outerIdx, err := readU32(r)
			if err != nil {
				return nil, err
			}
			captures[j] = CaptureRef{Name: cname, FromOuterLocal: fromLocal, OuterIndex: int(outerIdx)}
		}
		arityCount, err := readU32(r)
		if err != nil {
			return nil, err
		}
		arities := make([]*FnProto, arityCount)
		for j := range arities {
			arities[j], err = s.readArity(r)
			if err != nil {
				return nil, err
			}
		}
		out[i] = &MultiArityProto{Name: name, Arities: arities, Captures: captures}
	}
	return out, nil
}

func (s *Serializer) writeArity(w io.Writer, p *FnProto) error {
	if err := writeStr(w, p.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(p.Params))); err != nil {
		return err
	}
	for _, param := range p.Params {
		if err := writeStr(w, param); err != nil {
			return err
		}
	}
	if err := writeBoolByte(w, p.Variadic); err != nil {
		return err
	}
	if err := writeU32(w, uint32(p.LocalCount)); err != nil {
		return err
	}
	if err := writeU32(w, uint32(p.CaptureLen)); err != nil {
		return err
	}
	return s.writeChunkBody(w, p.Chunk)
}

func (s *Serializer) readArity(r io.Reader) (*FnProto, error) {
	name, err := readStr(r)
	if err != nil {
		return nil, err
	}
	paramCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	params := make([]string, paramCount)
	for i := range params {
		params[i], err = readStr(r)
		if err != nil {
			return nil, err
		}
	}
	variadic, err := readBoolByte(r)
	if err != nil {
		return nil, err
	}
	localCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	captureLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	chunk, err := s.readChunkBody(r)
	if err != nil {
		return nil, err
	}
	return &FnProto{
		Name: name, Params: params, Variadic: variadic,
		LocalCount: int(localCount), CaptureLen: int(captureLen), Chunk: chunk,
	}, nil
}

func writeStr(w io.Writer, str string) error {
	if err := writeU32(w, uint32(len(str))); err != nil {
		return err
	}
	if len(str) == 0 {
		return nil
	}
	_, err := w.Write([]byte(str))
	return err
}

func readStr(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func writeU32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeU8(w io.Writer, v uint8) error { return binary.Write(w, binary.LittleEndian, v) }

func readU8(r io.Reader) (uint8, error) {
	var v uint8
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeBoolByte(w io.Writer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return writeU8(w, v)
}

func readBoolByte(r io.Reader) (bool, error) {
	v, err := readU8(r)
	return v != 0, err
}
