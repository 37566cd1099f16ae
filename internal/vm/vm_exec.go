package vm

import (
	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/value"
)

// step executes a single instruction against frame, mutating the VM's
// operand stack and, for control-flow/call opcodes, frame.ip or vm.frames.
func (vm *VM) step(frame *callFrame, inst compiler.Instruction) error {
	op := inst.OpCode()
	switch op {
	case compiler.OpLoadConst:
		idx := int(inst.B())
		if idx >= len(frame.chunk.Constants) {
			return vm.runtimeError(op, "constant index %d out of range", idx)
		}
		vm.push(frame.chunk.Constants[idx])

	case compiler.OpLoadNil:
		vm.push(value.InitNil())
	case compiler.OpLoadTrue:
		vm.push(value.InitBool(true))
	case compiler.OpLoadFalse:
		vm.push(value.InitBool(false))

	case compiler.OpLoadLocal:
		idx := int(inst.B())
		if idx >= len(frame.locals) {
			return vm.runtimeError(op, "local slot %d out of range", idx)
		}
		vm.push(frame.locals[idx])

	case compiler.OpStoreLocal:
		idx := int(inst.B())
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if idx >= len(frame.locals) {
			grown := make([]value.Value, idx+1)
			copy(grown, frame.locals)
			frame.locals = grown
		}
		frame.locals[idx] = v

	case compiler.OpLoadCapture:
		idx := int(inst.B())
		if frame.closure == nil || idx >= len(frame.closure.Captured) {
			return vm.runtimeError(op, "capture index %d out of range", idx)
		}
		vm.push(frame.closure.Captured[idx])

	case compiler.OpLoadVar:
		idx := int(inst.B())
		key := varCacheKey{chunk: frame.chunk, idx: idx}
		cell, ok := vm.varCache[key]
		if !ok {
			ref := frame.chunk.VarRefs[idx]
			resolved, err := vm.Host.ResolveVar(ref.Namespace, ref.Name)
			if err != nil {
				return &ThrownError{Value: vm.Host.NewExceptionValue("unable to resolve var: " + ref.Namespace + "/" + ref.Name)}
			}
			cell = resolved
			vm.varCache[key] = cell
		}
		vm.push(cell.Load())

	case compiler.OpSetVar:
		ref := frame.chunk.VarRefs[inst.B()]
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if err := vm.Host.SetVar(ref.Namespace, ref.Name, v); err != nil {
			return err
		}
		vm.push(v)

	case compiler.OpBindVar:
		ref := frame.chunk.VarRefs[inst.B()]
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if err := vm.Host.BindVar(ref.Namespace, ref.Name, v); err != nil {
			return err
		}

	case compiler.OpUnbindVar:
		vm.Host.UnbindVar(int(inst.B()))

	case compiler.OpPop:
		_, err := vm.pop()
		return err

	case compiler.OpDup:
		v, err := vm.peek()
		if err != nil {
			return err
		}
		vm.push(v)

	case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpRem:
		return vm.execArith(op)

	case compiler.OpEq:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(value.InitBool(value.Equals(vm.Heap, a, b)))

	case compiler.OpLt, compiler.OpLe, compiler.OpGt, compiler.OpGe:
		return vm.execCompare(op)

	case compiler.OpNot:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(value.InitBool(!v.Truthy()))

	case compiler.OpMakeVector:
		n := int(inst.B())
		items, err := vm.popN(n)
		if err != nil {
			return err
		}
		vm.push(vm.Heap.NewVector(items))

	case compiler.OpMakeMap:
		n := int(inst.B())
		flat, err := vm.popN(2 * n)
		if err != nil {
			return err
		}
		keys := make([]value.Value, n)
		vals := make([]value.Value, n)
		for i := 0; i < n; i++ {
			keys[i] = flat[2*i]
			vals[i] = flat[2*i+1]
		}
		vm.push(vm.Heap.NewMap(keys, vals))

	case compiler.OpMakeSet:
		n := int(inst.B())
		items, err := vm.popN(n)
		if err != nil {
			return err
		}
		vm.push(vm.Heap.NewSet(items))

	case compiler.OpMakeCons:
		rest, err := vm.pop()
		if err != nil {
			return err
		}
		first, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(vm.Heap.NewCons(first, rest))

	case compiler.OpJump:
		frame.ip += int(inst.SignedB())

	case compiler.OpJumpIfFalse:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if !v.Truthy() {
			frame.ip += int(inst.SignedB())
		}

	case compiler.OpJumpIfTrue:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if v.Truthy() {
			frame.ip += int(inst.SignedB())
		}

	case compiler.OpMakeClosure:
		return vm.execMakeClosure(frame, inst)

	case compiler.OpCall, compiler.OpTailCall:
		return vm.execCall(frame, inst)

	case compiler.OpReturn:
		frame.returned = true

	case compiler.OpPushHandler:
		frame.handlers = append(frame.handlers, activeHandler{
			info:       frame.chunk.Handlers[frame.ip-1],
			stackDepth: len(vm.stack),
		})

	case compiler.OpPopHandler:
		if len(frame.handlers) > 0 {
			frame.handlers = frame.handlers[:len(frame.handlers)-1]
		}

	case compiler.OpThrow:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		return &ThrownError{Value: v}

	case compiler.OpInteropCall:
		return vm.execInterop(frame, inst)

	case compiler.OpHalt:
		frame.returned = true

	default:
		return vm.runtimeError(op, "unimplemented opcode")
	}
	return nil
}

// popN pops n values and returns them in original push order (oldest
// first), used by collection constructors.
func (vm *VM) popN(n int) ([]value.Value, error) {
	if n > len(vm.stack) {
		return nil, vm.runtimeError(0, "stack underflow popping %d values", n)
	}
	start := len(vm.stack) - n
	out := append([]value.Value(nil), vm.stack[start:]...)
	vm.stack = vm.stack[:start]
	return out, nil
}
