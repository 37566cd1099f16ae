package vm

import (
	"github.com/lumen-lang/lumen/internal/compiler"
)

func (vm *VM) execMakeClosure(frame *callFrame, inst compiler.Instruction) error {
	n := int(inst.A())
	protoIdx := int(inst.B())
	if protoIdx >= len(frame.chunk.Protos) {
		return vm.runtimeError(compiler.OpMakeClosure, "proto index %d out of range", protoIdx)
	}
	captured, err := vm.popN(n)
	if err != nil {
		return err
	}
	proto := frame.chunk.Protos[protoIdx]
	vm.push(vm.Heap.NewClosure(proto, captured, "", false))
	return nil
}

func (vm *VM) execCall(frame *callFrame, inst compiler.Instruction) error {
	argc := int(inst.A())
	args, err := vm.popN(argc)
	if err != nil {
		return err
	}
	fn, err := vm.pop()
	if err != nil {
		return err
	}
	result, callErr := vm.Host.Call(fn, args)
	if callErr != nil {
		if te, ok := callErr.(*ThrownError); ok {
			return te
		}
		return callErr
	}
	vm.push(result)
	return nil
}

func (vm *VM) execInterop(frame *callFrame, inst compiler.Instruction) error {
	argc := int(inst.A())
	memberIdx := int(inst.B())
	if memberIdx >= len(frame.chunk.Members) {
		return vm.runtimeError(compiler.OpInteropCall, "member index %d out of range", memberIdx)
	}
	args, err := vm.popN(argc)
	if err != nil {
		return err
	}
	target, err := vm.pop()
	if err != nil {
		return err
	}
	result, callErr := vm.Host.InteropCall(target, frame.chunk.Members[memberIdx], args)
	if callErr != nil {
		return callErr
	}
	vm.push(result)
	return nil
}

// handleError attempts to find a handler for err among the handler stacks
// of every frame down to baseFrame. If found, it unwinds to that frame,
// restores the stack to the handler's depth, binds the exception, and
// sets frame.ip to the matching catch target, returning (true, nil). If
// err is not a ThrownError, or no handler matches, it returns (false, nil)
// so the caller propagates err; a non-nil returned error means the VM
// itself failed while unwinding (stack corruption, not catchable).
func (vm *VM) handleError(baseFrame int, err error) (bool, error) {
	thrown, ok := err.(*ThrownError)
	if !ok {
		return false, nil
	}
	typeKey := vm.Host.ExceptionTypeKey(thrown.Value)

	for fi := len(vm.frames) - 1; fi >= baseFrame; fi-- {
		frame := &vm.frames[fi]
		for hi := len(frame.handlers) - 1; hi >= 0; hi-- {
			h := frame.handlers[hi]
			for ci, want := range h.info.CatchTypes {
				if want == "" || want == typeKey || vm.Host.IsSubtype(typeKey, want) {
					vm.frames = vm.frames[:fi+1]
					frame.handlers = frame.handlers[:hi]
					if h.stackDepth <= len(vm.stack) {
						vm.stack = vm.stack[:h.stackDepth]
					}
					vm.push(thrown.Value)
					frame.ip = h.info.CatchTargets[ci]
					return true, nil
				}
			}
			if h.info.HasFinally {
				if h.stackDepth <= len(vm.stack) {
					vm.stack = vm.stack[:h.stackDepth]
				}
				if runErr := vm.runSegment(frame, h.info.FinallyTarget, h.info.FinallyEnd); runErr != nil {
					return false, runErr
				}
			}
		}
	}
	return false, nil
}

// runSegment executes frame's instructions from start up to (not
// including) end, used to run a try's finally block while an exception
// unmatched by any catch continues propagating. A nested throw or call
// failure inside the segment aborts it immediately; it is not itself
// wrapped in another handler search, since a finally block re-entering
// exception handling is already a degenerate case.
func (vm *VM) runSegment(frame *callFrame, start, end int) error {
	saved := frame.ip
	frame.ip = start
	for frame.ip < end {
		inst := frame.chunk.Code[frame.ip]
		frame.ip++
		if err := vm.step(frame, inst); err != nil {
			return err
		}
	}
	frame.ip = saved
	return nil
}
