// Package vm implements the stack-based bytecode virtual machine: a
// dispatch loop over internal/compiler.Chunk, operating on internal/value.Value
// and internal/gc.Heap, with call/exception frames and an inline cache for
// OpLoadVar's Var resolution. Protocol/multimethod dispatch caches live in
// internal/bootstrap, not here.
package vm

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

const (
	defaultStackCapacity = 256
	defaultFrameCapacity = 16

	// safePointInterval is how many instructions the dispatch loop executes
	// between GC safe-point polls, tuned for an allocation-heavy functional
	// workload.
	safePointInterval = 256
)

// VarCell is a resolved Var handle: a Host hands one back from ResolveVar
// so OpLoadVar's inline cache can skip the namespace-map lookup on a cache
// hit. Load still re-reads the Var's current value every time, so a
// cached cell stays correct across def/set!/binding* — only the symbol ->
// Var resolution is what's being cached, not the value itself.
type VarCell interface {
	Load() value.Value
}

// Host is everything the VM needs from the surrounding runtime that it does
// not own itself: calling (through the Call Bridge, regardless of callee
// kind, including protocol dispatchers and multimethods), Var access, and
// interop. Kept as one
// small interface so internal/vm never imports internal/bridge or
// internal/bootstrap (they import vm instead, to avoid a cycle).
type Host interface {
	Call(fn value.Value, args []value.Value) (value.Value, error)
	LoadVar(ns, name string) (value.Value, error)
	// ResolveVar returns a cacheable handle for ns/name, for OpLoadVar's
	// inline cache; it errors exactly when LoadVar would (var not bound).
	ResolveVar(ns, name string) (VarCell, error)
	SetVar(ns, name string, v value.Value) error
	BindVar(ns, name string, v value.Value) error
	UnbindVar(count int)
	InteropCall(target value.Value, member string, args []value.Value) (value.Value, error)
	// NewExceptionValue builds a catchable exception value (an ex-info-like
	// map) for a condition the VM itself detects — an unresolved Var, a
	// division by zero — so such failures surface to bytecode try/catch
	// the same way a user (throw ...) does.
	NewExceptionValue(message string) value.Value
	ExceptionTypeKey(v value.Value) string
	IsSubtype(typeKey, ancestorKey string) bool
}

// VM executes compiled chunks. One VM instance may run several chunks in
// sequence (the Call Bridge reuses an idle VM for nested bytecode calls
// rather than spinning up a new one each time).
type VM struct {
	Heap   *gc.Heap
	Host   Host
	stack  []value.Value
	frames []callFrame

	instrSinceSafePoint int

	// varCache is OpLoadVar's monomorphic inline cache, keyed per call
	// site (the chunk plus the VarRefs index the instruction encodes) so
	// repeated loads of the same Var skip ResolveVar's namespace lookup.
	varCache map[varCacheKey]VarCell
}

type varCacheKey struct {
	chunk *compiler.Chunk
	idx   int
}

type callFrame struct {
	chunk    *compiler.Chunk
	closure  *value.ClosureObj
	locals   []value.Value
	ip       int
	handlers []activeHandler
	returned bool
}

// activeHandler is a live try/catch/finally scope within one frame.
type activeHandler struct {
	info       compiler.HandlerInfo
	stackDepth int
}

// New creates a VM over the given heap, wired to Host for everything
// outside the bytecode/value/GC core.
func New(heap *gc.Heap, host Host) *VM {
	return &VM{
		Heap:     heap,
		Host:     host,
		stack:    make([]value.Value, 0, defaultStackCapacity),
		frames:   make([]callFrame, 0, defaultFrameCapacity),
		varCache: make(map[varCacheKey]VarCell),
	}
}

// RuntimeError is a VM execution failure, distinct from a thrown Clojure
// exception: it indicates malformed bytecode or a host-level invariant
// violation, never a user-catchable condition.
type RuntimeError struct {
	Op  compiler.OpCode
	Msg string
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("vm: %s: %s", e.Op, e.Msg) }

func (vm *VM) runtimeError(op compiler.OpCode, format string, args ...any) error {
	return &RuntimeError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ThrownError wraps a Clojure-level thrown value (from throw, or an
// arithmetic/arity failure the VM raises as a catchable exception) so
// try/catch in bytecode can distinguish it from a RuntimeError.
type ThrownError struct{ Value value.Value }

func (e *ThrownError) Error() string { return "vm: uncaught exception" }

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() (value.Value, error) {
	if len(vm.stack) == 0 {
		return 0, vm.runtimeError(0, "stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek() (value.Value, error) {
	if len(vm.stack) == 0 {
		return 0, vm.runtimeError(0, "stack underflow")
	}
	return vm.stack[len(vm.stack)-1], nil
}

// Run executes chunk from instruction 0 with no captures, returning the
// final value left on the stack (or nil if the chunk never pushes one).
func (vm *VM) Run(chunk *compiler.Chunk) (value.Value, error) {
	return vm.runClosure(chunk, nil, nil)
}

// CallClosure invokes a bytecode closure with args, used by the Call Bridge
// when routing a call to a bytecode-backed function (including re-entrant
// calls from within an already-running VM, since Go's own call stack makes
// a nested vm.Run safe to invoke directly).
func (vm *VM) CallClosure(proto *compiler.FnProto, captured []value.Value, args []value.Value) (value.Value, error) {
	return vm.runClosure(proto.Chunk, captured, args)
}

func (vm *VM) runClosure(chunk *compiler.Chunk, captured, args []value.Value) (value.Value, error) {
	locals := make([]value.Value, chunk.LocalCount)
	for i, a := range args {
		if i >= len(locals) {
			break
		}
		locals[i] = a
	}
	var closure *value.ClosureObj
	if captured != nil {
		closure = &value.ClosureObj{Captured: captured}
	}
	vm.frames = append(vm.frames, callFrame{chunk: chunk, locals: locals, closure: closure})
	baseFrame := len(vm.frames) - 1
	baseStack := len(vm.stack)

	result, err := vm.loop(baseFrame)
	if err != nil {
		// Unwind any frames/stack this invocation pushed before propagating.
		vm.frames = vm.frames[:baseFrame]
		vm.stack = vm.stack[:baseStack]
		return value.InitNil(), err
	}
	return result, nil
}

// loop runs the dispatch loop until the frame at baseFrame returns.
func (vm *VM) loop(baseFrame int) (value.Value, error) {
	for len(vm.frames) > baseFrame {
		frame := &vm.frames[len(vm.frames)-1]

		if frame.ip >= len(frame.chunk.Code) {
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == baseFrame {
				return value.InitNil(), nil
			}
			vm.push(value.InitNil())
			continue
		}

		vm.instrSinceSafePoint++
		if vm.instrSinceSafePoint >= safePointInterval {
			vm.instrSinceSafePoint = 0
			vm.Heap.SafePoint()
		}

		inst := frame.chunk.Code[frame.ip]
		frame.ip++

		if err := vm.step(frame, inst); err != nil {
			handled, retErr := vm.handleError(baseFrame, err)
			if retErr != nil {
				return value.InitNil(), retErr
			}
			if handled {
				continue
			}
			return value.InitNil(), err
		}

		if frame.returned {
			v, perr := vm.pop()
			if perr != nil {
				return value.InitNil(), perr
			}
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == baseFrame {
				return v, nil
			}
			vm.push(v)
		}
	}
	return value.InitNil(), nil
}
