// Package bridge implements the Call Bridge: the single routing point
// through which a value tagged "callable" (a bytecode closure, a
// tree-walk closure, a Var reference, or a builtin, which is also how
// protocol dispatchers and multimethods are represented) gets invoked
// regardless of which engine is asking. Keywords are not callable. Both
// internal/vm and internal/eval depend on a Host interface rather than on
// Bridge directly, so neither engine package needs to import the other or
// import internal/bootstrap; Bridge is the concrete type wired into both
// at process start.
package bridge

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/bootstrap"
	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/eval"
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
	"github.com/lumen-lang/lumen/internal/vm"
)

// Bridge owns the live VM and Evaluator instances and the Runtime they
// both read Vars and exceptions through. It implements vm.Host and
// eval.Host (the two interfaces are identical by type alias, so one
// implementation satisfies both).
type Bridge struct {
	Heap *gc.Heap
	RT   *bootstrap.Runtime
	VM   *vm.VM
	Eval *eval.Evaluator

	futures *futureRegistry
}

// New constructs a Bridge with a fresh VM and Evaluator wired to it, and
// installs the Runtime hooks (CallFn, SpawnFutureFn) the bootstrap
// builtins need to invoke arbitrary callables without bootstrap itself
// depending on vm/eval.
func New(heap *gc.Heap) *Bridge {
	rt := bootstrap.NewRuntime(heap)
	b := &Bridge{Heap: heap, RT: rt}
	b.VM = vm.New(heap, b)
	b.Eval = eval.New(heap, b)
	rt.CallFn = b.Call
	rt.SpawnFutureFn = b.spawnFuture
	rt.DerefFn = b.deref
	rt.RegisterBuiltins(heap)
	return b
}

var _ vm.Host = (*Bridge)(nil)
var _ eval.Host = (*Bridge)(nil)

// Call implements vm.Host/eval.Host: it resolves fn's concrete shape and
// routes to the engine (or builtin table, or dispatcher) that can run it.
// Any plain Go error surfacing from that dispatch (a builtin's arity
// check, an unresolved Var, an uncallable value) is turned into a
// catchable Lumen exception here, the one place every call path funnels
// through, rather than leaving builtins' native errors as uncatchable VM
// failures while only explicit (throw ...) is catchable.
func (b *Bridge) Call(fn value.Value, args []value.Value) (value.Value, error) {
	result, err := b.call(fn, args)
	if err == nil {
		return result, nil
	}
	if _, ok := err.(*vm.ThrownError); ok {
		return value.InitNil(), err
	}
	return value.InitNil(), &vm.ThrownError{Value: b.RT.NewExceptionValue(err.Error())}
}

func (b *Bridge) call(fn value.Value, args []value.Value) (value.Value, error) {
	if fn.Kind() == value.KindBuiltin {
		return b.RT.Builtins.Call(b.RT, fn, args)
	}

	obj := b.Heap.Resolve(fn)
	switch callee := obj.(type) {
	case *value.ClosureObj:
		return b.callClosure(callee, args)
	case *value.VarRefObj:
		target, err := b.RT.LoadVar(callee.Namespace, callee.Name)
		if err != nil {
			return value.InitNil(), err
		}
		return b.call(target, args)
	default:
		return value.InitNil(), fmt.Errorf("bridge: value is not callable: %v", fn)
	}
}

// callClosure dispatches on the closure's concrete prototype type: a
// bytecode closure (compiler.MultiArityProto) runs through the VM, a
// tree-walk closure (eval.TreeMultiProto) runs through the Evaluator.
// Both share the identical arity-selection rule: the first arity whose
// fixed parameter count matches len(args), falling back to a variadic
// arity if one was compiled.
func (b *Bridge) callClosure(closure *value.ClosureObj, args []value.Value) (value.Value, error) {
	switch multi := closure.Proto.(type) {
	case *compiler.MultiArityProto:
		proto, err := selectBytecodeArity(multi, len(args))
		if err != nil {
			return value.InitNil(), err
		}
		return b.VM.CallClosure(proto, closure.Captured, args)
	case *eval.TreeMultiProto:
		proto, err := selectTreeArity(multi, len(args))
		if err != nil {
			return value.InitNil(), err
		}
		return b.Eval.CallClosure(proto, closure.Captured, args)
	default:
		return value.InitNil(), fmt.Errorf("bridge: unrecognized closure prototype %T", closure.Proto)
	}
}

func selectBytecodeArity(multi *compiler.MultiArityProto, argc int) (*compiler.FnProto, error) {
	var variadic *compiler.FnProto
	for _, p := range multi.Arities {
		if p.Variadic {
			variadic = p
			continue
		}
		if len(p.Params) == argc {
			return p, nil
		}
	}
	if variadic != nil && argc >= len(variadic.Params) {
		return variadic, nil
	}
	return nil, fmt.Errorf("bridge: %s: no matching arity for %d arguments", multi.Name, argc)
}

func selectTreeArity(multi *eval.TreeMultiProto, argc int) (*eval.TreeProto, error) {
	var variadic *eval.TreeProto
	for _, p := range multi.Arities {
		if p.Variadic {
			variadic = p
			continue
		}
		if len(p.Params) == argc {
			return p, nil
		}
	}
	if variadic != nil && argc >= len(variadic.Params) {
		return variadic, nil
	}
	return nil, fmt.Errorf("bridge: %s: no matching arity for %d arguments", multi.Name, argc)
}

// LoadVar, ResolveVar, SetVar, BindVar, and UnbindVar implement
// vm.Host/eval.Host by delegating straight to the Runtime.
func (b *Bridge) LoadVar(ns, name string) (value.Value, error) { return b.RT.LoadVar(ns, name) }
func (b *Bridge) ResolveVar(ns, name string) (vm.VarCell, error) {
	return b.RT.ResolveVar(ns, name)
}
func (b *Bridge) SetVar(ns, name string, v value.Value) error  { return b.RT.SetVar(ns, name, v) }
func (b *Bridge) BindVar(ns, name string, v value.Value) error { return b.RT.BindVar(ns, name, v) }
func (b *Bridge) UnbindVar(count int)                          { b.RT.UnbindVar(count) }

// NewExceptionValue, ExceptionTypeKey, and IsSubtype implement
// vm.Host/eval.Host by delegating to the Runtime's exception machinery.
func (b *Bridge) NewExceptionValue(message string) value.Value {
	return b.RT.NewExceptionValue(message)
}
func (b *Bridge) ExceptionTypeKey(v value.Value) string { return b.RT.ExceptionTypeKey(v) }
func (b *Bridge) IsSubtype(typeKey, ancestorKey string) bool {
	return b.RT.IsSubtype(typeKey, ancestorKey)
}

// InteropCall implements vm.Host/eval.Host. Cross-backend interop (calling
// into a Go-native host object, as opposed to a Lumen value) is resolved
// through the same protocol registry used for defprotocol/extend-type:
// an interop call on target for member "foo" looks up a zero-protocol
// "native method" extension keyed by the target's runtime type key.
func (b *Bridge) InteropCall(target value.Value, member string, args []value.Value) (value.Value, error) {
	typeKey := b.typeKeyFor(target)
	fn, _, ok := b.RT.Protocols.Lookup("lumen.interop", "Native", typeKey, member)
	if !ok {
		return value.InitNil(), fmt.Errorf("bridge: no interop method %q registered for type %s", member, typeKey)
	}
	callArgs := append([]value.Value{target}, args...)
	return b.Call(fn, callArgs)
}

// typeKeyFor maps a Value to the runtime type key used throughout the
// protocol/multimethod registries and the exception hierarchy: the heap
// object's Go type name for heap values, and a fixed scalar name
// otherwise.
func (b *Bridge) typeKeyFor(v value.Value) string {
	switch v.Kind() {
	case value.KindInteger:
		return "integer"
	case value.KindFloat:
		return "float"
	case value.KindChar:
		return "char"
	case value.KindConst:
		if v.IsNil() {
			return "nil"
		}
		return "boolean"
	case value.KindBuiltin:
		return "builtin"
	default:
		return fmt.Sprintf("%T", b.Heap.Resolve(v))
	}
}
