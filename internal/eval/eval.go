// Package eval implements the tree-walk evaluator: a direct Eval(node) ->
// Value interpreter over internal/ast, used for code the compiler hasn't
// (yet) turned into bytecode — REPL top-level forms, macro bodies, and any
// fn* the Call Bridge chooses to run uncompiled. It mirrors internal/vm's
// exception and recur handling closely enough that a thrown value from one
// is indistinguishable from the other once it reaches a shared try/catch.
package eval

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
	"github.com/lumen-lang/lumen/internal/vm"
)

// Host is the evaluator's window onto the surrounding runtime. It is the
// same shape as vm.Host (Var access, Call Bridge dispatch, interop,
// exception construction) so a single bootstrap implementation serves
// both execution engines.
type Host = vm.Host

// VarCell mirrors vm.VarCell; the tree-walk evaluator doesn't maintain an
// inline cache of its own (every VarRefNode just calls LoadVar), but a
// Host implementation must still satisfy this method to satisfy Host.
type VarCell = vm.VarCell

// ThrownError and RuntimeError are shared with internal/vm so a try/catch
// compiled to bytecode can catch an exception raised by a tree-walked
// closure, and vice versa.
type ThrownError = vm.ThrownError
type RuntimeError = vm.RuntimeError

// TreeProto is one compiled-for-tree-walk arity: its param shape and AST
// body, the tree-walk counterpart of compiler.FnProto.
type TreeProto struct {
	Name       string
	Params     []string
	Variadic   bool
	LocalCount int
	CaptureLen int
	Body       []ast.Node
}

// ProtoName implements value.FnProto.
func (p *TreeProto) ProtoName() string { return p.Name }

var _ value.FnProto = (*TreeProto)(nil)

// TreeMultiProto groups every arity of one (possibly multi-arity) fn* form
// evaluated directly from the AST rather than compiled to bytecode.
type TreeMultiProto struct {
	Name     string
	Arities  []*TreeProto
	Captures []ast.CaptureRef
}

// ProtoName implements value.FnProto.
func (p *TreeMultiProto) ProtoName() string { return p.Name }

var _ value.FnProto = (*TreeMultiProto)(nil)

// recurSignal unwinds to the nearest enclosing loop*/fn* body runner,
// carrying the rebound argument values. It is never allowed to escape
// Eval itself — compileFn/compileLet-equivalent runners here always
// catch it at the scope they introduced.
type recurSignal struct{ values []value.Value }

func (recurSignal) Error() string { return "eval: recur outside loop*/fn*" }

// Evaluator walks an AST directly against a Heap and Host, without ever
// producing bytecode.
type Evaluator struct {
	Heap *gc.Heap
	Host Host
}

// New creates an Evaluator over heap, wired to host.
func New(heap *gc.Heap, host Host) *Evaluator {
	return &Evaluator{Heap: heap, Host: host}
}

// frame is one activation's local-slot storage, mirroring vm.callFrame's
// locals array: the analyzer assigns flat slot numbers, so the evaluator
// needs no named-scope chain, only a slice indexed by slot.
type frame struct {
	locals   []value.Value
	captures []value.Value
}

func newFrame(localCount int, captures []value.Value) *frame {
	return &frame{locals: make([]value.Value, localCount), captures: captures}
}

func (f *frame) get(slot int) value.Value {
	if slot < 0 || slot >= len(f.locals) {
		return value.InitNil()
	}
	return f.locals[slot]
}

func (f *frame) set(slot int, v value.Value) {
	if slot >= len(f.locals) {
		grown := make([]value.Value, slot+1)
		copy(grown, f.locals)
		f.locals = grown
	}
	f.locals[slot] = v
}

// EvalProgram evaluates a top-level sequence of forms in order, returning
// the last form's value (nil if forms is empty).
func (e *Evaluator) EvalProgram(forms []ast.Node) (value.Value, error) {
	fr := newFrame(0, nil)
	var result value.Value = value.InitNil()
	for _, n := range forms {
		v, err := e.eval(n, fr)
		if err != nil {
			return value.InitNil(), err
		}
		result = v
	}
	return result, nil
}

// CallClosure evaluates proto's body against args, the tree-walk
// counterpart of vm.CallClosure, used by the Call Bridge when routing a
// call to a tree-walk-backed function.
func (e *Evaluator) CallClosure(proto *TreeProto, captured, args []value.Value) (value.Value, error) {
	fr := newFrame(proto.LocalCount, captured)
	for i, a := range args {
		if i >= len(fr.locals) {
			break
		}
		fr.locals[i] = a
	}
	for {
		result, err := e.evalBody(proto.Body, fr)
		if rs, ok := err.(recurSignal); ok {
			for i, v := range rs.values {
				fr.set(i, v)
			}
			continue
		}
		return result, err
	}
}

func (e *Evaluator) evalBody(body []ast.Node, fr *frame) (value.Value, error) {
	var result value.Value = value.InitNil()
	for _, n := range body {
		v, err := e.eval(n, fr)
		if err != nil {
			return value.InitNil(), err
		}
		result = v
	}
	return result, nil
}

func (e *Evaluator) eval(n ast.Node, fr *frame) (value.Value, error) {
	if n == nil {
		return value.InitNil(), nil
	}

	switch node := n.(type) {
	case *ast.ConstNode:
		return node.Value, nil
	case *ast.QuoteNode:
		return node.Value, nil
	case *ast.LocalRefNode:
		return fr.get(node.Slot), nil
	case *ast.VarRefNode:
		v, err := e.Host.LoadVar(node.Namespace, node.Name)
		if err != nil {
			return value.InitNil(), &ThrownError{Value: e.Host.NewExceptionValue(
				"unable to resolve var: " + node.Namespace + "/" + node.Name)}
		}
		return v, nil

	case *ast.DoNode:
		return e.evalBody(node.Body, fr)

	case *ast.IfNode:
		test, err := e.eval(node.Test, fr)
		if err != nil {
			return value.InitNil(), err
		}
		if test.Truthy() {
			return e.eval(node.Then, fr)
		}
		return e.eval(node.Else, fr)

	case *ast.LetNode:
		return e.evalLet(node.Bindings, node.Body, fr)

	case *ast.LoopNode:
		return e.evalLoop(node.Bindings, node.Body, fr)

	case *ast.RecurNode:
		vals := make([]value.Value, len(node.Args))
		for i, a := range node.Args {
			v, err := e.eval(a, fr)
			if err != nil {
				return value.InitNil(), err
			}
			vals[i] = v
		}
		return value.InitNil(), recurSignal{values: vals}

	case *ast.FnNode:
		return e.evalFn(node, fr)

	case *ast.DefnNode:
		fn, err := e.evalFn(node.Fn, fr)
		if err != nil {
			return value.InitNil(), err
		}
		if err := e.Host.SetVar(node.Namespace, node.Name, fn); err != nil {
			return value.InitNil(), err
		}
		return fn, nil

	case *ast.DefNode:
		v, err := e.eval(node.Init, fr)
		if err != nil {
			return value.InitNil(), err
		}
		if err := e.Host.SetVar(node.Namespace, node.Name, v); err != nil {
			return value.InitNil(), err
		}
		return v, nil

	case *ast.ThrowNode:
		v, err := e.eval(node.Expr, fr)
		if err != nil {
			return value.InitNil(), err
		}
		return value.InitNil(), &ThrownError{Value: v}

	case *ast.TryNode:
		return e.evalTry(node, fr)

	case *ast.CaseNode:
		return e.evalCase(node, fr)

	case *ast.InvokeNode:
		return e.evalInvoke(node, fr)

	case *ast.InteropCallNode:
		return e.evalInterop(node, fr)

	case *ast.DefProtocolNode, *ast.ExtendTypeNode, *ast.DefMultiNode, *ast.DefMethodNode:
		return value.InitNil(), fmt.Errorf("eval: %s must be evaluated by the bootstrap loader", n.Kind())

	default:
		return value.InitNil(), fmt.Errorf("eval: unhandled node kind %s", n.Kind())
	}
}

func (e *Evaluator) evalLet(bindings []ast.Binding, body []ast.Node, fr *frame) (value.Value, error) {
	for _, b := range bindings {
		v, err := e.eval(b.Init, fr)
		if err != nil {
			return value.InitNil(), err
		}
		fr.set(b.Slot, v)
	}
	return e.evalBody(body, fr)
}

func (e *Evaluator) evalLoop(bindings []ast.Binding, body []ast.Node, fr *frame) (value.Value, error) {
	baseSlot := 0
	if len(bindings) > 0 {
		baseSlot = bindings[0].Slot
	}
	for _, b := range bindings {
		v, err := e.eval(b.Init, fr)
		if err != nil {
			return value.InitNil(), err
		}
		fr.set(b.Slot, v)
	}
	for {
		result, err := e.evalBody(body, fr)
		if rs, ok := err.(recurSignal); ok {
			if len(rs.values) != len(bindings) {
				return value.InitNil(), fmt.Errorf("eval: recur arity mismatch: got %d args, loop expects %d", len(rs.values), len(bindings))
			}
			for i, v := range rs.values {
				fr.set(baseSlot+i, v)
			}
			continue
		}
		return result, err
	}
}

func (e *Evaluator) evalFn(n *ast.FnNode, fr *frame) (value.Value, error) {
	protos := make([]*TreeProto, len(n.Arities))
	for i, arity := range n.Arities {
		protos[i] = &TreeProto{
			Name: n.Name, Params: arity.Params, Variadic: arity.Variadic,
			LocalCount: arity.LocalCount, CaptureLen: len(n.Captures), Body: arity.Body,
		}
	}
	captured := make([]value.Value, len(n.Captures))
	for i, capt := range n.Captures {
		captured[i] = fr.get(capt.OuterSlot)
	}
	multi := &TreeMultiProto{Name: n.Name, Arities: protos, Captures: n.Captures}
	return e.Heap.NewClosure(multi, captured, "", true), nil
}

func (e *Evaluator) evalTry(n *ast.TryNode, fr *frame) (value.Value, error) {
	result, err := e.evalBody(n.Body, fr)
	if err != nil {
		if thrown, ok := err.(*ThrownError); ok {
			typeKey := e.Host.ExceptionTypeKey(thrown.Value)
			for _, cat := range n.Catches {
				if cat.ExceptionType == "" || cat.ExceptionType == typeKey || e.Host.IsSubtype(typeKey, cat.ExceptionType) {
					slot := bindingSlotFor(cat.Binding)
					fr.set(slot, thrown.Value)
					caught, cerr := e.evalBody(cat.Body, fr)
					if len(n.Finally) > 0 {
						if _, ferr := e.evalBody(n.Finally, fr); ferr != nil {
							return value.InitNil(), ferr
						}
					}
					return caught, cerr
				}
			}
		}
		if len(n.Finally) > 0 {
			if _, ferr := e.evalBody(n.Finally, fr); ferr != nil {
				return value.InitNil(), ferr
			}
		}
		return value.InitNil(), err
	}
	if len(n.Finally) > 0 {
		if _, ferr := e.evalBody(n.Finally, fr); ferr != nil {
			return value.InitNil(), ferr
		}
	}
	return result, nil
}

// bindingSlotFor mirrors internal/compiler's placeholder scheme for catch
// bindings evaluated against hand-built fixtures that don't carry a real
// slot allocator.
func bindingSlotFor(name string) int {
	if name == "" {
		return 0
	}
	slot := 0
	for _, r := range name {
		slot = slot*31 + int(r)
	}
	if slot < 0 {
		slot = -slot
	}
	return slot % 256
}

func (e *Evaluator) evalCase(n *ast.CaseNode, fr *frame) (value.Value, error) {
	scrutinee, err := e.eval(n.Expr, fr)
	if err != nil {
		return value.InitNil(), err
	}
	for _, clause := range n.Clauses {
		for _, v := range clause.Values {
			if value.Equals(e.Heap, scrutinee, v) {
				return e.eval(clause.Body, fr)
			}
		}
	}
	if n.Default != nil {
		return e.eval(n.Default, fr)
	}
	return value.InitNil(), &ThrownError{Value: e.Host.NewExceptionValue("no matching case clause")}
}

func (e *Evaluator) evalInvoke(n *ast.InvokeNode, fr *frame) (value.Value, error) {
	fn, err := e.eval(n.Fn, fr)
	if err != nil {
		return value.InitNil(), err
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := e.eval(a, fr)
		if err != nil {
			return value.InitNil(), err
		}
		args[i] = v
	}
	return e.Host.Call(fn, args)
}

func (e *Evaluator) evalInterop(n *ast.InteropCallNode, fr *frame) (value.Value, error) {
	target, err := e.eval(n.Target, fr)
	if err != nil {
		return value.InitNil(), err
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := e.eval(a, fr)
		if err != nil {
			return value.InitNil(), err
		}
		args[i] = v
	}
	return e.Host.InteropCall(target, n.Member, args)
}
