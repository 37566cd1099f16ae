package eval

import (
	"fmt"
	"testing"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

type fakeHost struct {
	ev   *Evaluator
	vars map[string]value.Value
}

func newFakeHost() *fakeHost { return &fakeHost{vars: map[string]value.Value{}} }

func (h *fakeHost) Call(fn value.Value, args []value.Value) (value.Value, error) {
	obj := h.ev.Heap.Resolve(fn)
	closure, ok := obj.(*value.ClosureObj)
	if !ok {
		return value.InitNil(), fmt.Errorf("not callable")
	}
	multi := closure.Proto.(*TreeMultiProto)
	proto := multi.Arities[0]
	for _, p := range multi.Arities {
		if len(p.Params) == len(args) {
			proto = p
			break
		}
	}
	return h.ev.CallClosure(proto, closure.Captured, args)
}

func (h *fakeHost) LoadVar(ns, name string) (value.Value, error) {
	v, ok := h.vars[ns+"/"+name]
	if !ok {
		return value.InitNil(), fmt.Errorf("unbound var %s/%s", ns, name)
	}
	return v, nil
}

// fakeVarCell is a trivial vm.VarCell backed by a map read on every Load,
// matching this test host's lack of any real Var indirection.
type fakeVarCell struct {
	host     *fakeHost
	ns, name string
}

func (c fakeVarCell) Load() value.Value { return c.host.vars[c.ns+"/"+c.name] }

func (h *fakeHost) ResolveVar(ns, name string) (VarCell, error) {
	if _, ok := h.vars[ns+"/"+name]; !ok {
		return nil, fmt.Errorf("unbound var %s/%s", ns, name)
	}
	return fakeVarCell{host: h, ns: ns, name: name}, nil
}

func (h *fakeHost) SetVar(ns, name string, v value.Value) error {
	h.vars[ns+"/"+name] = v
	return nil
}

func (h *fakeHost) BindVar(ns, name string, v value.Value) error { return h.SetVar(ns, name, v) }
func (h *fakeHost) UnbindVar(count int)                          {}

func (h *fakeHost) InteropCall(target value.Value, member string, args []value.Value) (value.Value, error) {
	return value.InitNil(), fmt.Errorf("interop not supported in test host")
}

func (h *fakeHost) NewExceptionValue(message string) value.Value {
	return h.ev.Heap.NewString(message)
}

func (h *fakeHost) ExceptionTypeKey(v value.Value) string { return "error" }
func (h *fakeHost) IsSubtype(typeKey, ancestorKey string) bool {
	return typeKey == ancestorKey
}

func newTestEvaluator() (*Evaluator, *fakeHost) {
	heap := gc.New()
	host := newFakeHost()
	ev := New(heap, host)
	host.ev = ev
	return ev, host
}

func constNode(v value.Value) *ast.ConstNode { return &ast.ConstNode{Value: v} }

func TestEvalIfBranches(t *testing.T) {
	ev, _ := newTestEvaluator()
	result, err := ev.EvalProgram([]ast.Node{&ast.IfNode{
		Test: constNode(value.InitBool(false)),
		Then: constNode(value.InitInteger(1)),
		Else: constNode(value.InitInteger(2)),
	}})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.AsInteger() != 2 {
		t.Errorf("if false branch = %d, want 2", result.AsInteger())
	}
}

func TestEvalLetBindsLocal(t *testing.T) {
	ev, _ := newTestEvaluator()
	result, err := ev.EvalProgram([]ast.Node{&ast.LetNode{
		Bindings: []ast.Binding{{Slot: 0, Name: "x", Init: constNode(value.InitInteger(10))}},
		Body:     []ast.Node{&ast.LocalRefNode{Name: "x", Slot: 0}},
	}})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.AsInteger() != 10 {
		t.Errorf("let x=10 = %d, want 10", result.AsInteger())
	}
}

func TestEvalLoopReturnsInitWhenRecurNotTaken(t *testing.T) {
	ev, _ := newTestEvaluator()
	loop := &ast.LoopNode{
		Bindings: []ast.Binding{{Slot: 0, Name: "i", Init: constNode(value.InitInteger(3))}},
		Body: []ast.Node{&ast.IfNode{
			Test: constNode(value.InitBool(false)),
			Then: &ast.RecurNode{Args: []ast.Node{&ast.LocalRefNode{Name: "i", Slot: 0}}},
			Else: &ast.LocalRefNode{Name: "i", Slot: 0},
		}},
	}
	result, err := ev.EvalProgram([]ast.Node{loop})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.AsInteger() != 3 {
		t.Errorf("loop without recur taken = %d, want 3", result.AsInteger())
	}
}

func TestEvalFnClosureCallsThroughHost(t *testing.T) {
	ev, _ := newTestEvaluator()
	fn := &ast.FnNode{
		Name: "identity",
		Arities: []ast.FnArity{{
			Params:     []string{"x"},
			LocalCount: 1,
			Body:       []ast.Node{&ast.LocalRefNode{Name: "x", Slot: 0}},
		}},
	}
	invoke := &ast.InvokeNode{Fn: fn, Args: []ast.Node{constNode(value.InitInteger(41))}}
	result, err := ev.EvalProgram([]ast.Node{invoke})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.AsInteger() != 41 {
		t.Errorf("identity(41) = %d, want 41", result.AsInteger())
	}
}

func TestEvalTryCatchHandlesThrow(t *testing.T) {
	ev, _ := newTestEvaluator()
	tryNode := &ast.TryNode{
		Body: []ast.Node{&ast.ThrowNode{Expr: constNode(value.InitInteger(99))}},
		Catches: []ast.CatchClause{
			{ExceptionType: "", Binding: "e", Body: []ast.Node{constNode(value.InitInteger(1))}},
		},
	}
	result, err := ev.EvalProgram([]ast.Node{tryNode})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.AsInteger() != 1 {
		t.Errorf("catch body result = %d, want 1", result.AsInteger())
	}
}

func TestEvalTryFinallyRunsOnUncaught(t *testing.T) {
	ev, host := newTestEvaluator()
	tryNode := &ast.TryNode{
		Body:    []ast.Node{&ast.ThrowNode{Expr: constNode(value.InitInteger(7))}},
		Catches: nil,
		Finally: []ast.Node{&ast.DefNode{Namespace: "user", Name: "ran", Init: constNode(value.InitBool(true))}},
	}
	_, err := ev.EvalProgram([]ast.Node{tryNode})
	if err == nil {
		t.Fatalf("expected uncaught throw to propagate")
	}
	if _, ok := err.(*ThrownError); !ok {
		t.Fatalf("expected *ThrownError, got %T", err)
	}
	if ran, ok := host.vars["user/ran"]; !ok || !ran.Truthy() {
		t.Errorf("finally body did not run on the uncaught throw")
	}
}

func TestEvalDefAndLoadVar(t *testing.T) {
	ev, _ := newTestEvaluator()
	result, err := ev.EvalProgram([]ast.Node{
		&ast.DefNode{Namespace: "user", Name: "x", Init: constNode(value.InitInteger(5))},
		&ast.VarRefNode{Namespace: "user", Name: "x"},
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.AsInteger() != 5 {
		t.Errorf("def then var-ref = %d, want 5", result.AsInteger())
	}
}
