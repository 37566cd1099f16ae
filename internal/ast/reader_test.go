package ast

import (
	"testing"

	"github.com/lumen-lang/lumen/internal/gc"
)

func TestBuildProgramLiterals(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`42 3.5 nil true false "hi"`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	if len(nodes) != 6 {
		t.Fatalf("got %d nodes, want 6", len(nodes))
	}

	c := nodes[0].(*ConstNode)
	if c.Value.AsInteger() != 42 {
		t.Errorf("nodes[0] = %v, want 42", c.Value.AsInteger())
	}
	if nodes[1].(*ConstNode).Value.AsFloat() != 3.5 {
		t.Errorf("nodes[1] float mismatch")
	}
	if !nodes[2].(*ConstNode).Value.IsNil() {
		t.Errorf("nodes[2] should be nil")
	}
	if !nodes[3].(*ConstNode).Value.IsTrue() {
		t.Errorf("nodes[3] should be true")
	}
	if !nodes[4].(*ConstNode).Value.IsFalse() {
		t.Errorf("nodes[4] should be false")
	}
	if nodes[5].Kind() != KindConst {
		t.Errorf("nodes[5] kind = %v, want KindConst", nodes[5].Kind())
	}
}

func TestBuildProgramStringWithoutHeapErrors(t *testing.T) {
	b := NewBuilder("user", nil)
	if _, _, err := b.BuildProgram(`"hi"`); err == nil {
		t.Errorf("expected error for string literal with no bound heap")
	}
}

func TestBuildProgramSymbolResolution(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`foo other.ns/bar`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	v1 := nodes[0].(*VarRefNode)
	if v1.Namespace != "user" || v1.Name != "foo" {
		t.Errorf("nodes[0] = %+v, want user/foo", v1)
	}
	v2 := nodes[1].(*VarRefNode)
	if v2.Namespace != "other.ns" || v2.Name != "bar" {
		t.Errorf("nodes[1] = %+v, want other.ns/bar", v2)
	}
}

func TestBuildProgramInvoke(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(+ 1 2)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	inv := nodes[0].(*InvokeNode)
	if len(inv.Args) != 2 {
		t.Fatalf("got %d args, want 2", len(inv.Args))
	}
	fn := inv.Fn.(*VarRefNode)
	if fn.Name != "+" {
		t.Errorf("Fn.Name = %q, want %q", fn.Name, "+")
	}
}

func TestBuildProgramDoIf(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(do 1 2 3) (if true 1 2) (if true 1)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	do := nodes[0].(*DoNode)
	if len(do.Body) != 3 {
		t.Errorf("do body len = %d, want 3", len(do.Body))
	}
	ifn := nodes[1].(*IfNode)
	if ifn.Else == nil {
		t.Errorf("if with 3 forms should have a non-nil Else node")
	}
	ifn2 := nodes[2].(*IfNode)
	if ifn2.Else != nil {
		t.Errorf("if with 2 forms should have a nil Else node")
	}
}

func TestBuildProgramIfArityError(t *testing.T) {
	b := NewBuilder("user", gc.New())
	if _, _, err := b.BuildProgram(`(if true)`); err == nil {
		t.Errorf("expected error for (if true) with too few forms")
	}
	if _, _, err := b.BuildProgram(`(if true 1 2 3)`); err == nil {
		t.Errorf("expected error for if with too many forms")
	}
}

func TestBuildProgramLetSequentialBindings(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, topLocals, err := b.BuildProgram(`(let* (x 1 y x) y)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	let := nodes[0].(*LetNode)
	if len(let.Bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(let.Bindings))
	}
	if let.Bindings[0].Slot != 0 || let.Bindings[1].Slot != 1 {
		t.Errorf("bindings = %+v, want slots 0 and 1", let.Bindings)
	}
	// y's init should resolve to a LocalRefNode referencing x's slot.
	yInit, ok := let.Bindings[1].Init.(*LocalRefNode)
	if !ok {
		t.Fatalf("y's init = %T, want *LocalRefNode", let.Bindings[1].Init)
	}
	if yInit.Slot != 0 {
		t.Errorf("y's init slot = %d, want 0 (x's slot)", yInit.Slot)
	}
	if topLocals != 2 {
		t.Errorf("topLocals = %d, want 2", topLocals)
	}
}

func TestBuildProgramLetDoesNotLeakSlotsToSiblings(t *testing.T) {
	b := NewBuilder("user", gc.New())
	_, topLocals, err := b.BuildProgram(`(let* (x 1) x) (let* (y 2) y)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	// The second let* does not reuse the first one's slot (x gets slot 0,
	// y gets slot 1), so the top-level counter covers both and never
	// undercounts.
	if topLocals < 1 {
		t.Errorf("topLocals = %d, want >= 1", topLocals)
	}
}

func TestBuildProgramLoopRecur(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(loop* (i 0) (recur i))`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	loop := nodes[0].(*LoopNode)
	if len(loop.Bindings) != 1 {
		t.Fatalf("got %d bindings, want 1", len(loop.Bindings))
	}
	recur := loop.Body[0].(*RecurNode)
	if len(recur.Args) != 1 {
		t.Errorf("recur args = %d, want 1", len(recur.Args))
	}
}

func TestBuildProgramLetMalformedBindings(t *testing.T) {
	b := NewBuilder("user", gc.New())
	if _, _, err := b.BuildProgram(`(let* (x 1 y) x)`); err == nil {
		t.Errorf("expected error for odd-length binding list")
	}
	if _, _, err := b.BuildProgram(`(let* x x)`); err == nil {
		t.Errorf("expected error for non-list bindings")
	}
}

func TestBuildProgramFn(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(fn* add (a b) (+ a b))`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	fn := nodes[0].(*FnNode)
	if fn.Name != "add" {
		t.Errorf("Name = %q, want %q", fn.Name, "add")
	}
	if len(fn.Arities) != 1 {
		t.Fatalf("got %d arities, want 1", len(fn.Arities))
	}
	arity := fn.Arities[0]
	if len(arity.Params) != 2 || arity.Params[0] != "a" || arity.Params[1] != "b" {
		t.Errorf("Params = %v, want [a b]", arity.Params)
	}
	if arity.Variadic {
		t.Errorf("Variadic = true, want false")
	}
	if len(fn.Captures) != 0 {
		t.Errorf("Captures = %v, want empty (this reader never produces captures)", fn.Captures)
	}
}

func TestBuildProgramFnVariadic(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(fn* (a & rest) rest)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	fn := nodes[0].(*FnNode)
	if fn.Name != "" {
		t.Errorf("Name = %q, want anonymous", fn.Name)
	}
	arity := fn.Arities[0]
	if !arity.Variadic {
		t.Errorf("Variadic = false, want true")
	}
	if len(arity.Params) != 2 {
		t.Errorf("Params = %v, want [a rest]", arity.Params)
	}
}

func TestBuildProgramFnParamsScopedToItsOwnFrame(t *testing.T) {
	// fn* must not see the enclosing let*'s local slots: params start a
	// fresh frame regardless of the surrounding lexical context.
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(let* (x 1) (fn* () x))`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	let := nodes[0].(*LetNode)
	fn := let.Body[0].(*FnNode)
	// x is not resolvable as a local inside the fn* body (no capture
	// analysis in this reader), so it falls back to a Var reference.
	ref, ok := fn.Arities[0].Body[0].(*VarRefNode)
	if !ok {
		t.Fatalf("fn* body's reference to outer x = %T, want *VarRefNode (no capture support)", fn.Arities[0].Body[0])
	}
	if ref.Name != "x" {
		t.Errorf("VarRefNode.Name = %q, want x", ref.Name)
	}
}

func TestBuildProgramDef(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(def x 1) (def other.ns/y 2) (def z)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	d0 := nodes[0].(*DefNode)
	if d0.Namespace != "user" || d0.Name != "x" || d0.Init == nil {
		t.Errorf("nodes[0] = %+v, want user/x with init", d0)
	}
	d1 := nodes[1].(*DefNode)
	if d1.Namespace != "other.ns" || d1.Name != "y" {
		t.Errorf("nodes[1] = %+v, want other.ns/y", d1)
	}
	d2 := nodes[2].(*DefNode)
	if d2.Init != nil {
		t.Errorf("forward declaration's Init = %v, want nil", d2.Init)
	}
}

func TestBuildProgramThrow(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`(throw err)`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	th := nodes[0].(*ThrowNode)
	if th.Expr == nil {
		t.Errorf("Expr is nil")
	}
	if _, _, err := b.BuildProgram(`(throw)`); err == nil {
		t.Errorf("expected error for throw with no expression")
	}
}

func TestBuildProgramTryCatchFinally(t *testing.T) {
	b := NewBuilder("user", gc.New())
	nodes, _, err := b.BuildProgram(`
		(try
		  (throw err)
		  (catch Exception e e)
		  (finally 1))`)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	tr := nodes[0].(*TryNode)
	if len(tr.Body) != 1 {
		t.Fatalf("Body len = %d, want 1", len(tr.Body))
	}
	if len(tr.Catches) != 1 {
		t.Fatalf("Catches len = %d, want 1", len(tr.Catches))
	}
	c := tr.Catches[0]
	if c.ExceptionType != "Exception" || c.Binding != "e" {
		t.Errorf("catch clause = %+v, want Exception/e", c)
	}
	if len(tr.Finally) != 1 {
		t.Errorf("Finally len = %d, want 1", len(tr.Finally))
	}
}

func TestBuildProgramTryClauseOrderError(t *testing.T) {
	b := NewBuilder("user", gc.New())
	if _, _, err := b.BuildProgram(`(try (catch Exception e e) 1)`); err == nil {
		t.Errorf("expected error for a body form following a catch clause")
	}
}

func TestTokenizeErrors(t *testing.T) {
	b := NewBuilder("user", gc.New())
	if _, _, err := b.BuildProgram(`"unterminated`); err == nil {
		t.Errorf("expected error for unterminated string literal")
	}
	if _, _, err := b.BuildProgram(`(1 2`); err == nil {
		t.Errorf("expected error for unterminated list")
	}
	if _, _, err := b.BuildProgram(`)`); err == nil {
		t.Errorf("expected error for unexpected )")
	}
}

