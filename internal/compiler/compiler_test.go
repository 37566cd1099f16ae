package compiler

import (
	"testing"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/value"
)

func constNode(v value.Value) *ast.ConstNode { return &ast.ConstNode{Value: v} }

func TestCompileConstProgram(t *testing.T) {
	chunk, _, err := CompileProgram([]ast.Node{constNode(value.InitInteger(42))})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	if len(chunk.Code) != 2 {
		t.Fatalf("expected LOAD_CONST+HALT, got %d instructions", len(chunk.Code))
	}
	if chunk.Code[0].OpCode() != OpLoadConst {
		t.Errorf("first op = %s, want LOAD_CONST", chunk.Code[0].OpCode())
	}
	if chunk.Code[1].OpCode() != OpHalt {
		t.Errorf("last op = %s, want HALT", chunk.Code[1].OpCode())
	}
	if chunk.Constants[0].AsInteger() != 42 {
		t.Errorf("constant = %d, want 42", chunk.Constants[0].AsInteger())
	}
}

func TestCompileIfEmitsJumps(t *testing.T) {
	n := &ast.IfNode{
		Test: constNode(value.InitBool(true)),
		Then: constNode(value.InitInteger(1)),
		Else: constNode(value.InitInteger(2)),
	}
	chunk, _, err := CompileProgram([]ast.Node{n})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	var sawJumpIfFalse, sawJump bool
	for _, inst := range chunk.Code {
		switch inst.OpCode() {
		case OpJumpIfFalse:
			sawJumpIfFalse = true
		case OpJump:
			sawJump = true
		}
	}
	if !sawJumpIfFalse || !sawJump {
		t.Errorf("if* compilation should emit JUMP_IF_FALSE and JUMP, code=%v", chunk.Code)
	}
}

func TestCompileLetStoresAndLoadsLocals(t *testing.T) {
	n := &ast.LetNode{
		Bindings: []ast.Binding{{Slot: 0, Name: "x", Init: constNode(value.InitInteger(10))}},
		Body:     []ast.Node{&ast.LocalRefNode{Name: "x", Slot: 0}},
	}
	chunk, _, err := CompileProgram([]ast.Node{n})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	if chunk.Code[0].OpCode() != OpLoadConst {
		t.Fatalf("expected init to load a constant first, got %s", chunk.Code[0].OpCode())
	}
	if chunk.Code[1].OpCode() != OpStoreLocal || chunk.Code[1].B() != 0 {
		t.Errorf("expected STORE_LOCAL 0, got %s %d", chunk.Code[1].OpCode(), chunk.Code[1].B())
	}
	if chunk.Code[2].OpCode() != OpLoadLocal || chunk.Code[2].B() != 0 {
		t.Errorf("expected LOAD_LOCAL 0, got %s %d", chunk.Code[2].OpCode(), chunk.Code[2].B())
	}
}

func TestCompileLoopRecurJumpsBackward(t *testing.T) {
	loop := &ast.LoopNode{
		Bindings: []ast.Binding{{Slot: 0, Name: "i", Init: constNode(value.InitInteger(0))}},
		Body: []ast.Node{
			&ast.IfNode{
				Test: constNode(value.InitBool(false)),
				Then: &ast.RecurNode{Args: []ast.Node{&ast.LocalRefNode{Name: "i", Slot: 0}}},
				Else: &ast.LocalRefNode{Name: "i", Slot: 0},
			},
		},
	}
	chunk, _, err := CompileProgram([]ast.Node{loop})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	found := false
	for i, inst := range chunk.Code {
		if inst.OpCode() == OpJump && inst.SignedB() < 0 {
			found = true
			target := i + 1 + int(inst.SignedB())
			if target < 0 || target >= len(chunk.Code) {
				t.Errorf("recur jump target %d out of range", target)
			}
		}
	}
	if !found {
		t.Error("expected a backward jump compiled for recur")
	}
}

func TestCompileRecurArityMismatch(t *testing.T) {
	loop := &ast.LoopNode{
		Bindings: []ast.Binding{{Slot: 0, Name: "i", Init: constNode(value.InitInteger(0))}},
		Body: []ast.Node{
			&ast.RecurNode{Args: []ast.Node{
				constNode(value.InitInteger(1)), constNode(value.InitInteger(2)),
			}},
		},
	}
	if _, _, err := CompileProgram([]ast.Node{loop}); err == nil {
		t.Error("expected an arity-mismatch error from recur with too many args")
	}
}

func TestCompileFnMakesClosure(t *testing.T) {
	fn := &ast.FnNode{
		Name: "identity",
		Arities: []ast.FnArity{
			{Params: []string{"x"}, LocalCount: 1, Body: []ast.Node{&ast.LocalRefNode{Name: "x", Slot: 0}}},
		},
	}
	chunk, protos, err := CompileProgram([]ast.Node{fn})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	if len(protos) == 0 {
		t.Fatal("expected at least one compiled prototype")
	}
	sawMakeClosure := false
	for _, inst := range chunk.Code {
		if inst.OpCode() == OpMakeClosure {
			sawMakeClosure = true
		}
	}
	if !sawMakeClosure {
		t.Error("fn* compilation should emit MAKE_CLOSURE")
	}
}

func TestCompileInvokeEmitsCallWithArgc(t *testing.T) {
	inv := &ast.InvokeNode{
		Fn:   &ast.VarRefNode{Namespace: "user", Name: "f"},
		Args: []ast.Node{constNode(value.InitInteger(1)), constNode(value.InitInteger(2))},
	}
	chunk, _, err := CompileProgram([]ast.Node{inv})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	last := chunk.Code[len(chunk.Code)-2] // before HALT
	if last.OpCode() != OpCall || last.A() != 2 {
		t.Errorf("expected CALL with argc=2, got %s argc=%d", last.OpCode(), last.A())
	}
}

func TestAddConstantDedupesScalars(t *testing.T) {
	c := NewChunk("t")
	i1 := c.AddConstant(value.InitInteger(7))
	i2 := c.AddConstant(value.InitInteger(7))
	if i1 != i2 {
		t.Errorf("identical integer constants should dedupe, got %d and %d", i1, i2)
	}
}

func TestCaseCompilesWithoutError(t *testing.T) {
	n := &ast.CaseNode{
		Expr: constNode(value.InitInteger(2)),
		Clauses: []ast.CaseClause{
			{Values: []value.Value{value.InitInteger(1)}, Body: constNode(value.InitInteger(100))},
			{Values: []value.Value{value.InitInteger(2)}, Body: constNode(value.InitInteger(200))},
		},
		Default: constNode(value.InitNil()),
	}
	if _, _, err := CompileProgram([]ast.Node{n}); err != nil {
		t.Fatalf("case* should compile cleanly: %v", err)
	}
}

func TestTryCompilesHandlerInfo(t *testing.T) {
	n := &ast.TryNode{
		Body: []ast.Node{constNode(value.InitInteger(1))},
		Catches: []ast.CatchClause{
			{ExceptionType: "user/MyError", Binding: "e", Body: []ast.Node{constNode(value.InitInteger(0))}},
		},
	}
	chunk, _, err := CompileProgram([]ast.Node{n})
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	if len(chunk.Handlers) != 1 {
		t.Fatalf("expected one handler descriptor, got %d", len(chunk.Handlers))
	}
	for _, info := range chunk.Handlers {
		if len(info.CatchTypes) != 1 || info.CatchTypes[0] != "user/MyError" {
			t.Errorf("handler catch types = %v", info.CatchTypes)
		}
	}
}
