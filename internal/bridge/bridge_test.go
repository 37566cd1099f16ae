package bridge

import (
	"testing"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

// runSrc compiles src (read with the default-namespace set to lumen.core,
// so bare symbols like + and range resolve against the builtin table) and
// runs it through a fresh Bridge's VM.
func runSrc(t *testing.T, src string) (value.Value, *Bridge) {
	t.Helper()
	heap := gc.New()
	b := New(heap)
	builder := ast.NewBuilder("lumen.core", heap)
	forms, localCount, err := builder.BuildProgram(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	chunk, _, err := compiler.CompileProgram(forms)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	chunk.LocalCount = localCount
	result, err := b.VM.Run(chunk)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return result, b
}

func TestArithmeticTestableProperties(t *testing.T) {
	cases := []struct {
		src      string
		wantInt  int64
		wantKind value.Kind
	}{
		{"(+ 1 2)", 3, value.KindInteger},
		{"(+)", 0, value.KindInteger},
		{"(*)", 1, value.KindInteger},
		{"(- 5)", -5, value.KindInteger},
	}
	for _, c := range cases {
		result, _ := runSrc(t, c.src)
		if result.Kind() != c.wantKind || result.AsInteger() != c.wantInt {
			t.Errorf("%s = %v, want %d (%v)", c.src, result, c.wantInt, c.wantKind)
		}
	}

	result, _ := runSrc(t, "(+ 1.0 2)")
	if result.Kind() != value.KindFloat || result.AsFloat() != 3.0 {
		t.Errorf("(+ 1.0 2) = %v, want float 3.0", result)
	}
}

func TestSubtractWithNoArgumentsIsArityError(t *testing.T) {
	heap := gc.New()
	b := New(heap)
	builder := ast.NewBuilder("lumen.core", heap)
	forms, localCount, err := builder.BuildProgram("(-)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chunk, _, err := compiler.CompileProgram(forms)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	chunk.LocalCount = localCount
	if _, err := b.VM.Run(chunk); err == nil {
		t.Fatalf("(-) should fail to run, a 0-arg subtraction is an arity error")
	}
}

func TestDivideByZeroIsCatchableAndExMessageDescribesIt(t *testing.T) {
	heap := gc.New()
	b := New(heap)
	builder := ast.NewBuilder("lumen.core", heap)
	forms, localCount, err := builder.BuildProgram(`
		(try
			(/ 1 0)
			(catch error e (ex-message e)))
	`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chunk, _, err := compiler.CompileProgram(forms)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	chunk.LocalCount = localCount
	result, err := b.VM.Run(chunk)
	if err != nil {
		t.Fatalf("divide-by-zero should be caught by (catch error ...), not escape the try: %v", err)
	}
	s, ok := heap.Resolve(result).(*value.StringObj)
	if !ok {
		t.Fatalf("ex-message result = %v, want a string", result)
	}
	if string(s.Bytes) != "Divide by zero" {
		t.Errorf("ex-message = %q, want \"Divide by zero\"", string(s.Bytes))
	}
}

func TestLoopRecurSumsOneMillionIntegers(t *testing.T) {
	result, _ := runSrc(t, `
		(loop* (i 0 acc 0)
			(if (= i 1000000)
				acc
				(recur (inc i) (+ acc i))))
	`)
	const want = 999999 * 1000000 / 2
	if result.AsInteger() != want {
		t.Errorf("loop/recur sum 0..999999 = %d, want %d", result.AsInteger(), want)
	}
}

func TestSelfRecursiveVarFnDoesNotOverflowAtModerateDepth(t *testing.T) {
	result, _ := runSrc(t, `
		(def countdown (fn* (n) (if (= n 0) 7 (countdown (- n 1)))))
		(countdown 100000)
	`)
	if result.AsInteger() != 7 {
		t.Errorf("countdown(100000) = %d, want 7", result.AsInteger())
	}
}

func TestTryFinallyRunsOnNormalAndExceptionalExit(t *testing.T) {
	heap := gc.New()
	b := New(heap)

	// (do (def log (atom [])) (try (swap! log conj 1) (finally (swap! log conj 2))) log)
	program := `
		(def log (atom (vector)))
		(try
			(swap! log conj 1)
			(finally (swap! log conj 2)))
	`
	builder := ast.NewBuilder("lumen.core", heap)
	forms, localCount, err := builder.BuildProgram(program)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chunk, _, err := compiler.CompileProgram(forms)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	chunk.LocalCount = localCount
	if _, err := b.VM.Run(chunk); err != nil {
		t.Fatalf("run: %v", err)
	}
	logVal, err := b.RT.LoadVar("lumen.core", "log")
	if err != nil {
		t.Fatalf("load log: %v", err)
	}
	derefed, err := b.deref(logVal)
	if err != nil {
		t.Fatalf("deref log: %v", err)
	}
	vec, ok := heap.Resolve(derefed).(*value.VectorObj)
	if !ok || len(vec.Items) != 2 || vec.Items[0].AsInteger() != 1 || vec.Items[1].AsInteger() != 2 {
		t.Errorf("log after try/finally = %v, want [1 2] (body ran, then finally ran)", derefed)
	}

	// Now the exceptional path: the finally must still run even though the
	// body throws, and the throw must still propagate past the try.
	b2 := New(gc.New())
	forms2, localCount2, err := ast.NewBuilder("lumen.core", b2.Heap).BuildProgram(`
		(def log (atom (vector)))
		(try
			(do (swap! log conj 1) (throw (ex-info "boom" nil)))
			(finally (swap! log conj 2)))
	`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chunk2, _, err := compiler.CompileProgram(forms2)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	chunk2.LocalCount = localCount2
	if _, err := b2.VM.Run(chunk2); err == nil {
		t.Fatalf("uncaught throw inside try should still fail the run")
	}
	logVal2, err := b2.RT.LoadVar("lumen.core", "log")
	if err != nil {
		t.Fatalf("load log: %v", err)
	}
	derefed2, err := b2.deref(logVal2)
	if err != nil {
		t.Fatalf("deref log: %v", err)
	}
	vec2, ok := b2.Heap.Resolve(derefed2).(*value.VectorObj)
	if !ok || len(vec2.Items) != 2 || vec2.Items[0].AsInteger() != 1 || vec2.Items[1].AsInteger() != 2 {
		t.Errorf("log after a throwing try/finally = %v, want [1 2] (finally still ran before the throw propagated)", derefed2)
	}
}

func TestFusedLazySeqReduceOverInfiniteRange(t *testing.T) {
	result, b := runSrc(t, `
		(def double (fn* (x) (* x 2)))
		(reduce + 0 (take 1000 (filter even? (map double (range)))))
	`)
	const want = 2 * (1000 * 999 / 2)
	if result.AsInteger() != want {
		t.Errorf("fused reduce/take/filter/map/range = %d, want %d", result.AsInteger(), want)
	}
	if stats := b.Heap.Stats(); stats.ObjectCount > 20000 {
		t.Errorf("heap holds %d live objects after a take-1000 pull from an infinite range", stats.ObjectCount)
	}
}

// TestMultimethodDispatchesOnValueAndInvalidatesCacheOnNewMethod hand-builds
// defmulti/defmethod nodes the reader can't parse (no keyword/dispatch-form
// syntax), since LoadTopLevel — not the compiler or reader — is what
// interprets them.
func TestMultimethodDispatchesOnValueAndInvalidatesCacheOnNewMethod(t *testing.T) {
	heap := gc.New()
	b := New(heap)

	identityDispatch := &ast.FnNode{
		Name: "dispatch",
		Arities: []ast.FnArity{{
			Params:     []string{"x"},
			LocalCount: 1,
			Body:       []ast.Node{&ast.LocalRefNode{Name: "x", Slot: 0}},
		}},
	}
	if _, err := b.LoadTopLevel(&ast.DefMultiNode{Namespace: "user", Name: "greeting", DispatchFn: identityDispatch}); err != nil {
		t.Fatalf("defmulti: %v", err)
	}

	methodReturning := func(name string, s string) *ast.FnNode {
		return &ast.FnNode{
			Name: name,
			Arities: []ast.FnArity{{
				Params:     []string{"x"},
				LocalCount: 1,
				Body:       []ast.Node{&ast.ConstNode{Value: heap.NewString(s)}},
			}},
		}
	}
	if _, err := b.LoadTopLevel(&ast.DefMethodNode{
		MultiNamespace: "user", MultiName: "greeting",
		DispatchVal: &ast.ConstNode{Value: value.InitInteger(1)},
		Fn:          methodReturning("one", "one"),
	}); err != nil {
		t.Fatalf("defmethod 1: %v", err)
	}
	if _, err := b.LoadTopLevel(&ast.DefMethodNode{
		MultiNamespace: "user", MultiName: "greeting",
		DispatchVal: &ast.ConstNode{Value: value.InitInteger(2)},
		Fn:          methodReturning("two", "two"),
	}); err != nil {
		t.Fatalf("defmethod 2: %v", err)
	}

	invoke := func(n int64) value.Value {
		t.Helper()
		call := &ast.InvokeNode{
			Fn:   &ast.VarRefNode{Namespace: "user", Name: "greeting"},
			Args: []ast.Node{&ast.ConstNode{Value: value.InitInteger(n)}},
		}
		result, err := b.Eval.EvalProgram([]ast.Node{call})
		if err != nil {
			t.Fatalf("invoke greeting(%d): %v", n, err)
		}
		return result
	}

	check := func(n int64, want string) {
		t.Helper()
		result := invoke(n)
		s, ok := heap.Resolve(result).(*value.StringObj)
		if !ok || string(s.Bytes) != want {
			t.Errorf("greeting(%d) = %v, want %q", n, result, want)
		}
	}
	check(1, "one")
	check(2, "two")

	// Installing a new method for a dispatch value already resolved once
	// must invalidate the cache so the next call sees it, not a stale hit.
	if _, err := b.LoadTopLevel(&ast.DefMethodNode{
		MultiNamespace: "user", MultiName: "greeting",
		DispatchVal: &ast.ConstNode{Value: value.InitInteger(1)},
		Fn:          methodReturning("one-again", "ONE"),
	}); err != nil {
		t.Fatalf("redefmethod 1: %v", err)
	}
	check(1, "ONE")
	check(2, "two")
}

// TestProtocolDispatchResolvesByRuntimeType hand-builds defprotocol/
// extend-type nodes for the same reader-syntax-gap reason as the
// multimethod test above, extending a protocol for strings and proving
// dispatch reaches the count builtin fix made for exactly this case.
func TestProtocolDispatchResolvesByRuntimeType(t *testing.T) {
	heap := gc.New()
	b := New(heap)

	if _, err := b.LoadTopLevel(&ast.DefProtocolNode{
		Namespace: "user",
		Name:      "Describable",
		Methods:   []ast.ProtocolMethodSig{{Name: "describe", Arity: 1}},
	}); err != nil {
		t.Fatalf("defprotocol: %v", err)
	}

	describeFn := &ast.FnNode{
		Name: "describe",
		Arities: []ast.FnArity{{
			Params:     []string{"s"},
			LocalCount: 1,
			Body: []ast.Node{&ast.InvokeNode{
				Fn:   &ast.VarRefNode{Namespace: "lumen.core", Name: "count"},
				Args: []ast.Node{&ast.LocalRefNode{Name: "s", Slot: 0}},
			}},
		}},
	}
	if _, err := b.LoadTopLevel(&ast.ExtendTypeNode{
		TypeKey:     "*value.StringObj",
		ProtocolNS:  "user",
		ProtocolSym: "Describable",
		Methods:     []*ast.FnNode{describeFn},
	}); err != nil {
		t.Fatalf("extend-type: %v", err)
	}

	call := &ast.InvokeNode{
		Fn:   &ast.VarRefNode{Namespace: "user", Name: "describe"},
		Args: []ast.Node{&ast.ConstNode{Value: heap.NewString("hello")}},
	}
	result, err := b.Eval.EvalProgram([]ast.Node{call})
	if err != nil {
		t.Fatalf("invoke describe: %v", err)
	}
	if result.AsInteger() != 5 {
		t.Errorf("describe(\"hello\") = %d, want 5 (count of the string dispatched to the protocol method)", result.AsInteger())
	}
}

func TestFilterOverRangeSumsSurvivors(t *testing.T) {
	result, _ := runSrc(t, `
		(reduce + 0 (filter odd? (range 1 1000)))
	`)
	var want int64
	for i := int64(1); i < 1000; i++ {
		if i%2 != 0 {
			want += i
		}
	}
	if result.AsInteger() != want {
		t.Errorf("sum of odd numbers in [1,1000) = %d, want %d", result.AsInteger(), want)
	}
}
