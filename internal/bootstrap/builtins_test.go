package bootstrap

import (
	"math/big"
	"testing"

	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

func newTestRuntime() (*Runtime, *gc.Heap) {
	heap := gc.New()
	rt := NewRuntime(heap)
	rt.RegisterBuiltins(heap)
	rt.CallFn = func(fn value.Value, args []value.Value) (value.Value, error) {
		return rt.Builtins.Call(rt, fn, args)
	}
	return rt, heap
}

func callCore(t *testing.T, rt *Runtime, name string, args ...value.Value) (value.Value, error) {
	t.Helper()
	fn, err := rt.LoadVar("lumen.core", name)
	if err != nil {
		t.Fatalf("lumen.core/%s not registered: %v", name, err)
	}
	return rt.Builtins.Call(rt, fn, args)
}

func TestArithmeticIdentitiesAndArity(t *testing.T) {
	rt, _ := newTestRuntime()

	if v, err := callCore(t, rt, "+"); err != nil || v.AsInteger() != 0 {
		t.Fatalf("(+) = %v, %v; want 0, nil", v, err)
	}
	if v, err := callCore(t, rt, "*"); err != nil || v.AsInteger() != 1 {
		t.Fatalf("(*) = %v, %v; want 1, nil", v, err)
	}
	if _, err := callCore(t, rt, "-"); err == nil {
		t.Fatalf("(-) with no arguments should be an arity error")
	}
	if v, err := callCore(t, rt, "-", value.InitInteger(5)); err != nil || v.AsInteger() != -5 {
		t.Fatalf("(- 5) = %v, %v; want -5, nil", v, err)
	}
	if v, err := callCore(t, rt, "+", value.InitInteger(1), value.InitInteger(2)); err != nil || v.AsInteger() != 3 {
		t.Fatalf("(+ 1 2) = %v, %v; want 3, nil", v, err)
	}
	if v, err := callCore(t, rt, "+", value.InitFloat(1.0), value.InitInteger(2)); err != nil || v.Kind() != value.KindFloat || v.AsFloat() != 3.0 {
		t.Fatalf("(+ 1.0 2) = %v, %v; want 3.0 float, nil", v, err)
	}
}

func TestBitShiftLeftMasksShiftModulo64(t *testing.T) {
	rt, _ := newTestRuntime()
	v, err := callCore(t, rt, "bit-shift-left", value.InitInteger(1), value.InitInteger(64))
	if err != nil {
		t.Fatalf("bit-shift-left errored: %v", err)
	}
	if v.AsInteger() != 1 {
		t.Errorf("(bit-shift-left 1 64) = %d, want 1 (shift masked modulo 64)", v.AsInteger())
	}
}

func TestExactMultiplyPromotesToBigIntOnOverflow(t *testing.T) {
	rt, heap := newTestRuntime()
	shifted, err := callCore(t, rt, "bit-shift-left", value.InitInteger(1), value.InitInteger(40))
	if err != nil {
		t.Fatalf("bit-shift-left errored: %v", err)
	}
	product, err := callCore(t, rt, "*'", shifted, shifted)
	if err != nil {
		t.Fatalf("*' errored: %v", err)
	}
	bi, ok := heap.Resolve(product).(*value.BigIntObj)
	if !ok {
		t.Fatalf("*' of two 1<<40 operands did not promote to BigIntObj, got %T", heap.Resolve(product))
	}
	want := new(big.Int).Mul(big.NewInt(1<<40), big.NewInt(1<<40))
	if got := bigIntToBig(bi); got.Cmp(want) != 0 {
		t.Errorf("*' (1<<40) (1<<40) = %s, want %s", got.String(), want.String())
	}
}

// bigIntToBig reconstructs the decimal value of a BigIntObj from its
// exported little-endian limbs, mirroring bigint.go's own limb order, so
// the test can assert on the numeric value without reaching into
// unexported internals.
func bigIntToBig(b *value.BigIntObj) *big.Int {
	n := new(big.Int)
	base := big.NewInt(1 << 32)
	for i := len(b.Limbs) - 1; i >= 0; i-- {
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(b.Limbs[i])))
	}
	if b.Negative {
		n.Neg(n)
	}
	return n
}

func TestExInfoExDataExMessageRoundTrip(t *testing.T) {
	rt, heap := newTestRuntime()
	data := heap.NewMap([]value.Value{heap.NewString(":k")}, []value.Value{value.InitInteger(1)})
	ex, err := callCore(t, rt, "ex-info", heap.NewString("e"), data)
	if err != nil {
		t.Fatalf("ex-info errored: %v", err)
	}
	msg, err := callCore(t, rt, "ex-message", ex)
	if err != nil {
		t.Fatalf("ex-message errored: %v", err)
	}
	if s, ok := heap.Resolve(msg).(*value.StringObj); !ok || string(s.Bytes) != "e" {
		t.Errorf("ex-message = %v, want \"e\"", msg)
	}
	got, err := callCore(t, rt, "ex-data", ex)
	if err != nil {
		t.Fatalf("ex-data errored: %v", err)
	}
	if !value.Equals(heap, got, data) {
		t.Errorf("ex-data = %v, want the map passed to ex-info", got)
	}
}

// TestReduceFusesRangeMapFilterTakeWithoutMaterializing exercises the
// Testable Property built around an infinite source: (reduce + 0 (take
// 1000 (filter even? (map double (range))))). double squares every
// element even, so every mapped element survives the filter and the
// first 1000 survivors are exactly 0, 2, 4, ..., 1998.
func TestReduceFusesRangeMapFilterTakeWithoutMaterializing(t *testing.T) {
	rt, heap := newTestRuntime()

	double := rt.Builtins.RegisterBuiltin("test-double", func(rt *Runtime, args []value.Value) (value.Value, error) {
		return value.InitInteger(args[0].AsInteger() * 2), nil
	})
	evenFn, err := rt.LoadVar("lumen.core", "even?")
	if err != nil {
		t.Fatalf("even? not registered: %v", err)
	}
	plus, err := rt.LoadVar("lumen.core", "+")
	if err != nil {
		t.Fatalf("+ not registered: %v", err)
	}

	rangeColl, err := callCore(t, rt, "range")
	if err != nil {
		t.Fatalf("range errored: %v", err)
	}
	mapped := chainStep(heap, rangeColl, value.ChainStep{Op: value.ChainMap, Kind: double})
	filtered := chainStep(heap, mapped, value.ChainStep{Op: value.ChainFilter, Kind: evenFn})
	taken := chainStep(heap, filtered, value.ChainStep{Op: value.ChainTake, Kind: value.InitInteger(1000)})

	result, err := reduceValue(rt, heap, plus, value.InitInteger(0), taken)
	if err != nil {
		t.Fatalf("reduce errored: %v", err)
	}
	const want = 2 * (1000 * 999 / 2) // sum_{i=0}^{999} 2*i
	if result.AsInteger() != want {
		t.Errorf("reduce over fused range/map/filter/take = %d, want %d", result.AsInteger(), want)
	}

	if stats := heap.Stats(); stats.ObjectCount > 20000 {
		t.Errorf("heap holds %d live objects after a take-1000 pull from an infinite range; "+
			"the chain is materializing far more than the 1000 requested elements", stats.ObjectCount)
	}
}
