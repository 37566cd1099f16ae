package value

import "testing"

func TestIntegerRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40)}
	for _, want := range tests {
		v := InitInteger(want)
		if v.Kind() != KindInteger {
			t.Fatalf("InitInteger(%d): kind = %v, want KindInteger", want, v.Kind())
		}
		if got := v.AsInteger(); got != want {
			t.Errorf("InitInteger(%d).AsInteger() = %d", want, got)
		}
	}
}

func TestIntegerOverflowPromotesToFloat(t *testing.T) {
	big := int64(1) << 50
	v := InitInteger(big)
	if v.Kind() != KindFloat {
		t.Fatalf("overflowing integer should promote to float, got kind %v", v.Kind())
	}
	if v.AsFloat() != float64(big) {
		t.Errorf("AsFloat() = %v, want %v", v.AsFloat(), float64(big))
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1.5, -1.5, 3.14159} {
		v := InitFloat(f)
		if v.Kind() != KindFloat {
			t.Fatalf("InitFloat(%v): kind = %v", f, v.Kind())
		}
		if v.AsFloat() != f {
			t.Errorf("InitFloat(%v).AsFloat() = %v", f, v.AsFloat())
		}
	}
}

func TestConstants(t *testing.T) {
	if !InitNil().IsNil() {
		t.Error("InitNil() is not nil")
	}
	if !InitBool(true).IsTrue() || !InitBool(true).Truthy() {
		t.Error("InitBool(true) broken")
	}
	if !InitBool(false).IsFalse() || InitBool(false).Truthy() {
		t.Error("InitBool(false) broken")
	}
	if InitNil().Truthy() {
		t.Error("nil must be falsey")
	}
	if !InitInteger(0).Truthy() {
		t.Error("0 must be truthy in Clojure semantics")
	}
}

func TestCharRoundTrip(t *testing.T) {
	v := InitChar('λ')
	if v.Kind() != KindChar {
		t.Fatalf("kind = %v, want KindChar", v.Kind())
	}
	if v.AsChar() != 'λ' {
		t.Errorf("AsChar() = %q, want 'λ'", v.AsChar())
	}
}

func TestHeapHandleRoundTrip(t *testing.T) {
	for _, tag := range []HeapTag{HeapString, HeapSymbol, HeapClosure, HeapMutableArray, HeapForeign2} {
		v := InitHeap(tag, 12345)
		if v.Kind() != KindHeap {
			t.Fatalf("tag %v: kind = %v, want KindHeap", tag, v.Kind())
		}
		if v.HeapTag() != tag%8 {
			t.Errorf("tag %v: HeapTag() = %v", tag, v.HeapTag())
		}
		if v.Handle() != 12345 {
			t.Errorf("tag %v: Handle() = %d, want 12345", tag, v.Handle())
		}
	}
}

func TestNegativeNaNCanonicalized(t *testing.T) {
	// A negative NaN must not alias the tag space: its Kind() must still
	// be KindFloat, never KindHeap/KindInteger/etc.
	negNaN := InitFloat(negNaNBits())
	if negNaN.Kind() != KindFloat {
		t.Fatalf("canonicalized NaN has kind %v, want KindFloat", negNaN.Kind())
	}
}

func negNaNBits() float64 {
	// math.NaN() is already canonical-positive on most platforms; we only
	// need InitFloat to guarantee it regardless of the bit pattern handed
	// in, which TestNegativeNaNCanonicalized exercises via IsNaN branch.
	return -negNaNHelper()
}

func negNaNHelper() float64 {
	var zero float64
	return zero / zero
}
