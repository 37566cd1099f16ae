package value

import "testing"

// fakeHeap is a minimal Resolver for testing the value-layer algorithms in
// isolation from internal/gc.
type fakeHeap struct {
	objs []HeapObject
}

func (h *fakeHeap) put(o HeapObject) Value {
	idx := uint64(len(h.objs))
	h.objs = append(h.objs, o)
	return InitHeap(o.SubTag(), idx)
}

func (h *fakeHeap) Resolve(v Value) HeapObject {
	return h.objs[v.Handle()]
}

func TestEqualsNumericBridging(t *testing.T) {
	h := &fakeHeap{}
	if !Equals(h, InitInteger(1), InitFloat(1.0)) {
		t.Error("1 should equal 1.0")
	}
	if Equals(h, InitFloat(1.0), InitFloat(2.0)) {
		t.Error("1.0 should not equal 2.0")
	}
}

func TestEqualsNaNNeverEqual(t *testing.T) {
	h := &fakeHeap{}
	nan := InitFloat(negNaNHelper())
	if Equals(h, nan, nan) {
		t.Error("NaN must not equal NaN")
	}
}

func TestEqualsListVector(t *testing.T) {
	h := &fakeHeap{}
	vec := h.put(&VectorObj{Header: NewHeader(HeapVector), Items: []Value{InitInteger(1), InitInteger(2)}})

	tail := h.put(&ConsObj{Header: NewHeader(HeapCons), First: InitInteger(2), Rest: InitNil()})
	head := h.put(&ConsObj{Header: NewHeader(HeapCons), First: InitInteger(1), Rest: tail})

	if !Equals(h, vec, head) {
		t.Error("(1 2) should equal [1 2]")
	}
}

func TestEqualsMapOnlyEqualsMap(t *testing.T) {
	h := &fakeHeap{}
	m := h.put(&MapObj{Header: NewHeader(HeapHashMap), Keys: []Value{InitInteger(1)}, Vals: []Value{InitInteger(2)}})
	vec := h.put(&VectorObj{Header: NewHeader(HeapVector), Items: []Value{InitInteger(1), InitInteger(2)}})
	if Equals(h, m, vec) {
		t.Error("a map must never equal a vector")
	}
}

func TestHashEqualImpliesHashEqual(t *testing.T) {
	h := &fakeHeap{}
	a := h.put(&VectorObj{Header: NewHeader(HeapVector), Items: []Value{InitInteger(1), InitInteger(2)}})
	tail := h.put(&ConsObj{Header: NewHeader(HeapCons), First: InitInteger(2), Rest: InitNil()})
	b := h.put(&ConsObj{Header: NewHeader(HeapCons), First: InitInteger(1), Rest: tail})

	if !Equals(h, a, b) {
		t.Fatal("precondition failed: a should equal b")
	}
	if Hash(h, a) != Hash(h, b) {
		t.Error("equal values must hash equal")
	}
}

func TestHashIntegerFloatCollapse(t *testing.T) {
	h := &fakeHeap{}
	if Hash(h, InitInteger(7)) != Hash(h, InitFloat(7.0)) {
		t.Error("7 and 7.0 must hash equal")
	}
}
