package value

// Resolver lets the equality/hash/print algorithms reach the concrete
// HeapObject behind a heap-pointer Value without internal/value owning the
// heap's object table itself (that's internal/gc's job).
type Resolver interface {
	Resolve(v Value) HeapObject
}

// Equals implements the equality law: bit-identical values are
// equal (covers ints, floats-by-bits, nil, booleans, chars, builtins, and
// pointer-interned heap objects); numeric equality bridges integer and
// float; collections of different concrete kinds may still be equal if
// their element sequences are (list vs vector), but maps only equal maps
// and sets only equal sets. NaN is never equal to NaN.
func Equals(r Resolver, a, b Value) bool {
	if a == b {
		// Bit-identical. Still must reject NaN==NaN.
		if a.Kind() == KindFloat {
			f := a.AsFloat()
			return f == f // false for NaN
		}
		return true
	}

	ak, bk := a.Kind(), b.Kind()

	// Numeric bridging: integer compares equal to float with the same
	// mathematical value.
	if isNumeric(ak) && isNumeric(bk) {
		af, aok := numericFloat(a)
		bf, bok := numericFloat(b)
		if aok && bok {
			return af == bf
		}
	}

	if ak != KindHeap || bk != KindHeap {
		return false
	}

	ao, bo := r.Resolve(a), r.Resolve(b)
	if ao == nil || bo == nil {
		return false
	}
	return heapEquals(r, ao, bo)
}

func isNumeric(k Kind) bool { return k == KindFloat || k == KindInteger }

func numericFloat(v Value) (float64, bool) {
	switch v.Kind() {
	case KindFloat:
		return v.AsFloat(), true
	case KindInteger:
		return float64(v.AsInteger()), true
	default:
		return 0, false
	}
}

// orderedSeq reports whether tag participates in the "ordered sequence"
// equality family (list, vector, lazy-seq, cons chains) where cross-kind
// equality is permitted.
func orderedSeq(t HeapTag) bool {
	switch t {
	case HeapCons, HeapVector, HeapLazySeq, HeapChunkedCons, HeapArrayChunk:
		return true
	default:
		return false
	}
}

func heapEquals(r Resolver, a, b HeapObject) bool {
	at, bt := a.SubTag(), b.SubTag()

	switch {
	case at == HeapString && bt == HeapString:
		return string(a.(*StringObj).Bytes) == string(b.(*StringObj).Bytes)
	case at == HeapSymbol && bt == HeapSymbol:
		return a == b // interned: pointer identity
	case at == HeapKeyword && bt == HeapKeyword:
		return a == b
	case at == HeapHashMap && bt == HeapHashMap, at == HeapArrayMap && bt == HeapArrayMap,
		at == HeapHashMap && bt == HeapArrayMap, at == HeapArrayMap && bt == HeapHashMap:
		return mapEquals(r, asMap(a), asMap(b))
	case at == HeapHashSet && bt == HeapHashSet:
		return setEquals(r, a.(*SetObj), b.(*SetObj))
	case orderedSeq(at) && orderedSeq(bt):
		return seqEquals(r, a, b)
	case at == HeapReduced && bt == HeapReduced:
		return Equals(r, a.(*ReducedObj).Val, b.(*ReducedObj).Val)
	case at == HeapAtom && bt == HeapAtom, at == HeapVolatile && bt == HeapVolatile:
		return a == b // reference identity for mutable cells
	default:
		return false
	}
}

func asMap(o HeapObject) *MapObj {
	return o.(*MapObj)
}

func mapEquals(r Resolver, a, b *MapObj) bool {
	if len(a.Keys) != len(b.Keys) {
		return false
	}
	for i, k := range a.Keys {
		idx := indexOfKey(r, b, k)
		if idx < 0 || !Equals(r, a.Vals[i], b.Vals[idx]) {
			return false
		}
	}
	return true
}

func indexOfKey(r Resolver, m *MapObj, k Value) int {
	for i, mk := range m.Keys {
		if Equals(r, mk, k) {
			return i
		}
	}
	return -1
}

func setEquals(r Resolver, a, b *SetObj) bool {
	if len(a.Items) != len(b.Items) {
		return false
	}
	for _, item := range a.Items {
		if !setContains(r, b, item) {
			return false
		}
	}
	return true
}

func setContains(r Resolver, s *SetObj, v Value) bool {
	for _, item := range s.Items {
		if Equals(r, item, v) {
			return true
		}
	}
	return false
}

// seqEquals compares two ordered sequences (list/vector/lazy-seq, possibly
// mixed) element by element. Lazy sequences are not forced: only an
// already-realized lazy seq contributes elements (see Seq).
func seqEquals(r Resolver, a, b HeapObject) bool {
	as := Seq(r, a)
	bs := Seq(r, b)
	for {
		an, aok := as()
		bn, bok := bs()
		if aok != bok {
			return false
		}
		if !aok {
			return true
		}
		if !Equals(r, an, bn) {
			return false
		}
	}
}

// Seq returns a pull-style iterator over any ordered heap object's
// elements. A lazy seq is read through ForceLazySeq, which only returns an
// already-memoized realization; an unrealized lazy seq iterates as empty.
func Seq(r Resolver, o HeapObject) func() (Value, bool) {
	switch t := o.(type) {
	case *VectorObj:
		i := 0
		return func() (Value, bool) {
			if i >= len(t.Items) {
				return 0, false
			}
			v := t.Items[i]
			i++
			return v, true
		}
	case *ConsObj:
		cur := HeapObject(t)
		return func() (Value, bool) {
			c, ok := cur.(*ConsObj)
			if !ok {
				return 0, false
			}
			v := c.First
			rest := c.Rest
			if rest.Kind() == KindHeap && rest.HeapTag() == HeapCons {
				cur = r.Resolve(rest)
			} else {
				cur = nil
			}
			return v, true
		}
	case *LazySeqObj:
		forced := ForceLazySeq(r, t)
		if forced.IsNil() {
			return func() (Value, bool) { return 0, false }
		}
		return Seq(r, r.Resolve(forced))
	default:
		return func() (Value, bool) { return 0, false }
	}
}

// ForceLazySeq returns the realized head cons (or nil) for a lazy sequence
// if one is already memoized. Producing new elements from an unforced
// thunk or chain descriptor requires invoking Lumen closures, which pure
// value-layer code (equality/print) has no way to do; that production is
// internal/bootstrap's job (its sequence builtins drive pulling and call
// SetRealized below), so this only ever observes what's already there.
func ForceLazySeq(r Resolver, l *LazySeqObj) Value {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Realized
}

// SetRealized is called once a lazy sequence's thunk has been invoked, to
// memoize the result.
func (l *LazySeqObj) SetRealized(v Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Forced = true
	l.Realized = v
	l.Thunk = InitNil()
}

// Snapshot returns (Realized, true) if this lazy sequence has already been
// forced, else (_, false), without invoking anything — the safe way for
// external callers to peek at Forced/Realized past the unexported mutex.
func (l *LazySeqObj) Snapshot() (Value, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Forced {
		return l.Realized, true
	}
	return InitNil(), false
}
