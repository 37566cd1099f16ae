package value

import "math"

// Hash satisfies the contract that equal values hash equal. Integer and
// float hashes collapse numerically; collection hashes use stable mixing
// functions (ordered, set, map) so two equal collections hash identically
// regardless of concrete representation.
func Hash(r Resolver, v Value) uint64 {
	switch v.Kind() {
	case KindFloat:
		f := v.AsFloat()
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return hashInt64(int64(f))
		}
		return mix64(math.Float64bits(f))
	case KindInteger:
		return hashInt64(v.AsInteger())
	case KindConst:
		switch {
		case v.IsNil():
			return 0
		case v.IsTrue():
			return 1231
		default:
			return 1237
		}
	case KindChar:
		return mix64(uint64(v.AsChar()))
	case KindBuiltin:
		return mix64(v.AsBuiltin())
	default:
		return hashHeap(r, r.Resolve(v))
	}
}

func hashInt64(i int64) uint64 { return mix64(uint64(i)) }

// mix64 is a splitmix64-style finalizer: cheap, well-distributed, and
// stable across runs (unlike Go's map seed, which must not leak into
// observable hash values).
func mix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

func hashHeap(r Resolver, o HeapObject) uint64 {
	switch t := o.(type) {
	case *StringObj:
		return hashBytes(t.Bytes)
	case *SymbolObj:
		return hashBytes([]byte(t.Qualified())) ^ 0x51
	case *KeywordObj:
		return hashBytes([]byte(t.Qualified())) ^ 0x13
	case *MapObj:
		var acc uint64
		for i := range t.Keys {
			acc += Hash(r, t.Keys[i]) * 31 + Hash(r, t.Vals[i])
		}
		return mix64(acc) ^ 0xDEADBEEF
	case *SetObj:
		var acc uint64
		for _, item := range t.Items {
			acc += Hash(r, item)
		}
		return mix64(acc) ^ 0xC0FFEE
	case *VectorObj:
		return hashOrdered(r, Seq(r, t))
	case *ConsObj:
		return hashOrdered(r, Seq(r, t))
	case *LazySeqObj:
		return hashOrdered(r, Seq(r, t))
	default:
		return mix64(uint64(uintptr(0))) // identity-less fallback
	}
}

// hashOrdered mixes elements in sequence order so list/vector/lazy-seq
// agree when their element sequences agree.
func hashOrdered(r Resolver, next func() (Value, bool)) uint64 {
	h := uint64(1)
	for {
		v, ok := next()
		if !ok {
			break
		}
		h = h*31 + Hash(r, v)
	}
	return mix64(h) ^ 0x5EA5EA
}

func hashBytes(b []byte) uint64 {
	// FNV-1a.
	var h uint64 = 0xcbf29ce484222325
	for _, c := range b {
		h ^= uint64(c)
		h *= 0x100000001b3
	}
	return h
}
