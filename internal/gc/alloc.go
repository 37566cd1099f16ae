package gc

import "github.com/lumen-lang/lumen/internal/value"

// The helpers below are thin, typed wrappers over Heap.Alloc for every
// concrete HeapObject kind, so callers in internal/compiler, internal/vm,
// internal/eval, and internal/bridge never construct a raw handle by hand.

func (h *Heap) NewString(s string) value.Value {
	v, obj, _ := h.Alloc(value.HeapString, func() value.HeapObject { return &value.StringObj{} })
	so := obj.(*value.StringObj)
	so.Header = value.NewHeader(value.HeapString)
	so.Bytes = []byte(s)
	return v
}

func (h *Heap) NewCons(first, rest value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapCons, func() value.HeapObject { return &value.ConsObj{} })
	c := obj.(*value.ConsObj)
	c.Header = value.NewHeader(value.HeapCons)
	c.First, c.Rest = first, rest
	return v
}

func (h *Heap) NewVector(items []value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapVector, func() value.HeapObject { return &value.VectorObj{} })
	vec := obj.(*value.VectorObj)
	vec.Header = value.NewHeader(value.HeapVector)
	vec.Items = append([]value.Value(nil), items...)
	return v
}

func (h *Heap) NewMap(keys, vals []value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapHashMap, func() value.HeapObject { return &value.MapObj{} })
	m := obj.(*value.MapObj)
	m.Header = value.NewHeader(value.HeapHashMap)
	m.Keys = append([]value.Value(nil), keys...)
	m.Vals = append([]value.Value(nil), vals...)
	return v
}

func (h *Heap) NewSet(items []value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapHashSet, func() value.HeapObject { return &value.SetObj{} })
	s := obj.(*value.SetObj)
	s.Header = value.NewHeader(value.HeapHashSet)
	s.Items = append([]value.Value(nil), items...)
	return v
}

func (h *Heap) NewClosure(proto value.FnProto, captured []value.Value, ns string, treeWalk bool) value.Value {
	v, obj, _ := h.Alloc(value.HeapClosure, func() value.HeapObject { return &value.ClosureObj{} })
	c := obj.(*value.ClosureObj)
	c.Header = value.NewHeader(value.HeapClosure)
	c.Proto = proto
	c.Captured = append([]value.Value(nil), captured...)
	c.Namespace = ns
	c.IsTreeWalk = treeWalk
	c.Meta = value.InitNil()
	return v
}

func (h *Heap) NewAtom(initial value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapAtom, func() value.HeapObject { return &value.AtomObj{} })
	a := obj.(*value.AtomObj)
	a.Header = value.NewHeader(value.HeapAtom)
	a.Val = initial
	return v
}

func (h *Heap) NewVolatile(initial value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapVolatile, func() value.HeapObject { return &value.VolatileObj{} })
	vol := obj.(*value.VolatileObj)
	vol.Header = value.NewHeader(value.HeapVolatile)
	vol.Val = initial
	return v
}

func (h *Heap) NewReduced(inner value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapReduced, func() value.HeapObject { return &value.ReducedObj{} })
	r := obj.(*value.ReducedObj)
	r.Header = value.NewHeader(value.HeapReduced)
	r.Val = inner
	return v
}

func (h *Heap) NewLazySeq(thunk value.Value, chain *value.ChainDescriptor) value.Value {
	v, obj, _ := h.Alloc(value.HeapLazySeq, func() value.HeapObject { return &value.LazySeqObj{} })
	l := obj.(*value.LazySeqObj)
	l.Header = value.NewHeader(value.HeapLazySeq)
	l.Thunk = thunk
	l.Chain = chain
	l.Forced = false
	return v
}

func (h *Heap) NewVarRef(ns, name string) value.Value {
	v, obj, _ := h.Alloc(value.HeapVarRef, func() value.HeapObject { return &value.VarRefObj{} })
	r := obj.(*value.VarRefObj)
	r.Header = value.NewHeader(value.HeapVarRef)
	r.Namespace, r.Name = ns, name
	return v
}

func (h *Heap) NewDelay(thunk value.Value) value.Value {
	v, obj, _ := h.Alloc(value.HeapDelay, func() value.HeapObject { return &value.DelayObj{} })
	d := obj.(*value.DelayObj)
	d.Header = value.NewHeader(value.HeapDelay)
	d.Thunk = thunk
	return v
}

func (h *Heap) NewBigInt(b *value.BigIntObj) value.Value {
	v, obj, _ := h.Alloc(value.HeapBigInt, func() value.HeapObject { return &value.BigIntObj{} })
	dst := obj.(*value.BigIntObj)
	dst.Header = value.NewHeader(value.HeapBigInt)
	dst.Negative, dst.Limbs = b.Negative, b.Limbs
	return v
}
