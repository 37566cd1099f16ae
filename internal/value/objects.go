package value

import "sync"

// StringObj is an immutable UTF-8 byte sequence.
type StringObj struct {
	Header
	Bytes []byte
}

func NewStringObj(s string) *StringObj {
	return &StringObj{Header: NewHeader(HeapString), Bytes: []byte(s)}
}
func (s *StringObj) String() string      { return string(s.Bytes) }
func (s *StringObj) Trace(func(Value))   {}

// SymbolObj and KeywordObj are interned by structural identity
// (namespace + name); once interned, pointer equality is valid.
type SymbolObj struct {
	Header
	Namespace string
	Name      string
}

func (s *SymbolObj) Trace(func(Value)) {}
func (s *SymbolObj) Qualified() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "/" + s.Name
}

type KeywordObj struct {
	Header
	Namespace string
	Name      string
}

func (k *KeywordObj) Trace(func(Value)) {}
func (k *KeywordObj) Qualified() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "/" + k.Name
}

// internTable interns symbols/keywords by (namespace, name) so that eq by
// pointer holds for equal structural identities. Two tables exist (symbols,
// keywords); both are append-only within a bootstrap and are permanent GC
// roots.
type internTable struct {
	mu      sync.Mutex
	symbols map[string]*SymbolObj
	kws     map[string]*KeywordObj
}

var interns = &internTable{
	symbols: make(map[string]*SymbolObj),
	kws:     make(map[string]*KeywordObj),
}

func internKey(ns, name string) string { return ns + "/" + name }

// InternSymbol returns the unique SymbolObj for (ns, name), creating it on
// first use. Safe for concurrent use.
func InternSymbol(ns, name string) *SymbolObj {
	interns.mu.Lock()
	defer interns.mu.Unlock()
	key := internKey(ns, name)
	if s, ok := interns.symbols[key]; ok {
		return s
	}
	s := &SymbolObj{Header: NewHeader(HeapSymbol), Namespace: ns, Name: name}
	interns.symbols[key] = s
	return s
}

// InternKeyword returns the unique KeywordObj for (ns, name).
func InternKeyword(ns, name string) *KeywordObj {
	interns.mu.Lock()
	defer interns.mu.Unlock()
	key := internKey(ns, name)
	if k, ok := interns.kws[key]; ok {
		return k
	}
	k := &KeywordObj{Header: NewHeader(HeapKeyword), Namespace: ns, Name: name}
	interns.kws[key] = k
	return k
}

// InternedRoots returns every interned symbol and keyword, for the
// collector's permanent-root scan.
func InternedRoots() []HeapObject {
	interns.mu.Lock()
	defer interns.mu.Unlock()
	out := make([]HeapObject, 0, len(interns.symbols)+len(interns.kws))
	for _, s := range interns.symbols {
		out = append(out, s)
	}
	for _, k := range interns.kws {
		out = append(out, k)
	}
	return out
}

// ConsObj is a singly-linked list cell. There is no separate empty-list
// sentinel: a list ends at a Rest that is not a cons (normally nil).
type ConsObj struct {
	Header
	First Value
	Rest  Value // either another Cons, or nil at the end of the list
}

func (c *ConsObj) Trace(visit func(Value)) {
	visit(c.First)
	visit(c.Rest)
}

// VectorObj is a persistent vector, backed by a simple copy-on-write Go
// slice rather than a HAMT/RRB-tree: correct, if not asymptotically
// optimal, and keeps the collections layer opaque to the core.
type VectorObj struct {
	Header
	Items []Value
}

func (v *VectorObj) Trace(visit func(Value)) {
	for _, item := range v.Items {
		visit(item)
	}
}

// MapObj backs both array-map and hash-map sub-tags (the concrete
// representation is irrelevant to the core; only the sub-tag on the
// Header distinguishes them for dispatch that cares). Copy-on-write,
// same rationale as VectorObj.
type MapObj struct {
	Header
	Keys []Value
	Vals []Value
}

func (m *MapObj) Trace(visit func(Value)) {
	for i := range m.Keys {
		visit(m.Keys[i])
		visit(m.Vals[i])
	}
}

// SetObj is a persistent set, copy-on-write like MapObj.
type SetObj struct {
	Header
	Items []Value
}

func (s *SetObj) Trace(visit func(Value)) {
	for _, item := range s.Items {
		visit(item)
	}
}

// FnProto is the shared, immutable body-and-layout of a compiled function.
// Its concrete definition lives in internal/compiler (Chunk, arity spec,
// capture layout); it is referenced opaquely here via an interface so that
// internal/value does not depend on internal/compiler.
type FnProto interface {
	ProtoName() string
}

// ClosureObj pairs a function prototype with captured values, an optional
// defining-namespace identifier, and optional metadata. IsTreeWalk
// distinguishes bytecode closures from tree-walk closures.
type ClosureObj struct {
	Header
	Proto       FnProto
	Captured    []Value
	Namespace   string
	IsTreeWalk  bool
	Meta        Value
}

func (c *ClosureObj) Trace(visit func(Value)) {
	for _, v := range c.Captured {
		visit(v)
	}
	visit(c.Meta)
}

// AtomObj holds one value and a vector of watch functions.
type AtomObj struct {
	Header
	mu      sync.Mutex
	Val     Value
	Watches []Value
}

func (a *AtomObj) Trace(visit func(Value)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	visit(a.Val)
	for _, w := range a.Watches {
		visit(w)
	}
}

// Load returns the current value under lock.
func (a *AtomObj) Load() Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Val
}

// CAS performs a compare-and-swap; returns whether it succeeded.
func (a *AtomObj) CAS(old, new Value) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Val != old {
		return false
	}
	a.Val = new
	return true
}

// Store unconditionally sets the value (used by reset!).
func (a *AtomObj) Store(v Value) { a.mu.Lock(); a.Val = v; a.mu.Unlock() }

// VolatileObj holds one value with no watches and no CAS discipline.
type VolatileObj struct {
	Header
	Val Value
}

func (v *VolatileObj) Trace(visit func(Value)) { visit(v.Val) }

// ReducedObj is a one-field box used to early-terminate reduction; it must
// never be stored inside a collection.
type ReducedObj struct {
	Header
	Val Value
}

func (r *ReducedObj) Trace(visit func(Value)) { visit(r.Val) }

// ChainDescriptor records fused lazy-sequence transforms.
type ChainKind byte

const (
	ChainMap ChainKind = iota
	ChainFilter
	ChainTake
)

type ChainStep struct {
	Kind Value // closure (for map/filter) or integer count (for take)
	Op   ChainKind
}

type ChainDescriptor struct {
	Source Value // range/iterate/vector/another lazy-seq
	Steps  []ChainStep
}

// LazySeqObj carries a thunk closure plus an optional chain descriptor.
// Forcing is idempotent and memoizes onto Realized/Forced.
type LazySeqObj struct {
	Header
	mu       sync.Mutex
	Thunk    Value // a closure, or nil once forced
	Chain    *ChainDescriptor
	Forced   bool
	Realized Value
}

func (l *LazySeqObj) Trace(visit func(Value)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	visit(l.Thunk)
	visit(l.Realized)
	if l.Chain != nil {
		visit(l.Chain.Source)
		for _, s := range l.Chain.Steps {
			visit(s.Kind)
		}
	}
}

// VarRefObj names a Var indirectly by (namespace, name), used so closures
// and protocol methods avoid holding a direct infrastructure pointer that
// the GC would need to special-case.
type VarRefObj struct {
	Header
	Namespace string
	Name      string
}

func (v *VarRefObj) Trace(func(Value)) {}

// DelayObj wraps a thunk realized at most once.
type DelayObj struct {
	Header
	mu       sync.Mutex
	Thunk    Value
	Forced   bool
	Realized Value
}

func (d *DelayObj) Trace(visit func(Value)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	visit(d.Thunk)
	visit(d.Realized)
}

// TransientVectorObj/TransientMapObj/TransientSetObj are mutable,
// single-owner collections. OwnerGoroutine is a plain field: nothing in
// this module sets it or checks it, so mutation from another goroutine is
// not detected.
type TransientVectorObj struct {
	Header
	OwnerGoroutine uint64
	Items          []Value
}

func (t *TransientVectorObj) Trace(visit func(Value)) {
	for _, v := range t.Items {
		visit(v)
	}
}

type TransientMapObj struct {
	Header
	OwnerGoroutine uint64
	Keys           []Value
	Vals           []Value
}

func (t *TransientMapObj) Trace(visit func(Value)) {
	for i := range t.Keys {
		visit(t.Keys[i])
		visit(t.Vals[i])
	}
}

type TransientSetObj struct {
	Header
	OwnerGoroutine uint64
	Items          []Value
}

func (t *TransientSetObj) Trace(visit func(Value)) {
	for _, v := range t.Items {
		visit(v)
	}
}

// BigIntObj and RatioObj back integer overflow promotion: integers that
// overflow 48 bits are promoted to float, but for exact-arithmetic
// contexts (*') they promote to BigInt instead.
type BigIntObj struct {
	Header
	// Sign-magnitude, 32-bit limbs, least significant limb first; exact precision is not
	// performance-critical here (no JIT path touches BigInt).
	Negative bool
	Limbs    []uint32
}

func (b *BigIntObj) Trace(func(Value)) {}

type RatioObj struct {
	Header
	Num, Den int64
}

func (r *RatioObj) Trace(func(Value)) {}

// MutableArrayObj is a fixed-size, in-place mutable array (distinct from
// the persistent VectorObj), used by interop/array builtins.
type MutableArrayObj struct {
	Header
	Items []Value
}

func (m *MutableArrayObj) Trace(visit func(Value)) {
	for _, v := range m.Items {
		visit(v)
	}
}

// RegexObj wraps a compiled regular expression value; the concrete regex
// engine is a standard-library concern (regexp), not re-specified here.
type RegexObj struct {
	Header
	Pattern string
}

func (r *RegexObj) Trace(func(Value)) {}
