// Package gc implements the collected heap: a stop-the-world, tri-color
// mark-sweep collector with typed free-pool recycling and safe-point
// coordination, serialized behind a single mutex.
//
// Go heap objects (internal/value.HeapObject implementations) are held in
// an object table indexed by "handle" — the 45-bit payload a NaN-boxed
// heap-pointer Value carries (internal/value.Value.Handle()). The handle
// stands in for "pointer >> 3": this implementation never takes the
// address of a Go object directly (that would fight Go's own runtime GC
// and require unsafe.Pointer arithmetic across collections), so "pointer"
// here means "slot index into this Heap's object table",
// which is always 8-aligned by construction — satisfying the encoding
// without touching unsafe memory.
package gc

import (
	"fmt"
	"sync"

	"github.com/lumen-lang/lumen/internal/value"
)

// RootFunc is registered by an infrastructure layer (Vars/namespaces, a VM,
// the tree-walk evaluator, the interned-keyword table, protocol/multimethod
// registries) so the collector can ask for that layer's live roots without
// importing it.
type RootFunc func() []value.Value

const numPools = 16

// pool is one intrusive free list, keyed by heap sub-tag bucket (an
// approximation of "(size, alignment)": every object of a given sub-tag is
// the same concrete Go struct, hence the same size and alignment).
type pool struct {
	free []value.HeapObject
}

const maxPoolEntries = 4096

// Heap is the collected heap: allocation tracking, root tracing, sweep,
// free-pool recycling, and safe-point coordination.
type Heap struct {
	mu sync.Mutex

	objects []value.HeapObject // index == handle; nil == free slot
	freeIdx []uint64           // recycled handles, any tag
	pools   [numPools]pool

	bytesAllocated uint64
	threshold      uint64
	maxBytes       uint64 // hard ceiling; 0 means unbounded

	roots []RootFunc

	// stats, surfaced for diagnostics/tests.
	Collections uint64
	LastFreed   int
	LastMarked  int
}

// DefaultInitialThreshold is the collector's starting adaptive threshold.
const DefaultInitialThreshold = 1 << 20

// New creates a Heap with the default initial threshold.
func New() *Heap {
	return &Heap{threshold: DefaultInitialThreshold}
}

// NewWithConfig creates a Heap with an explicit initial threshold and
// optional hard ceiling (0 = unbounded), as read from internal/config.
func NewWithConfig(initialThreshold, maxBytes uint64) *Heap {
	h := &Heap{threshold: initialThreshold, maxBytes: maxBytes}
	if h.threshold == 0 {
		h.threshold = DefaultInitialThreshold
	}
	return h
}

// RegisterRoot adds a root provider. Safe to call at any time; safe for
// concurrent use with Alloc/Collect.
func (h *Heap) RegisterRoot(fn RootFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append(h.roots, fn)
}

func poolIndex(t value.HeapTag) int { return int(t) % numPools }

// approxSize estimates the byte cost of an object of the given sub-tag, for
// the adaptive-threshold accounting. It does not need to be exact (the
// threshold only needs to be in the right ballpark to give amortized O(1)
// collection overhead); it deliberately avoids unsafe.Sizeof on each
// concrete type to keep the hot allocation path branch-free.
var approxSizes = [30]uint64{
	value.HeapString: 32, value.HeapSymbol: 48, value.HeapKeyword: 48,
	value.HeapCons: 32, value.HeapVector: 40, value.HeapArrayMap: 48,
	value.HeapHashMap: 48, value.HeapHashSet: 40, value.HeapClosure: 64,
	value.HeapAtom: 48, value.HeapVolatile: 24, value.HeapRegex: 32,
	value.HeapProtocol: 64, value.HeapProtocolMethod: 48, value.HeapMultimethod: 80,
	value.HeapLazySeq: 56, value.HeapVarRef: 32, value.HeapDelay: 40,
	value.HeapReduced: 24, value.HeapTransientVector: 48, value.HeapTransientMap: 56,
	value.HeapTransientSet: 48, value.HeapChunkedCons: 40, value.HeapArrayChunk: 40,
	value.HeapBigInt: 40, value.HeapRatio: 24, value.HeapMutableArray: 40,
}

func approxSize(t value.HeapTag) uint64 {
	if int(t) < len(approxSizes) && approxSizes[t] != 0 {
		return approxSizes[t]
	}
	return 32
}

// ErrOutOfMemory is returned by Alloc when the heap cannot satisfy a
// request even after a collection.
var ErrOutOfMemory = fmt.Errorf("gc: out of memory")

// Alloc allocates a new heap object of the given sub-tag, consulting the
// matching free-pool first and falling back to factory() otherwise.
// Exceeding the adaptive threshold does not collect here; that happens at
// the next SafePoint (or an explicit Collect). Only exceeding the maxBytes
// ceiling forces an immediate collection.
func (h *Heap) Alloc(tag value.HeapTag, factory func() value.HeapObject) (value.Value, value.HeapObject, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var obj value.HeapObject
	p := &h.pools[poolIndex(tag)]
	if n := len(p.free); n > 0 {
		obj = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		obj = factory()
	}

	h.bytesAllocated += approxSize(tag)
	if h.maxBytes != 0 && h.bytesAllocated > h.maxBytes {
		// Retry once via an immediate collection; never retried twice.
		h.collectLocked()
		if h.bytesAllocated > h.maxBytes {
			return 0, nil, ErrOutOfMemory
		}
	}

	var handle uint64
	if n := len(h.freeIdx); n > 0 {
		handle = h.freeIdx[n-1]
		h.freeIdx = h.freeIdx[:n-1]
		h.objects[handle] = obj
	} else {
		handle = uint64(len(h.objects))
		h.objects = append(h.objects, obj)
	}

	return value.InitHeap(tag, handle), obj, nil
}

// Resolve implements value.Resolver: it maps a heap-pointer Value back to
// its concrete HeapObject.
func (h *Heap) Resolve(v value.Value) value.HeapObject {
	if v.Kind() != value.KindHeap {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := v.Handle()
	if handle >= uint64(len(h.objects)) {
		return nil
	}
	return h.objects[handle]
}

// ShouldCollect reports whether bytes-allocated exceeds the current
// adaptive threshold.
func (h *Heap) ShouldCollect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shouldCollectLocked()
}

func (h *Heap) shouldCollectLocked() bool {
	return h.bytesAllocated > h.threshold
}

// SafePoint is the mutator's declaration that it is safe to collect now.
// The bytecode VM polls this every 256 instructions; it does not poll at
// call/return boundaries, and the tree-walk evaluator does not poll at all.
func (h *Heap) SafePoint() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shouldCollectLocked() {
		h.collectLocked()
	}
}

// Collect runs a full mark-sweep cycle unconditionally.
func (h *Heap) Collect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collectLocked()
}

func (h *Heap) collectLocked() {
	h.Collections++
	marked := h.markLocked()
	freed := h.sweepLocked()
	h.LastMarked, h.LastFreed = marked, freed

	// Adaptive threshold: if live bytes still exceed the threshold after
	// collecting, double it for amortized O(1) overhead.
	liveBytes := h.bytesAllocated
	if liveBytes > h.threshold {
		h.threshold *= 2
	}
}

// markLocked performs the mark phase: from every registered root and every
// permanently-rooted interned symbol/keyword, recursively mark reachable
// objects using an explicit worklist (not Go-stack recursion, so pipelines
// of deeply chained cons cells / lazy sequences cannot overflow the native
// stack — sieve-of-Eratosthenes property).
func (h *Heap) markLocked() int {
	var worklist []value.Value

	pushRoots := func(vals []value.Value) {
		worklist = append(worklist, vals...)
	}

	for _, fn := range h.roots {
		pushRoots(fn())
	}

	count := 0
	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if v.Kind() != value.KindHeap {
			continue
		}
		handle := v.Handle()
		if handle >= uint64(len(h.objects)) || h.objects[handle] == nil {
			continue
		}
		obj := h.objects[handle]
		hdr := headerOf(obj)
		if hdr == nil || hdr.Marked() {
			continue
		}
		hdr.SetMarked(true)
		count++
		obj.Trace(func(child value.Value) { worklist = append(worklist, child) })
	}

	// Permanent roots: interned symbols/keywords are marked unconditionally
	// even if nothing currently reachable references them.
	for _, o := range value.InternedRoots() {
		if hdr := headerOf(o); hdr != nil {
			hdr.SetMarked(true)
		}
	}

	return count
}

func headerOf(o value.HeapObject) *value.Header {
	if o == nil {
		return nil
	}
	return o.GCHeader()
}

// sweepLocked iterates all tracked allocations, frees every unmarked one
// (returning it to its pool when there's room, per the free-pool
// recycling rule), and clears marks on survivors for the next cycle.
func (h *Heap) sweepLocked() int {
	freed := 0
	var liveBytes uint64
	for i, obj := range h.objects {
		if obj == nil {
			continue
		}
		hdr := headerOf(obj)
		if hdr == nil {
			continue
		}
		if !hdr.Marked() {
			h.freeOne(obj, uint64(i))
			freed++
			continue
		}
		hdr.SetMarked(false)
		liveBytes += approxSize(obj.SubTag())
	}
	h.bytesAllocated = liveBytes
	return freed
}

func (h *Heap) freeOne(obj value.HeapObject, handle uint64) {
	tag := obj.SubTag()
	h.objects[handle] = nil
	h.freeIdx = append(h.freeIdx, handle)

	p := &h.pools[poolIndex(tag)]
	if len(p.free) < maxPoolEntries {
		p.free = append(p.free, obj)
	}
	// Otherwise the object is simply dropped; Go's own runtime GC will
	// reclaim the underlying memory since nothing in the object table
	// references it anymore.
}

// Trace walks from a single Value, visiting every heap object transitively
// reachable from it. Exported for embedding integrators
func (h *Heap) Trace(v value.Value, visit func(value.Value)) {
	seen := map[uint64]bool{}
	var walk func(value.Value)
	walk = func(v value.Value) {
		if v.Kind() != value.KindHeap {
			return
		}
		handle := v.Handle()
		if seen[handle] {
			return
		}
		seen[handle] = true
		visit(v)
		obj := h.Resolve(v)
		if obj != nil {
			obj.Trace(walk)
		}
	}
	walk(v)
}

// Stats reports the allocation/collection counters, for tests and the CLI's
// diagnostic output.
type Stats struct {
	BytesAllocated uint64
	Threshold      uint64
	Collections    uint64
	ObjectCount    int
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	live := 0
	for _, o := range h.objects {
		if o != nil {
			live++
		}
	}
	return Stats{
		BytesAllocated: h.bytesAllocated,
		Threshold:      h.threshold,
		Collections:    h.Collections,
		ObjectCount:    live,
	}
}
