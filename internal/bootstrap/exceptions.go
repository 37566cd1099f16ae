package bootstrap

import (
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

// exceptionTypeKeyword is the keyword key every exception map carries, the
// way ex-info attaches a "type" (the hierarchy-aware matcher of catch
// clauses) alongside :message/:data.
const exceptionTypeKeyword = ":lumen/ex-type"
const exceptionMessageKeyword = ":lumen/ex-message"

// ExceptionMachinery builds the parts of vm.Host/eval.Host concerned with
// raising and classifying thrown values: ex-info-shaped maps with a
// :lumen/ex-type key, and an isa?-based subtype check against a small
// built-in hierarchy (Throwable at the root, :error as the default leaf).
type ExceptionMachinery struct {
	heap      *gc.Heap
	hierarchy *Hierarchy
}

// NewExceptionMachinery wires a fresh machinery instance to heap, seeding
// the default Throwable/error ancestry used when user code throws a bare
// string or doesn't extend the hierarchy itself.
func NewExceptionMachinery(heap *gc.Heap) *ExceptionMachinery {
	h := NewHierarchy()
	h.Derive("error", "Throwable")
	h.Derive("arity-error", "error")
	h.Derive("illegal-state", "error")
	h.Derive("io-error", "error")
	return &ExceptionMachinery{heap: heap, hierarchy: h}
}

// NewExceptionValue implements vm.Host/eval.Host: it builds an ex-info-like
// map {:lumen/ex-type "error" :lumen/ex-message message} so every thrown
// value, whether raised by a (throw ...) form or synthesized internally by
// the VM/evaluator (div-by-zero, unbound var, arity mismatch), has the same
// shape catch clauses can inspect.
func (m *ExceptionMachinery) NewExceptionValue(message string) value.Value {
	return m.heap.NewMap(
		[]value.Value{m.heap.NewString(exceptionTypeKeyword), m.heap.NewString(exceptionMessageKeyword)},
		[]value.Value{m.heap.NewString("error"), m.heap.NewString(message)},
	)
}

// NewTypedExceptionValue builds an exception value under a specific type
// key (ex-info's (ex-info msg {:type ::my-error}) shape), for builtins
// that raise a more specific condition than the default "error" leaf.
func (m *ExceptionMachinery) NewTypedExceptionValue(typeKey, message string, data value.Value) value.Value {
	keys := []value.Value{
		m.heap.NewString(exceptionTypeKeyword),
		m.heap.NewString(exceptionMessageKeyword),
		m.heap.NewString(":lumen/ex-data"),
	}
	vals := []value.Value{m.heap.NewString(typeKey), m.heap.NewString(message), data}
	return m.heap.NewMap(keys, vals)
}

// ExceptionTypeKey implements vm.Host/eval.Host: it extracts the thrown
// value's classification key for catch-clause matching. Non-map thrown
// values (a thrown string, keyword, or number) are classified under
// "error" directly, mirroring how a bare (throw "boom") still catches
// under (catch error e ...).
func (m *ExceptionMachinery) ExceptionTypeKey(v value.Value) string {
	obj := m.heap.Resolve(v)
	mapObj, ok := obj.(*value.MapObj)
	if !ok {
		return "error"
	}
	for i, k := range mapObj.Keys {
		ks := m.heap.Resolve(k)
		if s, ok := ks.(*value.StringObj); ok && string(s.Bytes) == exceptionTypeKeyword {
			vs := m.heap.Resolve(mapObj.Vals[i])
			if str, ok := vs.(*value.StringObj); ok {
				return string(str.Bytes)
			}
		}
	}
	return "error"
}

// IsSubtype implements vm.Host/eval.Host against the built-in hierarchy,
// generalized by user derive calls (see Hierarchy.Derive). Every key is
// its own subtype, matching isa?'s reflexive base case.
func (m *ExceptionMachinery) IsSubtype(typeKey, ancestorKey string) bool {
	if typeKey == ancestorKey || ancestorKey == "Throwable" {
		return typeKey != "" // Throwable is the universal catch-all, like catch-all Exception
	}
	return m.hierarchy.IsA(typeKey, ancestorKey)
}

// Hierarchy implements Lumen's derive/isa? global type ancestry: a simple
// multi-parent DAG over string tags, queried by breadth-first walk since
// the graph stays small (tens, not thousands, of entries) and rebuilds are
// rare (derive/underive), unlike the per-call dispatch hot path.
type Hierarchy struct {
	parents map[string]map[string]bool
}

// NewHierarchy returns an empty ancestry graph.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{parents: make(map[string]map[string]bool)}
}

// Derive records that child is-a parent (derive tag parent-tag).
func (h *Hierarchy) Derive(child, parent string) {
	if h.parents[child] == nil {
		h.parents[child] = make(map[string]bool)
	}
	h.parents[child][parent] = true
}

// Underive removes a previously derived relationship.
func (h *Hierarchy) Underive(child, parent string) {
	if h.parents[child] != nil {
		delete(h.parents[child], parent)
	}
}

// IsA answers whether child descends from ancestor, reflexive and
// transitive across multiple inheritance.
func (h *Hierarchy) IsA(child, ancestor string) bool {
	if child == ancestor {
		return true
	}
	seen := map[string]bool{child: true}
	queue := []string{child}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for parent := range h.parents[cur] {
			if parent == ancestor {
				return true
			}
			if !seen[parent] {
				seen[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return false
}
