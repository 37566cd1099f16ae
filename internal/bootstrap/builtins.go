package bootstrap

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

// BuiltinFn is a native function: it receives its already-evaluated
// arguments and the heap/runtime it may allocate against, mirroring the
// compiler's intrinsics calling convention (args in, one Value or error
// out) rather than a variadic interface{} shim.
type BuiltinFn func(rt *Runtime, args []value.Value) (value.Value, error)

// BuiltinTable is the flat index->function table InitBuiltin's payload
// addresses; Runtime owns one instance and resolves every builtin call
// (a builtin reached by ordinary var lookup and OpCall, e.g. (map f coll))
// through it.
type BuiltinTable struct {
	fns   []BuiltinFn
	names []string
}

func newBuiltinTable() *BuiltinTable { return &BuiltinTable{} }

func (t *BuiltinTable) register(name string, fn BuiltinFn) value.Value {
	idx := uint64(len(t.fns))
	t.fns = append(t.fns, fn)
	t.names = append(t.names, name)
	return value.InitBuiltin(idx)
}

// RegisterBuiltin installs fn under name, for callers outside this
// package (internal/bridge's protocol-method dispatcher functions, which
// need a callable Value but aren't part of the fixed core set above).
func (t *BuiltinTable) RegisterBuiltin(name string, fn BuiltinFn) value.Value {
	return t.register(name, fn)
}

// Call invokes the builtin boxed at v's index, returning an error if v
// isn't a builtin-tagged Value or the index is out of range (shouldn't
// happen for values only ever produced by register).
func (t *BuiltinTable) Call(rt *Runtime, v value.Value, args []value.Value) (value.Value, error) {
	if v.Kind() != value.KindBuiltin {
		return value.InitNil(), fmt.Errorf("bootstrap: %v is not a builtin function", v)
	}
	idx := v.AsBuiltin()
	if idx >= uint64(len(t.fns)) {
		return value.InitNil(), fmt.Errorf("bootstrap: builtin index %d out of range", idx)
	}
	return t.fns[idx](rt, args)
}

// RegisterBuiltins installs the core function set into the "lumen.core"
// namespace: the VM (not the evaluator) executes OpAdd/OpSub/OpMul/OpDiv/OpRem
// and comparison opcodes for a compiler that can prove an arithmetic call
// site's operator at compile time, but the reader/compiler pair this
// runtime actually ships treats every call, including (+ 1 2), as an
// ordinary OpCall against a Var — so +, -, *, /, and the comparisons are
// defined here as variadic functions over that same path, alongside the
// collection constructors, atoms, futures, ex-info, and the
// reduce/map/filter/take/range sequence core.
func (rt *Runtime) RegisterBuiltins(heap *gc.Heap) {
	t := newBuiltinTable()
	rt.Builtins = t
	core := rt.namespace("lumen.core")

	def := func(name string, fn BuiltinFn) { core.define(name, t.register(name, fn)) }

	def("+", func(rt *Runtime, args []value.Value) (value.Value, error) {
		acc := value.InitInteger(0)
		var err error
		for _, a := range args {
			acc, err = addValues(heap, acc, a)
			if err != nil {
				return value.InitNil(), err
			}
		}
		return acc, nil
	})

	def("*", func(rt *Runtime, args []value.Value) (value.Value, error) {
		acc := value.InitInteger(1)
		var err error
		for _, a := range args {
			acc, err = mulValues(heap, acc, a)
			if err != nil {
				return value.InitNil(), err
			}
		}
		return acc, nil
	})

	def("-", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.InitNil(), fmt.Errorf("-: expected at least 1 argument, got 0")
		}
		if len(args) == 1 {
			return subValues(heap, value.InitInteger(0), args[0])
		}
		acc := args[0]
		var err error
		for _, a := range args[1:] {
			acc, err = subValues(heap, acc, a)
			if err != nil {
				return value.InitNil(), err
			}
		}
		return acc, nil
	})

	def("/", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.InitNil(), fmt.Errorf("/: expected at least 1 argument, got 0")
		}
		if len(args) == 1 {
			return divValues(heap, value.InitInteger(1), args[0])
		}
		acc := args[0]
		var err error
		for _, a := range args[1:] {
			acc, err = divValues(heap, acc, a)
			if err != nil {
				return value.InitNil(), err
			}
		}
		return acc, nil
	})

	cmp := func(name string, ok func(c int) bool) {
		def(name, func(rt *Runtime, args []value.Value) (value.Value, error) {
			if len(args) < 2 {
				return value.InitBool(true), nil
			}
			for i := 0; i+1 < len(args); i++ {
				c, err := compareNumeric(args[i], args[i+1])
				if err != nil {
					return value.InitNil(), fmt.Errorf("%s: %w", name, err)
				}
				if !ok(c) {
					return value.InitBool(false), nil
				}
			}
			return value.InitBool(true), nil
		})
	}
	cmp("<", func(c int) bool { return c < 0 })
	cmp("<=", func(c int) bool { return c <= 0 })
	cmp(">", func(c int) bool { return c > 0 })
	cmp(">=", func(c int) bool { return c >= 0 })

	def("inc", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("inc: expected 1 argument, got %d", len(args))
		}
		return addValues(heap, args[0], value.InitInteger(1))
	})

	def("dec", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("dec: expected 1 argument, got %d", len(args))
		}
		return subValues(heap, args[0], value.InitInteger(1))
	})

	def("even?", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("even?: expected 1 argument, got %d", len(args))
		}
		return value.InitBool(args[0].AsInteger()%2 == 0), nil
	})

	def("odd?", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("odd?: expected 1 argument, got %d", len(args))
		}
		return value.InitBool(args[0].AsInteger()%2 != 0), nil
	})

	def("atom", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("atom: expected 1 argument, got %d", len(args))
		}
		return heap.NewAtom(args[0]), nil
	})

	def("deref", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("deref: expected 1 argument, got %d", len(args))
		}
		if rt.DerefFn != nil {
			return rt.DerefFn(args[0])
		}
		return derefValue(heap, args[0])
	})

	def("swap!", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) < 2 {
			return value.InitNil(), fmt.Errorf("swap!: expected atom and function, got %d args", len(args))
		}
		obj := heap.Resolve(args[0])
		a, ok := obj.(*value.AtomObj)
		if !ok {
			return value.InitNil(), fmt.Errorf("swap!: first argument is not an atom")
		}
		for {
			old := a.Val
			callArgs := append([]value.Value{old}, args[2:]...)
			next, err := rt.CallFn(args[1], callArgs)
			if err != nil {
				return value.InitNil(), err
			}
			if a.CAS(old, next) {
				return next, nil
			}
		}
	})

	def("reset!", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.InitNil(), fmt.Errorf("reset!: expected 2 arguments, got %d", len(args))
		}
		obj := heap.Resolve(args[0])
		a, ok := obj.(*value.AtomObj)
		if !ok {
			return value.InitNil(), fmt.Errorf("reset!: first argument is not an atom")
		}
		a.Store(args[1])
		return args[1], nil
	})

	def("future", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("future: expected a thunk, got %d args", len(args))
		}
		return rt.SpawnFuture(args[0])
	})

	def("ex-info", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) < 1 {
			return value.InitNil(), fmt.Errorf("ex-info: expected at least a message")
		}
		msgObj := heap.Resolve(args[0])
		msg := ""
		if s, ok := msgObj.(*value.StringObj); ok {
			msg = string(s.Bytes)
		}
		data := value.InitNil()
		if len(args) >= 2 {
			data = args[1]
		}
		return rt.Exceptions.NewTypedExceptionValue("error", msg, data), nil
	})

	def("ex-data", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("ex-data: expected 1 argument, got %d", len(args))
		}
		return exceptionField(heap, args[0], ":lumen/ex-data"), nil
	})

	def("ex-message", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("ex-message: expected 1 argument, got %d", len(args))
		}
		return exceptionField(heap, args[0], exceptionMessageKeyword), nil
	})

	def("vector", func(rt *Runtime, args []value.Value) (value.Value, error) {
		return heap.NewVector(args), nil
	})

	def("conj", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return heap.NewVector(nil), nil
		}
		return conjValue(rt, heap, args[0], args[1:])
	})

	def("first", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("first: expected 1 argument, got %d", len(args))
		}
		return firstValue(rt, heap, args[0])
	})

	def("rest", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("rest: expected 1 argument, got %d", len(args))
		}
		return restValue(rt, heap, args[0])
	})

	def("count", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.InitNil(), fmt.Errorf("count: expected 1 argument, got %d", len(args))
		}
		n, err := countValue(rt, heap, args[0])
		if err != nil {
			return value.InitNil(), err
		}
		return value.InitInteger(int64(n)), nil
	})

	def("range", func(rt *Runtime, args []value.Value) (value.Value, error) {
		return rangeValue(rt, heap, args)
	})

	def("bit-shift-left", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.InitNil(), fmt.Errorf("bit-shift-left: expected (bit-shift-left n shift), got %d args", len(args))
		}
		return bitShiftLeftValue(args[0].AsInteger(), args[1].AsInteger()), nil
	})

	def("+'", func(rt *Runtime, args []value.Value) (value.Value, error) {
		return exactArith(heap, "+'", args, addInt64Checked, value.BigAdd)
	})

	def("*'", func(rt *Runtime, args []value.Value) (value.Value, error) {
		return exactArith(heap, "*'", args, mulInt64Checked, value.BigMul)
	})

	def("reduce", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 3 {
			return value.InitNil(), fmt.Errorf("reduce: expected (reduce f init coll), got %d args", len(args))
		}
		return reduceValue(rt, heap, args[0], args[1], args[2])
	})

	def("map", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.InitNil(), fmt.Errorf("map: expected (map f coll), got %d args", len(args))
		}
		return chainStep(heap, args[1], value.ChainStep{Op: value.ChainMap, Kind: args[0]}), nil
	})

	def("filter", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.InitNil(), fmt.Errorf("filter: expected (filter pred coll), got %d args", len(args))
		}
		return chainStep(heap, args[1], value.ChainStep{Op: value.ChainFilter, Kind: args[0]}), nil
	})

	def("take", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.InitNil(), fmt.Errorf("take: expected (take n coll), got %d args", len(args))
		}
		n := args[0].AsInteger()
		return chainStep(heap, args[1], value.ChainStep{Op: value.ChainTake, Kind: value.InitInteger(n)}), nil
	})

	def("str", func(rt *Runtime, args []value.Value) (value.Value, error) {
		out := ""
		for _, a := range args {
			out += value.Print(heap, a, false, value.PrintLimits{})
		}
		return heap.NewString(out), nil
	})

	def("println", func(rt *Runtime, args []value.Value) (value.Value, error) {
		out := ""
		for i, a := range args {
			if i > 0 {
				out += " "
			}
			out += value.Print(heap, a, false, value.PrintLimits{})
		}
		fmt.Println(out)
		return value.InitNil(), nil
	})

	def("=", func(rt *Runtime, args []value.Value) (value.Value, error) {
		if len(args) < 2 {
			return value.InitBool(true), nil
		}
		for i := 1; i < len(args); i++ {
			if !value.Equals(heap, args[0], args[i]) {
				return value.InitBool(false), nil
			}
		}
		return value.InitBool(true), nil
	})
}

// DefaultDeref implements plain atom/volatile/delay dereferencing, exposed
// for internal/bridge to fall back to once it has ruled out v being a
// future handle (which needs its own blocking-wait semantics).
func DefaultDeref(heap *gc.Heap, v value.Value) (value.Value, error) {
	return derefValue(heap, v)
}

func derefValue(heap *gc.Heap, v value.Value) (value.Value, error) {
	switch obj := heap.Resolve(v).(type) {
	case *value.AtomObj:
		return obj.Load(), nil
	case *value.VolatileObj:
		return obj.Val, nil
	case *value.DelayObj:
		return obj.Thunk, nil
	default:
		return value.InitNil(), fmt.Errorf("deref: not derefable")
	}
}

func exceptionField(heap *gc.Heap, v value.Value, keyword string) value.Value {
	obj := heap.Resolve(v)
	mapObj, ok := obj.(*value.MapObj)
	if !ok {
		return value.InitNil()
	}
	for i, k := range mapObj.Keys {
		if s, ok := heap.Resolve(k).(*value.StringObj); ok && string(s.Bytes) == keyword {
			return mapObj.Vals[i]
		}
	}
	return value.InitNil()
}

// toSlice materializes v fully. It is the right tool for first/rest/count/
// conj on finite collections, but MUST NOT be used on an unbounded lazy
// sequence (an infinite (range) or an infinite chain with no take step) —
// reduce and the lazy seq internals below pull element-by-element instead
// so a take step can cut off production before a full slice ever exists.
func toSlice(rt *Runtime, heap *gc.Heap, v value.Value) ([]value.Value, error) {
	switch obj := heap.Resolve(v).(type) {
	case *value.VectorObj:
		return obj.Items, nil
	case *value.ConsObj:
		var out []value.Value
		cur := v
		for {
			co, ok := heap.Resolve(cur).(*value.ConsObj)
			if !ok {
				break
			}
			out = append(out, co.First)
			cur = co.Rest
		}
		return out, nil
	case *value.SetObj:
		return obj.Items, nil
	case *value.LazySeqObj:
		var out []value.Value
		cur := v
		for {
			item, rest, ok, err := lazySeqNext(rt, heap, obj)
			if err != nil {
				return nil, err
			}
			if !ok {
				return out, nil
			}
			out = append(out, item)
			cur = rest
			next, ok := heap.Resolve(cur).(*value.LazySeqObj)
			if !ok {
				// rest came back as an eager terminator (nil or a realized
				// cons chain already walked above); nothing more to pull.
				return out, nil
			}
			obj = next
		}
	default:
		if v.Kind() == value.KindConst {
			return nil, nil
		}
		return nil, fmt.Errorf("not a sequence")
	}
}

func firstValue(rt *Runtime, heap *gc.Heap, v value.Value) (value.Value, error) {
	if lz, ok := heap.Resolve(v).(*value.LazySeqObj); ok {
		item, _, ok, err := lazySeqNext(rt, heap, lz)
		if err != nil || !ok {
			return value.InitNil(), err
		}
		return item, nil
	}
	items, err := toSlice(rt, heap, v)
	if err != nil {
		return value.InitNil(), err
	}
	if len(items) == 0 {
		return value.InitNil(), nil
	}
	return items[0], nil
}

func restValue(rt *Runtime, heap *gc.Heap, v value.Value) (value.Value, error) {
	if lz, ok := heap.Resolve(v).(*value.LazySeqObj); ok {
		_, rest, ok, err := lazySeqNext(rt, heap, lz)
		if err != nil {
			return value.InitNil(), err
		}
		if !ok {
			return heap.NewVector(nil), nil
		}
		return rest, nil
	}
	items, err := toSlice(rt, heap, v)
	if err != nil {
		return value.InitNil(), err
	}
	if len(items) <= 1 {
		return heap.NewVector(nil), nil
	}
	return heap.NewVector(items[1:]), nil
}

func countValue(rt *Runtime, heap *gc.Heap, v value.Value) (int, error) {
	if s, ok := heap.Resolve(v).(*value.StringObj); ok {
		return len(s.Bytes), nil
	}
	items, err := toSlice(rt, heap, v)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func conjValue(rt *Runtime, heap *gc.Heap, coll value.Value, items []value.Value) (value.Value, error) {
	existing, err := toSlice(rt, heap, coll)
	if err != nil {
		return value.InitNil(), err
	}
	return heap.NewVector(append(append([]value.Value(nil), existing...), items...)), nil
}

// rangeValue returns a lazy, unmemoized-ahead arithmetic sequence: 0 args
// is unbounded, matching spec's "(range) produces an infinite sequence"
// requirement, so it must never be eagerly materialized here.
func rangeValue(rt *Runtime, heap *gc.Heap, args []value.Value) (value.Value, error) {
	var start, end int64
	hasEnd := true
	switch len(args) {
	case 0:
		hasEnd = false
	case 1:
		start, end = 0, args[0].AsInteger()
	case 2:
		start, end = args[0].AsInteger(), args[1].AsInteger()
	default:
		return value.InitNil(), fmt.Errorf("range: expected 0, 1, or 2 arguments, got %d", len(args))
	}
	return lazyRangeFrom(rt, heap, start, hasEnd, end), nil
}

// lazyRangeFrom builds the native generator step for one range element:
// forcing it yields (cons cur (lazyRangeFrom cur+1 ...)), or nil once a
// bounded range is exhausted.
func lazyRangeFrom(rt *Runtime, heap *gc.Heap, cur int64, hasEnd bool, end int64) value.Value {
	if hasEnd && cur >= end {
		return value.InitNil()
	}
	thunk := rt.Builtins.RegisterBuiltin("range-step", func(rt *Runtime, _ []value.Value) (value.Value, error) {
		return heap.NewCons(value.InitInteger(cur), lazyRangeFrom(rt, heap, cur+1, hasEnd, end)), nil
	})
	return heap.NewLazySeq(thunk, nil)
}

// forceNativeLazySeq runs l's thunk (a 0-arg builtin producing a cons cell
// or nil) exactly once, memoizing the result the same way value.LazySeqObj
// expects any Call-Bridge-capable caller to.
func forceNativeLazySeq(rt *Runtime, l *value.LazySeqObj) (value.Value, error) {
	if realized, ok := l.Snapshot(); ok {
		return realized, nil
	}
	result, err := rt.Builtins.Call(rt, l.Thunk, nil)
	if err != nil {
		return value.InitNil(), err
	}
	l.SetRealized(result)
	return result, nil
}

// chainStep wraps coll in (or fuses onto) a lazy map/filter/take chain:
// if coll is already a chained lazy seq, the new step is appended to its
// existing Steps rather than nesting another LazySeqObj, so an arbitrarily
// long (take (filter (map ...))) pipeline still performs one pull per
// source element instead of materializing at every stage.
func chainStep(heap *gc.Heap, coll value.Value, step value.ChainStep) value.Value {
	if lz, ok := heap.Resolve(coll).(*value.LazySeqObj); ok && lz.Chain != nil {
		steps := append(append([]value.ChainStep(nil), lz.Chain.Steps...), step)
		return heap.NewLazySeq(value.InitNil(), &value.ChainDescriptor{Source: lz.Chain.Source, Steps: steps})
	}
	return heap.NewLazySeq(value.InitNil(), &value.ChainDescriptor{Source: coll, Steps: []value.ChainStep{step}})
}

// sourceNext pulls one element from any sequence representation (eager
// vector/cons/set, or another lazy seq), returning the remainder as
// whatever shape is cheapest to hand back rather than re-wrapping eager
// colls in a fresh allocation per element beyond a slice re-slice.
func sourceNext(rt *Runtime, heap *gc.Heap, src value.Value) (value.Value, value.Value, bool, error) {
	switch obj := heap.Resolve(src).(type) {
	case *value.LazySeqObj:
		return lazySeqNext(rt, heap, obj)
	case *value.ConsObj:
		return obj.First, obj.Rest, true, nil
	case *value.VectorObj:
		if len(obj.Items) == 0 {
			return value.InitNil(), value.InitNil(), false, nil
		}
		return obj.Items[0], heap.NewVector(obj.Items[1:]), true, nil
	case *value.SetObj:
		if len(obj.Items) == 0 {
			return value.InitNil(), value.InitNil(), false, nil
		}
		return obj.Items[0], heap.NewVector(obj.Items[1:]), true, nil
	default:
		if src.IsNil() {
			return value.InitNil(), value.InitNil(), false, nil
		}
		return value.InitNil(), value.InitNil(), false, fmt.Errorf("not a sequence")
	}
}

// lazySeqNext realizes the next (item, rest) pair of a lazy seq, driving
// either a chained map/filter/take pipeline or a plain native generator
// (e.g. range's thunk).
func lazySeqNext(rt *Runtime, heap *gc.Heap, l *value.LazySeqObj) (value.Value, value.Value, bool, error) {
	if l.Chain != nil {
		return pullChained(rt, heap, l.Chain)
	}
	realized, err := forceNativeLazySeq(rt, l)
	if err != nil {
		return value.InitNil(), value.InitNil(), false, err
	}
	if realized.IsNil() {
		return value.InitNil(), value.InitNil(), false, nil
	}
	co, ok := heap.Resolve(realized).(*value.ConsObj)
	if !ok {
		return value.InitNil(), value.InitNil(), false, fmt.Errorf("lazy seq thunk did not produce a cons cell")
	}
	return co.First, co.Rest, true, nil
}

// pullChained pulls raw elements from chain.Source, applying chain.Steps
// in order, until one element survives every step (producing the next
// (item, rest) pair) or the source or a take step is exhausted. Dropped
// (filtered-out) elements and decremented take counts never force a
// second pull of Source beyond what's needed for one surviving item,
// which is what lets an infinite source terminate under a bounded take.
func pullChained(rt *Runtime, heap *gc.Heap, chain *value.ChainDescriptor) (value.Value, value.Value, bool, error) {
	source := chain.Source
	steps := chain.Steps
	for {
		item, restSource, ok, err := sourceNext(rt, heap, source)
		if err != nil {
			return value.InitNil(), value.InitNil(), false, err
		}
		if !ok {
			return value.InitNil(), value.InitNil(), false, nil
		}
		out, passed, nextSteps, terminal, err := applyChainSteps(rt, steps, item)
		if err != nil {
			return value.InitNil(), value.InitNil(), false, err
		}
		if terminal {
			return value.InitNil(), value.InitNil(), false, nil
		}
		if !passed {
			source, steps = restSource, nextSteps
			continue
		}
		rest := heap.NewLazySeq(value.InitNil(), &value.ChainDescriptor{Source: restSource, Steps: nextSteps})
		return out, rest, true, nil
	}
}

// applyChainSteps runs item through steps in order. terminal=true means
// the whole sequence ends here (a take step's count was already zero);
// passed=false means item was filtered out but later elements may still
// pass, carrying forward any steps mutated before the drop (e.g. a take
// counter that precedes the filter in the chain).
func applyChainSteps(rt *Runtime, steps []value.ChainStep, item value.Value) (out value.Value, passed bool, nextSteps []value.ChainStep, terminal bool, err error) {
	nextSteps = append([]value.ChainStep(nil), steps...)
	cur := item
	for i, s := range nextSteps {
		switch s.Op {
		case value.ChainMap:
			cur, err = rt.CallFn(s.Kind, []value.Value{cur})
			if err != nil {
				return value.InitNil(), false, nil, false, err
			}
		case value.ChainFilter:
			keep, err := rt.CallFn(s.Kind, []value.Value{cur})
			if err != nil {
				return value.InitNil(), false, nil, false, err
			}
			if !keep.Truthy() {
				return value.InitNil(), false, nextSteps, false, nil
			}
		case value.ChainTake:
			remaining := s.Kind.AsInteger()
			if remaining <= 0 {
				return value.InitNil(), false, nil, true, nil
			}
			nextSteps[i] = value.ChainStep{Op: value.ChainTake, Kind: value.InitInteger(remaining - 1)}
		}
	}
	return cur, true, nextSteps, false, nil
}

func reduceValue(rt *Runtime, heap *gc.Heap, fn, init, coll value.Value) (value.Value, error) {
	acc := init
	cur := coll
	for {
		item, rest, ok, err := sourceNext(rt, heap, cur)
		if err != nil {
			return value.InitNil(), err
		}
		if !ok {
			return acc, nil
		}
		acc, err = rt.CallFn(fn, []value.Value{acc, item})
		if err != nil {
			return value.InitNil(), err
		}
		if reduced, ok := heap.Resolve(acc).(*value.ReducedObj); ok {
			return reduced.Val, nil
		}
		cur = rest
	}
}

// bitShiftLeftValue computes n<<shift the way a 64-bit long shift does:
// the shift amount is masked modulo 64 rather than erroring or promoting,
// so (bit-shift-left 1 64) is (bit-shift-left 1 0) = 1. A result outside
// the 48-bit boxed-integer range still promotes to float via InitInteger,
// same as any other arithmetic result.
func bitShiftLeftValue(n, shift int64) value.Value {
	amt := uint(shift) & 63
	return value.InitInteger(n << amt)
}

// addInt64Checked and mulInt64Checked report ok=false exactly when the
// int64 result would overflow, the standard undo-the-operation check.
func addInt64Checked(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func mulInt64Checked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

// exactArith implements +'/*': native int64 arithmetic when both operands
// fit and the result doesn't overflow, else promotion to (and continued
// use of) BigIntObj rather than ever wrapping silently.
func exactArith(heap *gc.Heap, name string, args []value.Value, nativeOp func(a, b int64) (int64, bool), bigOp func(a, b *value.BigIntObj) *value.BigIntObj) (value.Value, error) {
	if len(args) != 2 {
		return value.InitNil(), fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
	}
	a, b := args[0], args[1]
	if a.Kind() == value.KindInteger && b.Kind() == value.KindInteger {
		x, y := a.AsInteger(), b.AsInteger()
		if r, ok := nativeOp(x, y); ok {
			return value.InitInteger(r), nil
		}
		return heap.NewBigInt(bigOp(value.BigIntFromInt64(x), value.BigIntFromInt64(y))), nil
	}
	ba, ok := asBigInt(heap, a)
	if !ok {
		return value.InitNil(), fmt.Errorf("%s: non-integer operand %v", name, a)
	}
	bb, ok := asBigInt(heap, b)
	if !ok {
		return value.InitNil(), fmt.Errorf("%s: non-integer operand %v", name, b)
	}
	return heap.NewBigInt(bigOp(ba, bb)), nil
}

func asBigInt(heap *gc.Heap, v value.Value) (*value.BigIntObj, bool) {
	if v.Kind() == value.KindInteger {
		return value.BigIntFromInt64(v.AsInteger()), true
	}
	obj, ok := heap.Resolve(v).(*value.BigIntObj)
	return obj, ok
}

// numericFloats extracts a and b as float64s along with whether both were
// plain integers, mirroring internal/vm/vm_arith.go's numericPair so +/-/*//
// behave identically whichever engine (VM opcode or Call-Bridge builtin)
// a given call site happens to go through.
func numericFloats(a, b value.Value) (af, bf float64, bothInt bool, ok bool) {
	switch a.Kind() {
	case value.KindInteger:
		af = float64(a.AsInteger())
	case value.KindFloat:
		af = a.AsFloat()
	default:
		return 0, 0, false, false
	}
	switch b.Kind() {
	case value.KindInteger:
		bf = float64(b.AsInteger())
	case value.KindFloat:
		bf = b.AsFloat()
	default:
		return 0, 0, false, false
	}
	return af, bf, a.Kind() == value.KindInteger && b.Kind() == value.KindInteger, true
}

func addValues(heap *gc.Heap, a, b value.Value) (value.Value, error) {
	if a.Kind() == value.KindInteger && b.Kind() == value.KindInteger {
		x, y := a.AsInteger(), b.AsInteger()
		if r, ok := addInt64Checked(x, y); ok {
			return value.InitInteger(r), nil
		}
		return value.InitFloat(float64(x) + float64(y)), nil
	}
	af, bf, _, ok := numericFloats(a, b)
	if !ok {
		return value.InitNil(), fmt.Errorf("arithmetic on non-numeric operand")
	}
	return value.InitFloat(af + bf), nil
}

func subValues(heap *gc.Heap, a, b value.Value) (value.Value, error) {
	if a.Kind() == value.KindInteger && b.Kind() == value.KindInteger {
		return value.InitInteger(a.AsInteger() - b.AsInteger()), nil
	}
	af, bf, _, ok := numericFloats(a, b)
	if !ok {
		return value.InitNil(), fmt.Errorf("arithmetic on non-numeric operand")
	}
	return value.InitFloat(af - bf), nil
}

func mulValues(heap *gc.Heap, a, b value.Value) (value.Value, error) {
	if a.Kind() == value.KindInteger && b.Kind() == value.KindInteger {
		x, y := a.AsInteger(), b.AsInteger()
		if r, ok := mulInt64Checked(x, y); ok {
			return value.InitInteger(r), nil
		}
		return value.InitFloat(float64(x) * float64(y)), nil
	}
	af, bf, _, ok := numericFloats(a, b)
	if !ok {
		return value.InitNil(), fmt.Errorf("arithmetic on non-numeric operand")
	}
	return value.InitFloat(af * bf), nil
}

func divValues(heap *gc.Heap, a, b value.Value) (value.Value, error) {
	if a.Kind() == value.KindInteger && b.Kind() == value.KindInteger {
		x, y := a.AsInteger(), b.AsInteger()
		if y == 0 {
			return value.InitNil(), fmt.Errorf("Divide by zero")
		}
		if x%y == 0 {
			return value.InitInteger(x / y), nil
		}
		return value.InitFloat(float64(x) / float64(y)), nil
	}
	af, bf, _, ok := numericFloats(a, b)
	if !ok {
		return value.InitNil(), fmt.Errorf("arithmetic on non-numeric operand")
	}
	return value.InitFloat(af / bf), nil
}

// compareNumeric orders a and b for the comparison builtins, erroring on
// non-numeric operands rather than returning a misleading 0.
func compareNumeric(a, b value.Value) (int, error) {
	af, bf, _, ok := numericFloats(a, b)
	if !ok {
		return 0, fmt.Errorf("comparison on non-numeric operand")
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}
