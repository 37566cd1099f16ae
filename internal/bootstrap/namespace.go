// Package bootstrap owns everything the Call Bridge needs that isn't the
// bytecode VM or the tree-walk evaluator themselves: namespaces and Vars,
// the protocol and multimethod registries, the builtin function table, and
// binary snapshot persistence.
package bootstrap

import (
	"fmt"
	"sync"

	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
	"github.com/lumen-lang/lumen/internal/vm"
)

// Var is a namespace-qualified mutable binding with a dynamic-scope
// binding stack: Root holds the thread-global value; stack holds values
// pushed by binding*/with-bindings, most recent last.
type Var struct {
	mu    sync.RWMutex
	Root  value.Value
	stack []value.Value
}

func newVar(root value.Value) *Var { return &Var{Root: root} }

// Load returns the innermost binding if one is active, else Root.
func (v *Var) Load() value.Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if n := len(v.stack); n > 0 {
		return v.stack[n-1]
	}
	return v.Root
}

// SetRoot replaces Root unconditionally (def/set! at top level).
func (v *Var) SetRoot(val value.Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Root = val
}

// SetInnermost replaces the innermost active binding, or Root if none is
// active (set! inside a binding* scope).
func (v *Var) SetInnermost(val value.Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n := len(v.stack); n > 0 {
		v.stack[n-1] = val
		return
	}
	v.Root = val
}

func (v *Var) push(val value.Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stack = append(v.stack, val)
}

func (v *Var) pop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n := len(v.stack); n > 0 {
		v.stack = v.stack[:n-1]
	}
}

// Namespace is a flat symbol table of Vars.
type Namespace struct {
	Name string
	mu   sync.RWMutex
	vars map[string]*Var
}

func newNamespace(name string) *Namespace {
	return &Namespace{Name: name, vars: make(map[string]*Var)}
}

// Runtime is the shared registry of namespaces, protocols, and
// multimethods a single running Lumen process holds. It is the
// concrete data a bridge.Bridge delegates LoadVar/SetVar/BindVar to.
type Runtime struct {
	mu         sync.RWMutex
	namespaces map[string]*Namespace

	// bindStack records, per goroutine-visible binding* scope, which
	// Vars were pushed so UnbindVar(n) can pop exactly the right ones in
	// reverse order even across nested binding* forms.
	bindStack []boundEntry

	Protocols    *ProtocolRegistry
	Multimethods *MultimethodRegistry
	Exceptions   *ExceptionMachinery
	Builtins     *BuiltinTable

	// CallFn and SpawnFutureFn are filled in by internal/bridge once it
	// constructs the Call Bridge around this Runtime: builtins like
	// reduce/map/swap!/future need to invoke arbitrary callables, but
	// that routing (bytecode closure vs tree-walk closure vs builtin vs
	// multimethod) is the bridge's job, not bootstrap's.
	CallFn        func(fn value.Value, args []value.Value) (value.Value, error)
	SpawnFutureFn func(thunk value.Value) (value.Value, error)
	// DerefFn, when set, overrides the default atom/volatile/delay deref
	// built into internal/bootstrap so future handles can block until
	// their goroutine completes; nil falls back to the default.
	DerefFn func(v value.Value) (value.Value, error)
}

// SpawnFuture starts a future task through the installed Call Bridge hook.
func (rt *Runtime) SpawnFuture(thunk value.Value) (value.Value, error) {
	return rt.SpawnFutureFn(thunk)
}

type boundEntry struct {
	ns, name string
	v        *Var
}

// NewRuntime creates an empty runtime with a "user" namespace pre-created,
// mirroring a fresh Clojure REPL's default namespace.
func NewRuntime(heap *gc.Heap) *Runtime {
	rt := &Runtime{
		namespaces:   map[string]*Namespace{"user": newNamespace("user")},
		Protocols:    newProtocolRegistry(),
		Multimethods: newMultimethodRegistry(),
		Exceptions:   NewExceptionMachinery(heap),
	}
	return rt
}

// NewExceptionValue, ExceptionTypeKey, and IsSubtype delegate to
// Exceptions so Runtime alone satisfies the exception-handling third of
// vm.Host/eval.Host; Call and InteropCall are supplied by internal/bridge,
// which embeds a *Runtime to complete the contract.
func (rt *Runtime) NewExceptionValue(message string) value.Value {
	return rt.Exceptions.NewExceptionValue(message)
}

func (rt *Runtime) ExceptionTypeKey(v value.Value) string {
	return rt.Exceptions.ExceptionTypeKey(v)
}

func (rt *Runtime) IsSubtype(typeKey, ancestorKey string) bool {
	return rt.Exceptions.IsSubtype(typeKey, ancestorKey)
}

func (rt *Runtime) namespace(name string) *Namespace {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ns, ok := rt.namespaces[name]
	if !ok {
		ns = newNamespace(name)
		rt.namespaces[name] = ns
	}
	return ns
}

func (ns *Namespace) lookup(name string) (*Var, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	v, ok := ns.vars[name]
	return v, ok
}

func (ns *Namespace) define(name string, root value.Value) *Var {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if v, ok := ns.vars[name]; ok {
		v.SetRoot(root)
		return v
	}
	v := newVar(root)
	ns.vars[name] = v
	return v
}

// LoadVar implements vm.Host/eval.Host.
func (rt *Runtime) LoadVar(ns, name string) (value.Value, error) {
	v, ok := rt.namespace(ns).lookup(name)
	if !ok {
		return value.InitNil(), fmt.Errorf("bootstrap: unbound var %s/%s", ns, name)
	}
	return v.Load(), nil
}

// ResolveVar implements vm.Host's inline-cache hook: it hands back the
// *Var itself, whose identity is stable across def/set! (define reuses
// the existing Var rather than replacing it), so a cached cell never
// needs generation-based invalidation the way protocol/multimethod
// dispatch caches do.
func (rt *Runtime) ResolveVar(ns, name string) (vm.VarCell, error) {
	v, ok := rt.namespace(ns).lookup(name)
	if !ok {
		return nil, fmt.Errorf("bootstrap: unbound var %s/%s", ns, name)
	}
	return v, nil
}

// SetVar implements vm.Host/eval.Host: def semantics (create-or-replace
// root) when the Var doesn't exist yet, set! semantics (innermost
// binding) once it does.
func (rt *Runtime) SetVar(ns, name string, val value.Value) error {
	nsObj := rt.namespace(ns)
	if v, ok := nsObj.lookup(name); ok {
		v.SetInnermost(val)
		return nil
	}
	nsObj.define(name, val)
	return nil
}

// BindVar pushes a new dynamic binding, creating the Var (rooted at nil)
// if it doesn't exist yet.
func (rt *Runtime) BindVar(ns, name string, val value.Value) error {
	nsObj := rt.namespace(ns)
	v, ok := nsObj.lookup(name)
	if !ok {
		v = nsObj.define(name, value.InitNil())
	}
	v.push(val)
	rt.mu.Lock()
	rt.bindStack = append(rt.bindStack, boundEntry{ns: ns, name: name, v: v})
	rt.mu.Unlock()
	return nil
}

// UnbindVar pops the count most recently pushed bindings, in reverse
// order, mirroring binding*'s unwind-on-exit discipline.
func (rt *Runtime) UnbindVar(count int) {
	rt.mu.Lock()
	n := len(rt.bindStack)
	if count > n {
		count = n
	}
	popped := rt.bindStack[n-count:]
	rt.bindStack = rt.bindStack[:n-count]
	rt.mu.Unlock()

	for i := len(popped) - 1; i >= 0; i-- {
		popped[i].v.pop()
	}
}

// SnapshotBindings returns the current binding stack depth, for a future/
// agent task to reference-snapshot the dynamic-scope state of its
// spawning thread (tasks see the bindings live at spawn time, not
// whatever the spawning thread is bound to when the task actually runs).
func (rt *Runtime) SnapshotBindings() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.bindStack)
}
