package bootstrap

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lumen-lang/lumen/internal/value"
)

// ProtocolRegistry maps (protocol, type-key) -> method implementation. A
// protocol-method invocation compiles to an ordinary OpCall against a Var
// bound to a small dispatching builtin (see NewProtocolDispatcher, installed
// by internal/bridge's defprotocol loader);
// the registry backs that closure's lookup and owns the inline-cache
// generation counter invalidated on every extend-type*.
type ProtocolRegistry struct {
	mu         sync.RWMutex
	protocols  map[string]*protocolInfo
	generation uint64
}

type protocolInfo struct {
	namespace, name string
	methodNames     map[string]bool
	impls           map[string]map[string]value.Value // typeKey -> methodName -> closure
}

func newProtocolRegistry() *ProtocolRegistry {
	return &ProtocolRegistry{protocols: make(map[string]*protocolInfo)}
}

func protocolKey(ns, name string) string { return ns + "/" + name }

// DefProtocol registers a protocol's method signatures, bumping the
// inline-cache generation so any cached dispatch targeting this protocol
// is invalidated (a redefinition can change method arity/names).
func (pr *ProtocolRegistry) DefProtocol(ns, name string, methods []string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	names := make(map[string]bool, len(methods))
	for _, m := range methods {
		names[m] = true
	}
	pr.protocols[protocolKey(ns, name)] = &protocolInfo{
		namespace: ns, name: name, methodNames: names,
		impls: make(map[string]map[string]value.Value),
	}
	pr.generation++
}

// ExtendType installs typeKey's implementation of protocolNS/protocolName,
// bumping the generation counter so stale inline-cache entries recompute.
func (pr *ProtocolRegistry) ExtendType(protocolNS, protocolName, typeKey string, methods map[string]value.Value) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	info, ok := pr.protocols[protocolKey(protocolNS, protocolName)]
	if !ok {
		return fmt.Errorf("bootstrap: extend-type on unknown protocol %s/%s", protocolNS, protocolName)
	}
	if info.impls[typeKey] == nil {
		info.impls[typeKey] = make(map[string]value.Value)
	}
	for name, fn := range methods {
		info.impls[typeKey][name] = fn
	}
	pr.generation++
	return nil
}

// Lookup resolves protocolNS/protocolName's implementation for typeKey,
// returning (impl, generation, ok); generation lets the caller's inline
// cache detect staleness without re-locking the registry on every hit.
func (pr *ProtocolRegistry) Lookup(protocolNS, protocolName, typeKey, method string) (value.Value, uint64, bool) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	info, ok := pr.protocols[protocolKey(protocolNS, protocolName)]
	if !ok {
		return value.InitNil(), pr.generation, false
	}
	methods, ok := info.impls[typeKey]
	if !ok {
		return value.InitNil(), pr.generation, false
	}
	fn, ok := methods[method]
	return fn, pr.generation, ok
}

func (pr *ProtocolRegistry) currentGeneration() uint64 {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	return pr.generation
}

// dispatchCacheEntry is one inline-cache slot: the type key this entry was
// resolved for, the generation it was resolved at, and the resulting
// closure.
type dispatchCacheEntry struct {
	typeKey    string
	generation uint64
	fn         value.Value
}

// ProtocolDispatcher is the closure a protocol method's Var is bound to.
// Calling it looks up the dispatch value's type, consults a small LRU
// cache keyed by (protocol, method, typeKey), and falls back to the
// registry on a miss or a stale generation.
type ProtocolDispatcher struct {
	Registry       *ProtocolRegistry
	ProtocolNS     string
	ProtocolName   string
	Method         string
	cache          *lru.Cache[string, dispatchCacheEntry]
	typeKeyForFunc func(value.Value) string
}

// NewProtocolDispatcher builds a dispatcher for one protocol method,
// typeKeyFor resolving a call's first argument to the type key used by
// ExtendType (normally the runtime's class/tag name for the value).
func NewProtocolDispatcher(reg *ProtocolRegistry, protocolNS, protocolName, method string, typeKeyFor func(value.Value) string) *ProtocolDispatcher {
	cache, _ := lru.New[string, dispatchCacheEntry](256)
	return &ProtocolDispatcher{
		Registry: reg, ProtocolNS: protocolNS, ProtocolName: protocolName,
		Method: method, cache: cache, typeKeyForFunc: typeKeyFor,
	}
}

// Dispatch resolves and returns the implementation closure for args[0]'s
// type, or an error if no type extends this protocol method.
func (d *ProtocolDispatcher) Dispatch(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.InitNil(), fmt.Errorf("bootstrap: protocol method %s called with no arguments", d.Method)
	}
	typeKey := d.typeKeyForFunc(args[0])
	if entry, ok := d.cache.Get(typeKey); ok && entry.generation == d.Registry.currentGeneration() {
		return entry.fn, nil
	}
	fn, gen, ok := d.Registry.Lookup(d.ProtocolNS, d.ProtocolName, typeKey, d.Method)
	if !ok {
		return value.InitNil(), fmt.Errorf("bootstrap: no implementation of %s/%s %s for type %s",
			d.ProtocolNS, d.ProtocolName, d.Method, typeKey)
	}
	d.cache.Add(typeKey, dispatchCacheEntry{typeKey: typeKey, generation: gen, fn: fn})
	return fn, nil
}
