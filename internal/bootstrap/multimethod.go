package bootstrap

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lumen-lang/lumen/internal/value"
)

// MultimethodRegistry holds every defmulti/defmethod installed at runtime:
// the dispatch function each multimethod was defined with, its
// dispatch-value -> method table, an optional prefers graph for resolving
// ambiguous hierarchy matches, and a small cache keyed by dispatch value.
type MultimethodRegistry struct {
	mu          sync.RWMutex
	multis      map[string]*multiInfo
	isaChecker  func(child, parent value.Value) bool
	generation  uint64
}

type multiInfo struct {
	ns, name   string
	dispatchFn value.Value
	defaultKey value.Value
	methods    map[string]value.Value // dispatch value's hash key -> method closure
	rawKeys    map[string]value.Value // hash key -> original dispatch value, for prefers lookups
	prefers    map[string]map[string]bool
	cache      *lru.Cache[string, value.Value]
}

func newMultimethodRegistry() *MultimethodRegistry {
	return &MultimethodRegistry{multis: make(map[string]*multiInfo)}
}

// SetIsaChecker installs the hierarchy predicate used to resolve a dispatch
// value against registered methods when no exact match exists (Lumen's
// isa?/derive hierarchy, built by the bootstrap loader once type tags and
// ns-qualified keyword ancestry are known).
func (mr *MultimethodRegistry) SetIsaChecker(fn func(child, parent value.Value) bool) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.isaChecker = fn
}

func multiKey(ns, name string) string { return ns + "/" + name }

// DefMulti registers a new multimethod with its dispatch function,
// replacing any prior definition under the same name (redefinition
// discards installed methods, matching defmulti's semantics).
func (mr *MultimethodRegistry) DefMulti(ns, name string, dispatchFn value.Value, defaultKey value.Value) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	cache, _ := lru.New[string, value.Value](512)
	mr.multis[multiKey(ns, name)] = &multiInfo{
		ns: ns, name: name, dispatchFn: dispatchFn, defaultKey: defaultKey,
		methods: make(map[string]value.Value),
		rawKeys: make(map[string]value.Value),
		prefers: make(map[string]map[string]bool),
		cache:   cache,
	}
	mr.generation++
}

// DefMethod installs one dispatch-value -> implementation mapping on an
// existing multimethod. dispatchKeyHash is a caller-supplied stable string
// for the dispatch value (built from its printed/hashed form).
func (mr *MultimethodRegistry) DefMethod(ns, name, dispatchKeyHash string, dispatchValue, method value.Value) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	info, ok := mr.multis[multiKey(ns, name)]
	if !ok {
		return fmt.Errorf("bootstrap: defmethod on unknown multimethod %s/%s", ns, name)
	}
	info.methods[dispatchKeyHash] = method
	info.rawKeys[dispatchKeyHash] = dispatchValue
	info.cache.Purge()
	mr.generation++
	return nil
}

// PreferMethod records that, when both dispatchA and dispatchB match a
// given call, dispatchA's method should win (prefer-method).
func (mr *MultimethodRegistry) PreferMethod(ns, name, keyHashA, keyHashB string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	info, ok := mr.multis[multiKey(ns, name)]
	if !ok {
		return fmt.Errorf("bootstrap: prefer-method on unknown multimethod %s/%s", ns, name)
	}
	if info.prefers[keyHashA] == nil {
		info.prefers[keyHashA] = make(map[string]bool)
	}
	info.prefers[keyHashA][keyHashB] = true
	info.cache.Purge()
	return nil
}

// Resolve finds the method implementation for a dispatch value's hash key,
// first trying an exact match, then (if an isa checker is installed and
// more than one ancestor matches) the prefers graph to break ties, finally
// the :default method if one was registered under the registry's sentinel
// default key hash.
func (mr *MultimethodRegistry) Resolve(ns, name, dispatchKeyHash string, dispatchValue value.Value) (value.Value, bool) {
	mr.mu.RLock()
	info, ok := mr.multis[multiKey(ns, name)]
	if !ok {
		mr.mu.RUnlock()
		return value.InitNil(), false
	}
	if cached, ok := info.cache.Get(dispatchKeyHash); ok {
		mr.mu.RUnlock()
		return cached, true
	}
	if fn, ok := info.methods[dispatchKeyHash]; ok {
		mr.mu.RUnlock()
		mr.cacheStore(info, dispatchKeyHash, fn)
		return fn, true
	}

	var candidates []string
	if mr.isaChecker != nil {
		for key, raw := range info.rawKeys {
			if mr.isaChecker(dispatchValue, raw) {
				candidates = append(candidates, key)
			}
		}
	}
	mr.mu.RUnlock()

	winner, ok := mr.pickPreferred(info, candidates)
	if ok {
		fn := info.methods[winner]
		mr.cacheStore(info, dispatchKeyHash, fn)
		return fn, true
	}

	if fn, ok := info.methods["default"]; ok {
		mr.cacheStore(info, dispatchKeyHash, fn)
		return fn, true
	}
	return value.InitNil(), false
}

func (mr *MultimethodRegistry) cacheStore(info *multiInfo, key string, fn value.Value) {
	info.cache.Add(key, fn)
}

// pickPreferred resolves multiple hierarchy-matching candidates via the
// prefers graph; ambiguous-without-a-preference returns ok=false, so the
// caller falls through to :default rather than raising on ambiguity
// silently.
func (mr *MultimethodRegistry) pickPreferred(info *multiInfo, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	for _, c := range candidates {
		beatsAll := true
		for _, other := range candidates {
			if other == c {
				continue
			}
			if !info.prefers[c][other] {
				beatsAll = false
				break
			}
		}
		if beatsAll {
			return c, true
		}
	}
	return "", false
}

// DispatchFn returns the installed dispatch function for ns/name, for the
// Call Bridge to invoke before consulting Resolve.
func (mr *MultimethodRegistry) DispatchFn(ns, name string) (value.Value, bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	info, ok := mr.multis[multiKey(ns, name)]
	if !ok {
		return value.InitNil(), false
	}
	return info.dispatchFn, true
}
