package bridge

import (
	"sync"

	"github.com/satori/go.uuid"

	"github.com/lumen-lang/lumen/internal/bootstrap"
	"github.com/lumen-lang/lumen/internal/value"
)

// deref implements Runtime.DerefFn: a future handle blocks until its
// goroutine completes; anything else falls back to the default
// atom/volatile/delay dereferencing.
func (b *Bridge) deref(v value.Value) (value.Value, error) {
	if _, ok := b.lookupFuture(v); ok {
		return b.AwaitFuture(v)
	}
	return bootstrap.DefaultDeref(b.Heap, v)
}

// futureState tracks one spawned task: done closes when the goroutine
// finishes (or is canceled), after which result/err are safe to read
// without a lock.
type futureState struct {
	id     uuid.UUID
	done   chan struct{}
	result value.Value
	err    error
	mu     sync.Mutex
	canceled bool
}

// futureRegistry maps a future's backing atom (identified by its heap
// handle, since two distinct Values never alias the same handle) to its
// futureState, so deref/future-cancel can find the right goroutine's
// bookkeeping from the Value the user's code is holding.
type futureRegistry struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*futureState
	byHandle map[uint64]uuid.UUID
}

func newFutureRegistry() *futureRegistry {
	return &futureRegistry{byID: make(map[uuid.UUID]*futureState), byHandle: make(map[uint64]uuid.UUID)}
}

// spawnFuture starts thunk (a zero-arg callable) on its own goroutine and
// returns an atom Value that the goroutine stores its result into.
// Per the binding-conveyance decision in DESIGN.md ("snapshotted by
// reference"), the spawned goroutine reads Vars through the same shared
// Runtime the spawning goroutine uses — there is one binding stack, not a
// per-goroutine copy, which is the literal reading of "snapshotted by
// reference" rather than "deep-copied at spawn time."
func (b *Bridge) spawnFuture(thunk value.Value) (value.Value, error) {
	if b.futures == nil {
		b.futures = newFutureRegistry()
	}
	handle := b.Heap.NewAtom(value.InitNil())
	fs := &futureState{id: uuid.NewV4(), done: make(chan struct{})}

	b.futures.mu.Lock()
	b.futures.byID[fs.id] = fs
	b.futures.byHandle[handle.Handle()] = fs.id
	b.futures.mu.Unlock()

	go func() {
		result, err := b.Call(thunk, nil)
		fs.mu.Lock()
		canceled := fs.canceled
		if !canceled {
			fs.result, fs.err = result, err
		}
		fs.mu.Unlock()
		close(fs.done)
	}()

	return handle, nil
}

// AwaitFuture blocks until the future backing handle completes, returning
// its result or the error its thunk raised. Callers that pass a Value not
// produced by spawnFuture get an immediate "not a future" error.
func (b *Bridge) AwaitFuture(handle value.Value) (value.Value, error) {
	fs, ok := b.lookupFuture(handle)
	if !ok {
		return value.InitNil(), errNotAFuture
	}
	<-fs.done
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.result, fs.err
}

// CancelFuture implements future-cancel: a best-effort signal that
// suppresses the eventual result from being published. Go has no
// goroutine preemption, so an in-flight thunk still runs to completion;
// cancellation only stops its result from reaching deref callers.
func (b *Bridge) CancelFuture(handle value.Value) bool {
	fs, ok := b.lookupFuture(handle)
	if !ok {
		return false
	}
	fs.mu.Lock()
	alreadyDone := false
	select {
	case <-fs.done:
		alreadyDone = true
	default:
	}
	fs.canceled = true
	fs.mu.Unlock()
	return !alreadyDone
}

func (b *Bridge) lookupFuture(handle value.Value) (*futureState, bool) {
	if b.futures == nil {
		return nil, false
	}
	b.futures.mu.Lock()
	defer b.futures.mu.Unlock()
	id, ok := b.futures.byHandle[handle.Handle()]
	if !ok {
		return nil, false
	}
	fs, ok := b.futures.byID[id]
	return fs, ok
}

var errNotAFuture = futureError("bridge: value is not a future")

type futureError string

func (e futureError) Error() string { return string(e) }
