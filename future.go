package botbox

import (
	"fmt"
	"sync"

	"github.com/botbox/botbox/internal/core"
)

// futureHandle is the key under which a pending future object is pinned in
// the interpreter heap. The JS-side table globalThis.__asyncFutures[id] is
// the only thing keeping the object reachable between the moment the
// scheduling call returns and the moment the drain loop resolves it; the
// script typically holds no durable reference of its own in between.
type futureHandle int

// futureRegistry tracks outstanding handles on the Go side. The JS table is
// the actual keep-alive root; this mirror exists so scheduling (which runs
// before the JS entry exists) can allocate ids, and so leaks are observable.
type futureRegistry struct {
	mu   sync.Mutex
	next futureHandle
	live map[futureHandle]struct{}
}

func newFutureRegistry() *futureRegistry {
	return &futureRegistry{live: make(map[futureHandle]struct{})}
}

// allocate reserves a fresh handle. The caller is expected to immediately
// bind it to a future object via the async library's JS wrapper.
func (fr *futureRegistry) allocate() futureHandle {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.next++
	h := fr.next
	fr.live[h] = struct{}{}
	return h
}

// release drops the keep-alive entry for h on both sides. It is called
// exactly once per handle, on the terminal path of the drain loop,
// regardless of whether resolution itself succeeded. Releasing a handle
// twice is a programming error in a capability function and is reported
// rather than masked.
func (fr *futureRegistry) release(rt core.JSRuntime, h futureHandle) error {
	fr.mu.Lock()
	_, ok := fr.live[h]
	delete(fr.live, h)
	fr.mu.Unlock()
	if !ok {
		return fmt.Errorf("future handle %d released twice", h)
	}
	return rt.Eval(fmt.Sprintf("delete globalThis.__asyncFutures[%d];", h))
}

// discard drops a handle that never made it to the bridge (validation
// failed after allocation). No JS entry exists yet, so only the mirror is
// touched.
func (fr *futureRegistry) discard(h futureHandle) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.live, h)
}

// outstanding reports the number of unresolved handles.
func (fr *futureRegistry) outstanding() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.live)
}
