package botbox

import "sync"

// completionFunc computes the values a completed native operation hands to
// the future's resolution hook. It runs on the host thread during a tick
// drain but must only touch native data captured at completion time, never
// the interpreter. A non-nil error rejects the future with the error text.
type completionFunc func() ([]any, error)

// pendingCallback links one completed piece of native async work to the
// interpreter-side future awaiting it. It exclusively owns the future
// handle from the moment the work is scheduled until the drain loop
// releases it.
type pendingCallback struct {
	future   futureHandle
	sandbox  *Sandbox // nil for trusted runtimes
	complete completionFunc
}

// callbackBridge is the multi-producer single-consumer queue connecting
// native async completions to the interpreter thread. Producers (timer and
// fetch goroutines) only ever push; the sole consumer is the tick drain on
// the host thread. Pushes never block and the queue is unbounded.
type callbackBridge struct {
	mu      sync.Mutex
	pending []*pendingCallback
}

func newCallbackBridge() *callbackBridge {
	return &callbackBridge{}
}

// push enqueues a completed callback. Safe for concurrent producers.
func (b *callbackBridge) push(cb *pendingCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, cb)
}

// tryPop removes and returns the oldest callback, or nil if none is queued.
func (b *callbackBridge) tryPop() *pendingCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	cb := b.pending[0]
	b.pending = b.pending[1:]
	return cb
}

// size reports the number of queued callbacks.
func (b *callbackBridge) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
