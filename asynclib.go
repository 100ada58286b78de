package botbox

import (
	"fmt"
	"math"
	"time"
)

// asyncJS defines the interpreter-visible future protocol and the async
// namespace. A future is resolved at most once; a second resolution is a
// no-op by design. Continuation errors propagate out of the resolution
// entry points so the drain loop can surface them.
const asyncJS = `
(function() {
	globalThis.__asyncFutures = {};

	function Future() {
		this.state = 'pending';
		this.values = null;
		this.error = null;
		this.callbacks = [];
		this.errbacks = [];
	}
	Future.prototype.__handleResolve = function(values) {
		if (this.state !== 'pending') return;
		this.state = 'resolved';
		this.values = values || [];
		var cbs = this.callbacks;
		this.callbacks = [];
		this.errbacks = [];
		for (var i = 0; i < cbs.length; i++) {
			cbs[i].apply(null, this.values);
		}
	};
	Future.prototype.__handleReject = function(err) {
		if (this.state !== 'pending') return;
		this.state = 'rejected';
		this.error = err;
		var ebs = this.errbacks;
		this.callbacks = [];
		this.errbacks = [];
		for (var i = 0; i < ebs.length; i++) {
			ebs[i](err);
		}
	};
	Future.prototype.andThen = function(fn) {
		if (this.state === 'resolved') {
			fn.apply(null, this.values);
		} else if (this.state === 'pending') {
			this.callbacks.push(fn);
		}
		return this;
	};
	Future.prototype.onError = function(fn) {
		if (this.state === 'rejected') {
			fn(this.error);
		} else if (this.state === 'pending') {
			this.errbacks.push(fn);
		}
		return this;
	};

	var async = {};
	async.__newFuture = function() { return new Future(); };
	async.delay = function(seconds) {
		var fut = async.__newFuture();
		var id = __asyncDelay(Number(seconds));
		globalThis.__asyncFutures[id] = fut;
		return fut;
	};
	globalThis.async = async;
})();
`

// setupAsyncLib registers the Go half of the async namespace and evaluates
// the future protocol. __asyncDelay validates its input synchronously,
// before any handle exists or any native work starts, then schedules a
// native timer whose completion is delivered over the callback bridge.
func setupAsyncLib(r *Runtime) error {
	if err := r.rt.RegisterFunc("__asyncDelay", func(seconds float64) (int, error) {
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0, fmt.Errorf("invalid duration: must be a finite, non-negative number")
		}

		handle := r.futures.allocate()
		sb := r.current
		duration := time.Duration(seconds * float64(time.Second))

		time.AfterFunc(duration, func() {
			r.bridge.push(&pendingCallback{
				future:   handle,
				sandbox:  sb,
				complete: func() ([]any, error) { return nil, nil },
			})
		})

		return int(handle), nil
	}); err != nil {
		return err
	}

	return r.rt.Eval(asyncJS)
}
