// Package botbox embeds a single-threaded JavaScript interpreter behind an
// async callback bridge. Native work (timers, outbound HTTP) completes on
// its own goroutines and is queued; the host drives the interpreter by
// calling Tick, which drains completions one at a time on one thread.
// Sandboxed runtimes additionally bound each run with output, HTTP, and
// memory quotas so untrusted scripts terminate deterministically.
package botbox

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/botbox/botbox/internal/core"
	"github.com/botbox/botbox/internal/quickjs"
)

// Runtime hosts one interpreter instance. All methods that touch the
// interpreter (RunTrusted, RunSandboxed, Tick, Close) must be called from
// one goroutine, or externally serialized; the internal mutex guards
// against accidental overlap but does not make concurrent use meaningful.
type Runtime struct {
	rt      core.JSRuntime
	cfg     Config
	bridge  *callbackBridge
	futures *futureRegistry
	limiter *RateLimiter

	mu        sync.Mutex
	current   *Sandbox // ambient run context for capability functions
	nextRunID int64
	closed    bool
}

// New creates a runtime, installs the async and os libraries, and then
// either the untrusted sandbox surface or the trusted bot surface depending
// on cfg.Sandboxed.
func New(cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()

	rt, err := quickjs.New(cfg.MemoryLimitMB)
	if err != nil {
		return nil, fmt.Errorf("creating interpreter: %w", err)
	}

	r := &Runtime{
		rt:      rt,
		cfg:     cfg,
		bridge:  newCallbackBridge(),
		futures: newFutureRegistry(),
		limiter: NewRateLimiter(cfg.HTTPRatePerSecond),
	}

	if err := setupAsyncLib(r); err != nil {
		rt.Close()
		return nil, fmt.Errorf("installing async library: %w", err)
	}
	if err := setupOSLib(r); err != nil {
		rt.Close()
		return nil, fmt.Errorf("installing os library: %w", err)
	}

	if cfg.Sandboxed {
		if err := setupSandboxLib(r); err != nil {
			rt.Close()
			return nil, fmt.Errorf("installing sandbox library: %w", err)
		}
	} else {
		if err := setupBotLib(r); err != nil {
			rt.Close()
			return nil, fmt.Errorf("installing bot library: %w", err)
		}
		for _, capability := range cfg.Capabilities {
			if err := capability(r); err != nil {
				rt.Close()
				return nil, fmt.Errorf("installing capability: %w", err)
			}
		}
		if cfg.BotScript != "" {
			if err := r.rt.Eval(cfg.BotScript); err != nil {
				rt.Close()
				return nil, fmt.Errorf("evaluating bot script: %w", err)
			}
		}
	}

	return r, nil
}

// Engine returns the underlying interpreter, for capability hooks that
// need to register their own functions.
func (r *Runtime) Engine() core.JSRuntime { return r.rt }

// RunTrusted dispatches an inbound command to the bot script. Only valid on
// trusted runtimes.
func (r *Runtime) RunTrusted(msg BotMessage, args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("runtime is closed")
	}
	if r.cfg.Sandboxed {
		return fmt.Errorf("RunTrusted called on a sandboxed runtime")
	}
	if err := dispatchCommand(r, msg, args); err != nil {
		return err
	}
	r.rt.RunMicrotasks()
	return nil
}

// RunSandboxed starts one untrusted run: the source is validated, a fresh
// Sandbox with full quotas is created, and the script is invoked through
// the untrusted bootstrap. Script errors (including syntax errors past the
// preflight) are delivered on the message channel, not returned here; the
// returned error covers host-side failures only.
//
// The run may schedule async work that outlives this call. Completions are
// delivered on subsequent Ticks under the same Sandbox, so the caller keeps
// the channel open until it is done with the run and then calls Close on
// the Sandbox.
func (r *Runtime) RunSandboxed(source string) (*Sandbox, <-chan Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, fmt.Errorf("runtime is closed")
	}
	if !r.cfg.Sandboxed {
		return nil, nil, fmt.Errorf("RunSandboxed called on a trusted runtime")
	}

	prepared, err := PrepareSource(source, r.cfg.MaxScriptSizeKB)
	if err != nil {
		return nil, nil, err
	}

	feed, ch := newMessageFeed()
	r.nextRunID++
	sb := &Sandbox{
		id:      r.nextRunID,
		feed:    feed,
		limiter: r.limiter,
		audit:   r.cfg.Audit,
	}
	sb.limits.linesLeft.Store(int64(r.cfg.OutputLineLimit))
	sb.limits.charactersLeft.Store(r.cfg.OutputCharLimit)
	sb.limits.httpCallsLeft.Store(r.cfg.HTTPCallLimit)

	r.current = sb
	evalErr := r.rt.Eval("sandbox.run(" + strconv.Quote(prepared) + ");")
	r.rt.RunMicrotasks()
	r.current = nil

	if evalErr != nil {
		feed.close()
		return nil, nil, fmt.Errorf("invoking sandbox run: %w", evalErr)
	}
	return sb, ch, nil
}

// Tick runs one host cycle: the think entry point, then a full FIFO drain
// of every async completion queued so far. Each completion re-enters the
// interpreter exactly once and its future handle is released on every path,
// so a resolved future can never be resolved again and never leaks.
//
// An interpreter error aborts the tick and is returned; completions still
// queued stay queued for the next Tick.
func (r *Runtime) Tick() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("runtime is closed")
	}

	think := "bot.think();"
	if r.cfg.Sandboxed {
		think = "sandbox.think();"
	}
	if err := r.rt.Eval(think); err != nil {
		return fmt.Errorf("think: %w", err)
	}
	r.rt.RunMicrotasks()

	for {
		cb := r.bridge.tryPop()
		if cb == nil {
			return nil
		}
		if err := r.resolve(cb); err != nil {
			return err
		}
	}
}

// resolve delivers one completed callback into the interpreter and releases
// its future handle. Completions for terminated runs skip the interpreter
// but still release the handle.
func (r *Runtime) resolve(cb *pendingCallback) error {
	if cb.sandbox != nil && cb.sandbox.Terminated() {
		return r.futures.release(r.rt, cb.future)
	}

	values, err := cb.complete()
	succ := err == nil
	if !succ {
		values = []any{err.Error()}
	}
	if values == nil {
		values = []any{}
	}
	valuesJSON, jerr := json.Marshal(values)
	if jerr != nil {
		succ = false
		valuesJSON = []byte(`["encoding async result failed"]`)
	}

	var js string
	if cb.sandbox != nil {
		js = fmt.Sprintf(`(function() {
			var fut = globalThis.__asyncFutures[%d];
			if (fut) sandbox.async_callback(fut, %t, %s);
		})();`, cb.future, succ, valuesJSON)
		r.current = cb.sandbox
	} else {
		js = fmt.Sprintf(`(function() {
			var fut = globalThis.__asyncFutures[%d];
			if (!fut) return;
			var vals = %s;
			if (%t) {
				fut.__handleResolve(vals);
			} else {
				fut.__handleReject(vals.length ? vals[0] : 'async operation failed');
			}
		})();`, cb.future, valuesJSON, succ)
	}

	evalErr := r.rt.Eval(js)
	r.current = nil
	r.rt.RunMicrotasks()

	if relErr := r.futures.release(r.rt, cb.future); relErr != nil && evalErr == nil {
		evalErr = relErr
	}
	if evalErr != nil {
		return fmt.Errorf("delivering async result: %w", evalErr)
	}
	return nil
}

// PendingCallbacks reports completed native work not yet drained by Tick.
func (r *Runtime) PendingCallbacks() int { return r.bridge.size() }

// OutstandingFutures reports futures scheduled but not yet resolved.
func (r *Runtime) OutstandingFutures() int { return r.futures.outstanding() }

// Close releases the interpreter. Async work still in flight will complete
// on its own goroutines and queue harmlessly; it is never delivered.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.rt.Close()
}
