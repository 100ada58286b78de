package botbox

import (
	"fmt"
	"sync/atomic"
)

// SandboxLimits bounds what one untrusted run may consume. Counters only
// ever count down; exhaustion makes the offending capability call fail with
// a quota error, which scripts may catch like any other error.
type SandboxLimits struct {
	linesLeft      atomic.Int64
	charactersLeft atomic.Int64
	httpCallsLeft  atomic.Int64
}

// Sandbox is the execution context of one untrusted run: its message feed,
// quota counters, and a handle to the runtime-wide rate limiter. It is
// shared by reference between the run itself and any async completions the
// run scheduled, and stays alive until both are done with it.
type Sandbox struct {
	id              int64
	feed            *messageFeed
	instructionsRun atomic.Uint64
	limits          SandboxLimits
	limiter         *RateLimiter
	audit           *AuditStore
	terminated      atomic.Bool
}

// ID returns the run's identifier, unique per runtime.
func (s *Sandbox) ID() int64 { return s.id }

// Terminated reports whether the run has requested termination. Async
// completions belonging to a terminated run are dropped by the drain loop
// instead of re-entering the interpreter.
func (s *Sandbox) Terminated() bool { return s.terminated.Load() }

// InstructionsRun returns the advisory instruction counter maintained by
// the sandbox bootstrap.
func (s *Sandbox) InstructionsRun() uint64 { return s.instructionsRun.Load() }

// Close stops message delivery for this run. The host calls it once it has
// finished draining the receiver; later sends are silently dropped.
func (s *Sandbox) Close() { s.feed.close() }

// deliver sends a message to the host and records it in the audit store.
func (s *Sandbox) deliver(m Message) {
	s.feed.send(m)
	if s.audit != nil {
		s.audit.Record(s.id, m)
	}
}

// print forwards script output, charging the line and character quotas.
func (s *Sandbox) print(text string) error {
	if err := s.chargeOutput(text); err != nil {
		return err
	}
	s.deliver(Message{Kind: MessageOut, Text: text})
	return nil
}

// errorOut forwards a script-raised error line, charged like print.
func (s *Sandbox) errorOut(text string) error {
	if err := s.chargeOutput(text); err != nil {
		return err
	}
	s.deliver(Message{Kind: MessageError, Text: text})
	return nil
}

func (s *Sandbox) chargeOutput(text string) error {
	if s.limits.linesLeft.Add(-1) < 0 {
		return fmt.Errorf("output quota exceeded: line limit reached")
	}
	if s.limits.charactersLeft.Add(-int64(len(text))) < 0 {
		return fmt.Errorf("output quota exceeded: character limit reached")
	}
	return nil
}

// report delivers bootstrap-originated diagnostics (uncaught script errors,
// quota failures) without charging output quotas; otherwise an exhausted
// run could never tell its owner why it stopped.
func (s *Sandbox) report(text string) {
	s.deliver(Message{Kind: MessageError, Text: text})
}

// terminate validates the script-supplied reason against the closed set and
// emits the termination message. The runtime does not forcibly stop the
// run; the host is expected to stop ticking it.
func (s *Sandbox) terminate(reason string) error {
	var r TerminationReason
	switch reason {
	case "exec":
		r = ReasonExecutionQuota
	default:
		return fmt.Errorf("unknown termination reason: %q", reason)
	}
	s.terminated.Store(true)
	s.deliver(Message{Kind: MessageTerminated, Reason: r})
	return nil
}

// sandboxJS is the untrusted bootstrap: the script-facing sandbox object,
// the run/think entry points, and the async_callback hook the drain loop
// routes sandboxed resolutions through. The raw report hook is captured and
// removed from globals so user code cannot write to the host outside the
// quota-checked surface.
//
// The engine exposes no bytecode-step hook, so instructions_run is advisory:
// the bootstrap bumps it once per entry into user code.
const sandboxJS = `
(function() {
	var report = globalThis.__sbReport;
	delete globalThis.__sbReport;

	var sandbox = {};
	sandbox.print = function(text) { __sbPrint(String(text)); };
	sandbox.error = function(text) { __sbError(String(text)); };
	sandbox.get_instructions_run = function() { return __sbGetInstructions(); };
	sandbox.set_instructions_run = function(n) { __sbSetInstructions(n | 0); };
	sandbox.terminate = function(reason) { __sbTerminate(String(reason)); };
	sandbox.http_fetch = function(url, options) {
		var fut = async.__newFuture();
		var id = __sbFetch(String(url), JSON.stringify(options || {}));
		globalThis.__asyncFutures[id] = fut;
		return fut;
	};

	sandbox.run = function(source) {
		sandbox.set_instructions_run(sandbox.get_instructions_run() + 1);
		var fn;
		try {
			fn = new Function('sandbox', 'async', 'os', source);
		} catch (e) {
			report('' + e);
			return;
		}
		try {
			fn(sandbox, globalThis.async, globalThis.os);
		} catch (e) {
			report('' + e);
		}
	};

	sandbox.think = function() {};

	sandbox.async_callback = function(fut, succ, values) {
		sandbox.set_instructions_run(sandbox.get_instructions_run() + 1);
		try {
			if (succ) {
				fut.__handleResolve(values);
			} else {
				fut.__handleReject(values && values.length ? values[0] : 'async operation failed');
			}
		} catch (e) {
			report('' + e);
		}
	};

	globalThis.sandbox = sandbox;
})();
`

// setupSandboxLib registers the Go half of the sandbox capability surface
// and evaluates the untrusted bootstrap. Every registered function resolves
// "the current sandbox" through the runtime's ambient slot, which is set
// for exactly the duration of one run invocation or one resolution call.
func setupSandboxLib(r *Runtime) error {
	needSandbox := func() (*Sandbox, error) {
		if r.current == nil {
			return nil, fmt.Errorf("no active sandbox run")
		}
		return r.current, nil
	}

	if err := r.rt.RegisterFunc("__sbPrint", func(text string) (bool, error) {
		sb, err := needSandbox()
		if err != nil {
			return false, err
		}
		return true, sb.print(text)
	}); err != nil {
		return err
	}

	if err := r.rt.RegisterFunc("__sbError", func(text string) (bool, error) {
		sb, err := needSandbox()
		if err != nil {
			return false, err
		}
		return true, sb.errorOut(text)
	}); err != nil {
		return err
	}

	if err := r.rt.RegisterFunc("__sbReport", func(text string) (bool, error) {
		sb, err := needSandbox()
		if err != nil {
			return false, err
		}
		sb.report(text)
		return true, nil
	}); err != nil {
		return err
	}

	if err := r.rt.RegisterFunc("__sbTerminate", func(reason string) (bool, error) {
		sb, err := needSandbox()
		if err != nil {
			return false, err
		}
		return true, sb.terminate(reason)
	}); err != nil {
		return err
	}

	if err := r.rt.RegisterFunc("__sbGetInstructions", func() (int, error) {
		sb, err := needSandbox()
		if err != nil {
			return 0, err
		}
		return int(sb.instructionsRun.Load()), nil
	}); err != nil {
		return err
	}

	if err := r.rt.RegisterFunc("__sbSetInstructions", func(n int) (bool, error) {
		sb, err := needSandbox()
		if err != nil {
			return false, err
		}
		if n < 0 {
			n = 0
		}
		sb.instructionsRun.Store(uint64(n))
		return true, nil
	}); err != nil {
		return err
	}

	if err := registerHTTPFetch(r); err != nil {
		return err
	}

	return r.rt.Eval(sandboxJS)
}
