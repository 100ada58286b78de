package botbox

import (
	"strings"
	"testing"
	"time"
)

func TestSandbox_PrintDeliversOutput(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	msgs := runAndDrain(t, r, `sandbox.print("hello"); sandbox.print("world");`)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %v", len(msgs), msgs)
	}
	if msgs[0].Kind != MessageOut || msgs[0].Text != "hello" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Kind != MessageOut || msgs[1].Text != "world" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestSandbox_ErrorDeliversErrorKind(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	msgs := runAndDrain(t, r, `sandbox.error("bad input");`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Kind != MessageError || msgs[0].Text != "bad input" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestSandbox_LineQuota(t *testing.T) {
	r := newSandboxRuntime(t, Config{OutputLineLimit: 10})

	source := `
		for (var i = 0; i < 12; i++) {
			sandbox.print("line " + i);
		}
		sandbox.print("never");
	`
	msgs := runAndDrain(t, r, source)

	var outs, errs int
	for _, m := range msgs {
		switch m.Kind {
		case MessageOut:
			outs++
		case MessageError:
			errs++
		}
	}
	if outs != 10 {
		t.Errorf("delivered %d output lines, want exactly 10", outs)
	}
	if errs != 1 {
		t.Fatalf("delivered %d errors, want 1: %v", errs, msgs)
	}
	last := msgs[len(msgs)-1]
	if last.Kind != MessageError || !strings.Contains(last.Text, "line limit") {
		t.Errorf("final message = %+v, want a line-quota error", last)
	}
}

func TestSandbox_CharacterQuota(t *testing.T) {
	r := newSandboxRuntime(t, Config{OutputCharLimit: 100})

	source := `
		var s = '';
		for (var i = 0; i < 200; i++) s += 'x';
		sandbox.print(s);
	`
	msgs := runAndDrain(t, r, source)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1: %v", len(msgs), msgs)
	}
	if msgs[0].Kind != MessageError || !strings.Contains(msgs[0].Text, "character limit") {
		t.Errorf("message = %+v, want a character-quota error", msgs[0])
	}
}

func TestSandbox_QuotaErrorIsCatchable(t *testing.T) {
	r := newSandboxRuntime(t, Config{OutputLineLimit: 1})

	source := `
		sandbox.print("one");
		try {
			sandbox.print("two");
		} catch (e) {
			globalThis.caught = ('' + e).indexOf('quota') !== -1;
		}
	`
	runAndDrain(t, r, source)

	caught, err := r.Engine().EvalBool("globalThis.caught")
	if err != nil {
		t.Fatalf("EvalBool: %v", err)
	}
	if !caught {
		t.Error("script should be able to catch its own quota error")
	}
}

func TestSandbox_Terminate(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	sb, ch, err := r.RunSandboxed(`sandbox.print("bye"); sandbox.terminate("exec");`)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}
	if !sb.Terminated() {
		t.Error("sandbox should report terminated")
	}
	sb.Close()

	var msgs []Message
	for m := range ch {
		msgs = append(msgs, m)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %v", len(msgs), msgs)
	}
	if msgs[1].Kind != MessageTerminated || msgs[1].Reason != ReasonExecutionQuota {
		t.Errorf("final message = %+v, want termination with execution quota", msgs[1])
	}
}

func TestSandbox_UnknownTerminationReason(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	msgs := runAndDrain(t, r, `sandbox.terminate("whatever");`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1: %v", len(msgs), msgs)
	}
	if msgs[0].Kind != MessageError || !strings.Contains(msgs[0].Text, "unknown termination reason") {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestSandbox_ScriptErrorReported(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	msgs := runAndDrain(t, r, `throw new Error("boom");`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1: %v", len(msgs), msgs)
	}
	if msgs[0].Kind != MessageError || !strings.Contains(msgs[0].Text, "boom") {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestSandbox_SyntaxErrorRejectedBeforeRunning(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	_, _, err := r.RunSandboxed("var x = ;")
	if err == nil {
		t.Fatal("syntax error should fail RunSandboxed")
	}
	if !strings.Contains(err.Error(), "syntax") {
		t.Errorf("error %q should mention syntax", err)
	}
}

func TestSandbox_OversizeScriptRejected(t *testing.T) {
	r := newSandboxRuntime(t, Config{MaxScriptSizeKB: 1})

	_, _, err := r.RunSandboxed("var s = '" + strings.Repeat("x", 2048) + "';")
	if err == nil {
		t.Fatal("oversize script should fail RunSandboxed")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("error %q should mention size", err)
	}
}

func TestSandbox_InstructionCounter(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	sb, ch, err := r.RunSandboxed(`
		var n = sandbox.get_instructions_run();
		sandbox.set_instructions_run(n + 5);
	`)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}
	sb.Close()
	for range ch {
	}

	// The bootstrap charges 1 for the run entry, the script adds 5.
	if got := sb.InstructionsRun(); got != 6 {
		t.Errorf("InstructionsRun = %d, want 6", got)
	}
}

func TestSandbox_FreshQuotasPerRun(t *testing.T) {
	r := newSandboxRuntime(t, Config{OutputLineLimit: 2})

	first := runAndDrain(t, r, `sandbox.print("a"); sandbox.print("b");`)
	if len(first) != 2 {
		t.Fatalf("first run: got %d messages, want 2", len(first))
	}

	// A second run must start with a full line quota of its own.
	second := runAndDrain(t, r, `sandbox.print("c"); sandbox.print("d");`)
	if len(second) != 2 {
		t.Fatalf("second run: got %d messages, want 2", len(second))
	}
	for _, m := range second {
		if m.Kind != MessageOut {
			t.Errorf("second run message = %+v, want output", m)
		}
	}
}

func TestSandbox_DelayResolutionReentersRun(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	sb, ch, err := r.RunSandboxed(`
		async.delay(0.02).andThen(function() {
			sandbox.print("later");
		});
	`)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}

	tickUntil(t, r, 2*time.Second, func() bool {
		return r.OutstandingFutures() == 0
	})
	sb.Close()

	var msgs []Message
	for m := range ch {
		msgs = append(msgs, m)
	}
	if len(msgs) != 1 || msgs[0].Text != "later" {
		t.Errorf("messages = %v, want one deferred print", msgs)
	}
}

func TestSandbox_TerminateFromDelayContinuation(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	sb, ch, err := r.RunSandboxed(`
		async.delay(0.01).andThen(function() {
			sandbox.terminate("exec");
		});
	`)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}

	tickUntil(t, r, 2*time.Second, func() bool {
		return sb.Terminated()
	})
	sb.Close()

	var msgs []Message
	for m := range ch {
		msgs = append(msgs, m)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1: %v", len(msgs), msgs)
	}
	if msgs[0].Kind != MessageTerminated || msgs[0].Reason != ReasonExecutionQuota {
		t.Errorf("message = %+v, want termination with execution quota", msgs[0])
	}
}

func TestSandbox_ConcurrentTimersAllRelease(t *testing.T) {
	r := newSandboxRuntime(t, Config{OutputLineLimit: 20})

	sb, ch, err := r.RunSandboxed(`
		for (var i = 0; i < 5; i++) {
			(function(n) {
				async.delay(0.01 + n * 0.005).andThen(function() {
					sandbox.print("t" + n);
				});
			})(i);
		}
	`)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}
	if got := r.OutstandingFutures(); got != 5 {
		t.Fatalf("outstanding futures = %d, want 5", got)
	}

	tickUntil(t, r, 2*time.Second, func() bool {
		return r.OutstandingFutures() == 0
	})
	sb.Close()

	count := 0
	for m := range ch {
		if m.Kind != MessageOut {
			t.Errorf("unexpected message: %+v", m)
		}
		count++
	}
	if count != 5 {
		t.Errorf("delivered %d timer outputs, want 5", count)
	}
}

func TestSandbox_LateResolutionAfterTerminationDropped(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	sb, ch, err := r.RunSandboxed(`
		async.delay(0.02).andThen(function() {
			sandbox.print("should not appear");
		});
		sandbox.terminate("exec");
	`)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if err := r.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := r.OutstandingFutures(); got != 0 {
		t.Errorf("outstanding futures = %d, want 0 (handle released on drop)", got)
	}
	sb.Close()

	for m := range ch {
		if m.Kind == MessageOut {
			t.Errorf("terminated run still delivered output: %+v", m)
		}
	}
}

func TestSandbox_NoGlobalLeakBetweenBootstrapAndScript(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	msgs := runAndDrain(t, r, `
		sandbox.print(typeof globalThis.__sbReport);
	`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Text != "undefined" {
		t.Errorf("__sbReport visible to scripts: %q", msgs[0].Text)
	}
}

func TestSandbox_CapabilityCallsOutsideRunFail(t *testing.T) {
	r := newSandboxRuntime(t, Config{})

	err := r.Engine().Eval(`__sbPrint("orphan");`)
	if err == nil {
		t.Fatal("capability call outside a run should throw")
	}
	if !strings.Contains(err.Error(), "no active sandbox run") {
		t.Errorf("error %q should mention missing run", err)
	}
}
