package botbox

import (
	"testing"
	"time"
)

// newTrustedRuntime creates a trusted runtime and registers cleanup.
func newTrustedRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	cfg.Sandboxed = false
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

// newSandboxRuntime creates a sandboxed runtime and registers cleanup.
func newSandboxRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	cfg.Sandboxed = true
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

// runAndDrain starts a sandboxed run, closes it, and collects every message
// it produced.
func runAndDrain(t *testing.T, r *Runtime, source string) []Message {
	t.Helper()
	sb, ch, err := r.RunSandboxed(source)
	if err != nil {
		t.Fatalf("RunSandboxed: %v", err)
	}
	sb.Close()
	var msgs []Message
	for m := range ch {
		msgs = append(msgs, m)
	}
	return msgs
}

// tickUntil ticks the runtime until cond is true or the deadline passes.
func tickUntil(t *testing.T, r *Runtime, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		if err := r.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
