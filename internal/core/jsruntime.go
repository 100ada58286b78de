// Package core defines the engine-neutral contracts shared by the runtime
// host and the JS engine implementation.
package core

// JSRuntime abstracts the JavaScript engine behind the small surface the
// runtime host needs. All methods must be called from the host thread that
// owns the runtime; implementations are not safe for concurrent use.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function's Go types are automatically marshaled to/from JS types.
	// A (T, error) return is unwrapped on the JS side: on error the wrapper
	// throws a TypeError instead of returning an array.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS values.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	RunMicrotasks()

	// Close releases the engine and all values it owns.
	Close()
}
