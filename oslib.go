package botbox

import "time"

// osJS exposes the small safe subset of host facilities scripts may use.
const osJS = `
(function() {
	var os = {};
	os.time = function() { return __osTime(); };
	os.clock = function() { return __osClock(); };
	globalThis.os = os;
})();
`

// setupOSLib registers the os namespace: wall-clock seconds and a
// monotonic process clock. Nothing else from the host environment is
// reachable from scripts.
func setupOSLib(r *Runtime) error {
	start := time.Now()

	if err := r.rt.RegisterFunc("__osTime", func() (int, error) {
		return int(time.Now().Unix()), nil
	}); err != nil {
		return err
	}

	if err := r.rt.RegisterFunc("__osClock", func() (float64, error) {
		return time.Since(start).Seconds(), nil
	}); err != nil {
		return err
	}

	return r.rt.Eval(osJS)
}
