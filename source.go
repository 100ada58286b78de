package botbox

import (
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// PrepareSource validates an untrusted script before it is handed to the
// interpreter: a size cap, then a syntax check via esbuild. Catching syntax
// errors here means a broken script never consumes a run at all, and the
// error text carries a line number the interpreter would not give us.
//
// The original source is returned unchanged; the transform output is only
// used for validation so the interpreter sees exactly what the author wrote.
func PrepareSource(source string, maxKB int) (string, error) {
	if maxKB > 0 && len(source) > maxKB*1024 {
		return "", fmt.Errorf("script too large: %d bytes (limit %d KB)", len(source), maxKB)
	}

	// Scripts run as function bodies, where top-level return is legal.
	// Wrap for validation so esbuild parses under the same rules.
	wrapped := "(function(sandbox, async, os) {\n" + source + "\n})"

	result := esbuild.Transform(wrapped, esbuild.TransformOptions{
		Loader: esbuild.LoaderJS,
		Target: esbuild.ES2022,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			if e.Location != nil {
				// Offset for the wrapper line added above.
				msgs = append(msgs, fmt.Sprintf("line %d: %s", e.Location.Line-1, e.Text))
			} else {
				msgs = append(msgs, e.Text)
			}
		}
		return "", fmt.Errorf("script syntax error: %s", strings.Join(msgs, "; "))
	}

	return source, nil
}
