package health

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
)

// Binary returns a [Checker] that passes when the executable at path can be
// resolved (via PATH when path has no separator).
func Binary(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("%s not found: %w", path, err)
			}
			return nil
		},
	}
}

// ErrNotReady is reported by a [Ready] checker whose ready func returns false.
var ErrNotReady = errors.New("not ready")

// Ready returns a [Checker] that passes while ready reports true. It suits
// state that is tracked elsewhere, such as whether the Discord gateway
// session has finished its handshake.
func Ready(name string, ready func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ready() {
				return ErrNotReady
			}
			return nil
		},
	}
}

// Backends returns a [Checker] over circuit-breaker states keyed by backend
// name. It fails when every backend is "open", since no search can be served,
// and reports [Degraded] when only some are.
func Backends(name string, states func() map[string]string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			var open []string
			for _, k := range slices.Sorted(maps.Keys(st)) {
				if st[k] == "open" {
					open = append(open, k)
				}
			}
			switch {
			case len(open) == 0:
				return nil
			case len(open) == len(st):
				return fmt.Errorf("all backends unavailable: %s", strings.Join(open, ", "))
			default:
				return Degraded(fmt.Errorf("backends unavailable: %s", strings.Join(open, ", ")))
			}
		},
	}
}
