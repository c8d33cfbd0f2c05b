//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package poller

import "fmt"

func open(cfg Config) (Poller, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Kind)
}
