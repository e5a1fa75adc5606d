//go:build windows

package adapter

import (
	"context"

	"wstunnel/internal/config"
	"wstunnel/internal/wserr"
)

// StdioAdapter is unavailable on windows (spec.md §9); Listen always
// reports a ConfigError.
type StdioAdapter struct {
	Remote config.Destination
}

func (a *StdioAdapter) Listen(ctx context.Context, bind string) (<-chan Flow, <-chan error) {
	flows := make(chan Flow)
	errs := make(chan error, 1)
	close(flows)
	errs <- &wserr.ConfigError{Msg: "stdio:// is not supported on windows"}
	close(errs)
	return flows, errs
}
