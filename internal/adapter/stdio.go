//go:build !windows

package adapter

import (
	"context"
	"os"

	"wstunnel/internal/config"
)

// StdioAdapter produces exactly one Flow wrapping the process's own
// stdin/stdout, for use as the far end of a pipe (e.g. an SSH
// ProxyCommand). Only meaningful on unix, per spec.md §9.
type StdioAdapter struct {
	Remote config.Destination
}

type stdioDuplex struct{}

func (stdioDuplex) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioDuplex) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioDuplex) Close() error {
	os.Stdin.Close()
	return os.Stdout.Close()
}

func (a *StdioAdapter) Listen(ctx context.Context, bind string) (<-chan Flow, <-chan error) {
	flows := make(chan Flow, 1)
	errs := make(chan error)
	flows <- Flow{Duplex: stdioDuplex{}, Dest: a.Remote}
	close(flows)

	go func() {
		<-ctx.Done()
		close(errs)
	}()
	return flows, errs
}
