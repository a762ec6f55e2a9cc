package lib

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// SignalContext returns a context that is canceled on the first SIGINT or
// SIGTERM. A second signal terminates the process immediately.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC,
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	go func() {
		defer signal.Stop(sigC)
		select {
		case <-ctx.Done():
			return
		case sig := <-sigC:
			log.Infof("Received %s, canceling...", sig)
			cancel()
		}
		select {
		case <-sigC:
			os.Exit(130)
		case <-parent.Done():
		}
	}()

	return ctx, cancel
}
