package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// forceExit ends the process on a second interrupt. Tests replace it.
var forceExit = func() { os.Exit(130) }

// shutdownContext returns a context that is canceled on the first SIGINT or
// SIGTERM. A pending sign-in or a watch loop then unwinds normally, closing
// the credential store. A second signal calls forceExit. The returned stop
// function releases the signal handler and must be called when the command
// returns; once it does, signals no longer reach this context.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	finished := make(chan struct{})

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(finished)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("interrupted, shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("interrupted again, exiting now", slog.String("signal", sig.String()))
			forceExit()
		case <-done:
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() { close(done) })
		cancel()
		<-finished
	}

	return ctx, stop
}
