package run

import (
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/stagehand-dev/stagehand/internal/app"
)

// ShutdownGuard converts termination signals into a flag the sequencer
// polls at stage boundaries. In-flight stages finish; the ledger entry of
// an interrupted run is marked stale by the sequencer, so reconciliation
// and cleanup can find it later. A second signal exits immediately.
type ShutdownGuard struct {
	requested atomic.Bool
	sigCh     chan os.Signal
	stopCh    chan struct{}
	doneCh    chan struct{}
	log       app.Logger
}

func NewShutdownGuard(log app.Logger) *ShutdownGuard {
	if log == nil {
		log = app.NopLogger{}
	}
	g := &ShutdownGuard{
		sigCh:  make(chan os.Signal, 2),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		log:    log,
	}
	signal.Notify(g.sigCh, signalsToHandle()...)
	go g.watch()
	return g
}

func (g *ShutdownGuard) watch() {
	defer close(g.doneCh)
	for {
		select {
		case sig := <-g.sigCh:
			if g.requested.Swap(true) {
				g.log.Error("second %v, exiting immediately", sig)
				os.Exit(app.ExitFatal)
			}
			g.log.Warn("received %v, finishing the current stage before stopping", sig)
		case <-g.stopCh:
			return
		}
	}
}

// Requested reports whether a shutdown signal has arrived
func (g *ShutdownGuard) Requested() bool {
	return g.requested.Load()
}

// Stop releases the signal handler and ends the watch goroutine
func (g *ShutdownGuard) Stop() {
	signal.Stop(g.sigCh)
	close(g.stopCh)
	<-g.doneCh
}
