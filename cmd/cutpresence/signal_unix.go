// Unix/Darwin signal handling.
//
// SIGINT and SIGTERM stop the daemon gracefully (launchd and process
// managers send SIGTERM). SIGHUP asks for an immediate refresh.

//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// ///////////////////////////////////////////////
// Signal Handling
// ///////////////////////////////////////////////

// daemonSignals delivers shutdown and refresh requests.
type daemonSignals struct {
	shutdown chan os.Signal
	refresh  chan os.Signal
}

// notifySignals subscribes to the daemon's signals. The buffers of 1 keep a
// signal from being lost while the receiver is busy.
func notifySignals() *daemonSignals {
	s := &daemonSignals{
		shutdown: make(chan os.Signal, 1),
		refresh:  make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	signal.Notify(s.refresh, syscall.SIGHUP)
	return s
}

// stop unsubscribes both channels.
func (s *daemonSignals) stop() {
	signal.Stop(s.shutdown)
	signal.Stop(s.refresh)
}
