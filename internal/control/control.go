// Package control carries Start/Stop commands from the command surfaces
// (JSON-RPC, MQTT) to the sampler.
package control

import (
	"fmt"
	"sync"
)

// Signal is a sampling command.
type Signal int

const (
	Start Signal = iota
	Stop
)

func (s Signal) String() string {
	switch s {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// Mailbox holds at most one unread Signal. A Send replaces any value that
// has not been received yet; commands are intents, not an event log.
type Mailbox struct {
	mu sync.Mutex
	ch chan Signal
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Signal, 1)}
}

// Send stores s, overwriting an unread signal. It never blocks.
func (m *Mailbox) Send(s Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.ch:
	default:
	}
	m.ch <- s
}

// C returns the channel the receiver selects on.
func (m *Mailbox) C() <-chan Signal {
	return m.ch
}

// TryReceive returns the pending signal, if any, without blocking.
func (m *Mailbox) TryReceive() (Signal, bool) {
	select {
	case s := <-m.ch:
		return s, true
	default:
		return 0, false
	}
}
