// Copyright 2019 The Mangos Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package reactor integrates message oriented sockets, such as those
// provided by mangos, into a single threaded cooperative event loop.
//
// Applications that already run an event loop for their other I/O often
// cannot afford one goroutine per socket just to learn that a message
// has arrived.  This package bridges the two worlds with a small
// adapter, the Handle: it registers a socket's readiness descriptor
// with the loop, and when the descriptor signals, drains the socket
// with bounded, non-blocking receives, delivering each message to an
// application supplied Handler on the loop goroutine.
//
// The readiness descriptor is edge style: it signals once per burst of
// arriving messages, not once per message, so a single event may stand
// for many queued messages.  The Handle's drain discipline (receive
// until would-block, bounded per invocation, with periodic readiness
// re-checks) exists to service such bursts without starving the rest
// of the loop's workload.
//
// The Handle never owns the loop or the socket it is given.  Both are
// created and destroyed by the application; freeing a Handle leaves the
// wrapped socket untouched and immediately usable.
//
// The loop subpackage provides a ready made Loop implementation, and
// the mailbox subpackage adapts a mangos.Socket into the Pollable this
// package consumes.  Any implementations of those contracts work just
// as well.
package reactor

import (
	"time"

	"nanomsg.org/go/mangos/v2"
)

// PollEvents is a bit mask of readiness conditions on a descriptor.
type PollEvents int

// Readiness conditions.  PollOut is defined for completeness of the
// Pollable contract; the Handle only ever subscribes to PollIn.
const (
	PollIn PollEvents = 1 << iota
	PollOut
	PollErr
)

// PollFunc is invoked by a Loop, on the loop goroutine, with the mask
// of conditions that triggered it.
type PollFunc func(events PollEvents)

// Poll is a single registration of a descriptor with a Loop.  It is
// created disarmed; Start arms it for the given conditions.  Close
// detaches asynchronously: the registration is disarmed at once, but
// the done callback runs later, on the loop goroutine, once the loop
// has let go of the registration entirely.  A Loop must deliver every
// completion eventually, even if it stops running first.
type Poll interface {
	Start(events PollEvents) error
	Stop() error
	Close(done func()) error
}

// Timer is a scheduled callback on a Loop.  Stop cancels it; a stopped
// timer never fires again.
type Timer interface {
	Stop() error
}

// Loop is the event loop contract the adapter consumes: descriptor
// polling with callbacks, and timers for periodic work such as the
// Reaper.  The loop subpackage implements it; embedders with their own
// loop supply their own implementation.
//
// Callbacks, timer functions and Poll close completions must all be
// invoked on the single goroutine driving the loop.
type Loop interface {
	// AddPoll registers fd and returns its disarmed registration.
	AddPoll(fd int, fn PollFunc) (Poll, error)

	// AddTimer schedules fn after initial, and then every repeat if
	// repeat is positive.  A zero initial fires on the next loop
	// iteration.
	AddTimer(initial, repeat time.Duration, fn func()) (Timer, error)
}

// Pollable is the socket side contract: a message socket that exposes
// an OS readiness descriptor.  The mailbox subpackage implements it
// for mangos sockets.
type Pollable interface {
	// PollDescriptor returns the descriptor whose readable state
	// signals pending work.  It is queried once, when a Handle is
	// attached, and must remain valid for the life of the socket.
	PollDescriptor() (int, error)

	// PollEvents reports current readiness without consuming a
	// message.  Used by the drain loop to exit early once a burst
	// is exhausted.
	PollEvents() (PollEvents, error)

	// RecvMsg performs a non-blocking receive.  It returns
	// ErrWouldBlock when no message is queued.
	RecvMsg() (*mangos.Message, error)

	// SendMsg sends a message, subject to the socket's own
	// semantics.  Handlers may use it to forward or echo a received
	// message without copying.
	SendMsg(*mangos.Message) error
}

// Handler receives messages drained from a Pollable.  It runs on the
// loop goroutine, so it may touch loop-confined state freely, and it
// must not block.  Ownership of the message transfers to the handler:
// it must either call Free on the message or pass it onward, for
// example via SendMsg.
type Handler interface {
	HandleMessage(h *Handle, m *mangos.Message)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(h *Handle, m *mangos.Message)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(h *Handle, m *mangos.Message) {
	f(h, m)
}
