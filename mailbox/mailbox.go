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

// Package mailbox adapts a mangos socket into the reactor.Pollable
// contract: a readiness descriptor plus non-blocking receives.  mangos
// sockets have no descriptor of their own, so the mailbox supplies one
// (an eventfd on Linux, a self-pipe elsewhere) and a small queue
// behind it.
//
// The descriptor is edge flavored: it is raised once when the queue
// goes from empty to non-empty and lowered when the queue empties, so
// a single readiness event may stand for many queued messages.  The
// reactor core's bounded drain is built for exactly that shape.
//
// Messages normally move from the socket to the queue on a pump
// goroutine.  With OptionManualPump no goroutine is started and the
// application transfers messages itself by calling Pump, typically
// from a reaper hook, which keeps everything on one thread.
//
// The wrapped socket always belongs to the caller.  Closing the
// mailbox stops pumping and releases the descriptor but never touches
// the socket.  One caution for cooked REP sockets: reply routing rides
// in the header of the request, so send the reply on the received
// message (or one that keeps its header).  A reply built from scratch
// has nowhere to go.
package mailbox

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"nanomsg.org/go/mangos/v2"

	"nanomsg.org/go/reactor"
)

// Options understood by New.
const (
	// OptionQueueLimit is an int bounding how many received messages
	// the mailbox holds.  A full mailbox stalls the pump until the
	// reader catches up.  Default 128.
	OptionQueueLimit = "QUEUE-LIMIT"

	// OptionManualPump is a bool.  When true no pump goroutine is
	// started and the application moves messages with Pump.
	OptionManualPump = "MANUAL-PUMP"

	// OptionPumpInterval is a time.Duration used as the pump
	// goroutine's receive deadline, bounding how long a Close can
	// take to be observed.  Default 100ms.
	OptionPumpInterval = "PUMP-INTERVAL"

	// OptionLogger supplies a zerolog.Logger for mailbox diagnostics.
	// The default discards everything.
	OptionLogger = "LOGGER"
)

const (
	defaultQueueLimit   = 128
	defaultPumpInterval = time.Millisecond * 100

	// pumpPoll is the receive deadline for one manual Pump pass.
	// mangos treats a deadline of zero or less as "block forever",
	// so near zero positive is the non-blocking form.
	pumpPoll = time.Millisecond
)

// Mailbox wraps a mangos.Socket and implements reactor.Pollable.
// Create one with New and attach it to a loop with reactor.Attach.
type Mailbox struct {
	sync.Mutex
	cond     *sync.Cond
	s        mangos.Socket
	sig      *signaler
	q        *queue.Queue
	limit    int
	manual   bool
	interval time.Duration
	closed   bool
	done     chan struct{}
	log      zerolog.Logger
}

// New wraps sock.  The socket stays the caller's to close.  Unless
// OptionManualPump is set, New adjusts the socket's receive deadline
// and starts the pump goroutine; the owner should leave the deadline
// alone for the life of the mailbox.
func New(sock mangos.Socket, opts map[string]interface{}) (*Mailbox, error) {
	if sock == nil {
		return nil, reactor.ErrBadArg
	}
	m := &Mailbox{
		s:        sock,
		q:        queue.New(),
		limit:    defaultQueueLimit,
		interval: defaultPumpInterval,
		done:     make(chan struct{}),
		log:      zerolog.Nop(),
	}
	m.cond = sync.NewCond(&m.Mutex)
	for name, value := range opts {
		switch name {
		case OptionQueueLimit:
			v, ok := value.(int)
			if !ok || v <= 0 {
				return nil, reactor.ErrBadValue
			}
			m.limit = v
		case OptionManualPump:
			v, ok := value.(bool)
			if !ok {
				return nil, reactor.ErrBadValue
			}
			m.manual = v
		case OptionPumpInterval:
			v, ok := value.(time.Duration)
			if !ok || v <= 0 {
				return nil, reactor.ErrBadValue
			}
			m.interval = v
		case OptionLogger:
			v, ok := value.(zerolog.Logger)
			if !ok {
				return nil, reactor.ErrBadValue
			}
			m.log = v
		default:
			return nil, reactor.ErrBadOption
		}
	}
	sig, err := newSignaler()
	if err != nil {
		return nil, err
	}
	m.sig = sig
	if m.manual {
		// No pump to wait for at Close.
		close(m.done)
		return m, nil
	}
	if err = sock.SetOption(mangos.OptionRecvDeadline, m.interval); err != nil {
		_ = sig.close()
		return nil, err
	}
	go m.pump()
	return m, nil
}

// pump moves messages from the socket into the queue until the mailbox
// closes.  The receive deadline set at New bounds each wait, so a
// Close is observed within one interval.  Receive failures other than
// the deadline end the pump; the rest of the mailbox stays usable.
func (m *Mailbox) pump() {
	defer close(m.done)
	for {
		msg, err := m.s.RecvMsg()
		m.Lock()
		closed := m.closed
		log := m.log
		m.Unlock()
		if closed {
			if msg != nil {
				msg.Free()
			}
			return
		}
		if err == mangos.ErrRecvTimeout {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("mailbox pump receive failed, stopping")
			return
		}
		m.put(msg)
	}
}

// put appends one message, raising the descriptor on the empty to
// non-empty transition.  A full queue stalls here until the reader
// makes room or the mailbox closes.
func (m *Mailbox) put(msg *mangos.Message) {
	m.Lock()
	for m.q.Length() >= m.limit && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		m.Unlock()
		msg.Free()
		return
	}
	empty := m.q.Length() == 0
	m.q.Add(msg)
	var err error
	if empty {
		err = m.sig.raise()
	}
	log := m.log
	m.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("mailbox readiness signal failed")
	}
}

// Pump transfers up to max messages from the socket into the mailbox
// and reports how many moved.  It stands in for the pump goroutine on
// a mailbox created with OptionManualPump; on any other mailbox it
// returns ErrNotSup.  Pump stops early when nothing more is queued on
// the socket or the mailbox is full, and is meant to be driven from a
// single goroutine, typically a reaper hook.
func (m *Mailbox) Pump(max int) (int, error) {
	if m == nil || max <= 0 {
		return 0, reactor.ErrBadArg
	}
	m.Lock()
	if m.closed {
		m.Unlock()
		return 0, reactor.ErrClosed
	}
	if !m.manual {
		m.Unlock()
		return 0, reactor.ErrNotSup
	}
	sock := m.s
	m.Unlock()

	if err := sock.SetOption(mangos.OptionRecvDeadline, pumpPoll); err != nil {
		return 0, err
	}
	moved := 0
	for moved < max {
		m.Lock()
		stop := m.closed || m.q.Length() >= m.limit
		m.Unlock()
		if stop {
			break
		}
		msg, err := sock.RecvMsg()
		if err == mangos.ErrRecvTimeout {
			break
		}
		if err != nil {
			return moved, err
		}
		m.put(msg)
		moved++
	}
	return moved, nil
}

// PollDescriptor returns the readiness descriptor.  It stays valid
// until Close.
func (m *Mailbox) PollDescriptor() (int, error) {
	if m == nil {
		return -1, reactor.ErrBadArg
	}
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return -1, reactor.ErrClosed
	}
	return m.sig.fd(), nil
}

// PollEvents reports readiness from live queue depth without consuming
// anything: PollIn while a message is queued, and PollOut always,
// since sends are forwarded rather than queued here.
func (m *Mailbox) PollEvents() (reactor.PollEvents, error) {
	if m == nil {
		return 0, reactor.ErrBadArg
	}
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return 0, reactor.ErrClosed
	}
	ev := reactor.PollOut
	if m.q.Length() > 0 {
		ev |= reactor.PollIn
	}
	return ev, nil
}

// RecvMsg removes and returns the oldest queued message.  It never
// blocks; an empty mailbox reports ErrWouldBlock, which ends a drain.
// The descriptor is lowered when the last message leaves, so the next
// arrival raises a fresh edge.
func (m *Mailbox) RecvMsg() (*mangos.Message, error) {
	if m == nil {
		return nil, reactor.ErrBadArg
	}
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return nil, reactor.ErrClosed
	}
	if m.q.Length() == 0 {
		return nil, reactor.ErrWouldBlock
	}
	msg := m.q.Remove().(*mangos.Message)
	if m.q.Length() == 0 {
		m.sig.lower()
	}
	m.cond.Signal()
	return msg, nil
}

// SendMsg forwards msg to the wrapped socket, which assumes ownership.
// Sends are not queued by the mailbox; the socket's own send deadline
// governs blocking.
func (m *Mailbox) SendMsg(msg *mangos.Message) error {
	if m == nil {
		return reactor.ErrBadArg
	}
	m.Lock()
	if m.closed {
		m.Unlock()
		return reactor.ErrClosed
	}
	sock := m.s
	m.Unlock()
	return sock.SendMsg(msg)
}

// Close stops the pump, frees any queued messages, and releases the
// readiness descriptor.  Detach the mailbox from its loop first; the
// descriptor dies here.  The wrapped socket is untouched and remains
// usable.  A second Close returns ErrClosed.
func (m *Mailbox) Close() error {
	if m == nil {
		return reactor.ErrBadArg
	}
	m.Lock()
	if m.closed {
		m.Unlock()
		return reactor.ErrClosed
	}
	m.closed = true
	m.cond.Broadcast()
	m.Unlock()

	// The pump sees the flag within one receive deadline.
	<-m.done

	m.Lock()
	for m.q.Length() > 0 {
		m.q.Remove().(*mangos.Message).Free()
	}
	err := m.sig.close()
	log := m.log
	m.Unlock()
	if err != nil {
		log.Debug().Err(err).Msg("mailbox signaler close failed")
	}
	return nil
}

// Socket returns the wrapped socket, which outlives the mailbox.
func (m *Mailbox) Socket() mangos.Socket {
	if m == nil {
		return nil
	}
	m.Lock()
	defer m.Unlock()
	return m.s
}
