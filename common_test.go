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

package reactor

import (
	"time"

	"nanomsg.org/go/mangos/v2"
)

// The fakes below stand in for a Loop and a Pollable so the adapter
// can be exercised without descriptors or goroutines.  Tests drive
// everything from one goroutine: readiness is fired by calling the
// registered callback, and asynchronous close completions are
// delivered by flush, standing in for the end of a loop iteration.

type fakeLoop struct {
	polls       map[int]*fakePoll
	timers      []*fakeTimer
	completions []func()
	addPollErr  error
	addTimerErr error
	startErr    error
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{polls: make(map[int]*fakePoll)}
}

func (l *fakeLoop) AddPoll(fd int, fn PollFunc) (Poll, error) {
	if l.addPollErr != nil {
		return nil, l.addPollErr
	}
	if fd < 0 || fn == nil {
		return nil, ErrBadArg
	}
	if _, dup := l.polls[fd]; dup {
		return nil, ErrBadArg
	}
	p := &fakePoll{l: l, fd: fd, fn: fn, startErr: l.startErr}
	l.polls[fd] = p
	return p, nil
}

func (l *fakeLoop) AddTimer(initial, repeat time.Duration, fn func()) (Timer, error) {
	if l.addTimerErr != nil {
		return nil, l.addTimerErr
	}
	if fn == nil || initial < 0 {
		return nil, ErrBadArg
	}
	t := &fakeTimer{initial: initial, repeat: repeat, fn: fn}
	l.timers = append(l.timers, t)
	return t, nil
}

// flush delivers pending close completions, as the loop would at the
// end of an iteration.
func (l *fakeLoop) flush() int {
	pending := l.completions
	l.completions = nil
	n := 0
	for _, fn := range pending {
		if fn != nil {
			fn()
			n++
		}
	}
	return n
}

type fakePoll struct {
	l        *fakeLoop
	fd       int
	fn       PollFunc
	events   PollEvents
	started  bool
	closed   bool
	startErr error
	closeErr error
}

func (p *fakePoll) Start(events PollEvents) error {
	if p.startErr != nil {
		return p.startErr
	}
	if p.closed {
		return ErrClosed
	}
	if events == 0 {
		return ErrBadArg
	}
	p.started = true
	p.events = events
	return nil
}

func (p *fakePoll) Stop() error {
	if p.closed {
		return ErrClosed
	}
	p.started = false
	return nil
}

func (p *fakePoll) Close(done func()) error {
	if p.closeErr != nil {
		return p.closeErr
	}
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.started = false
	delete(p.l.polls, p.fd)
	p.l.completions = append(p.l.completions, done)
	return nil
}

type fakeTimer struct {
	initial time.Duration
	repeat  time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() error {
	t.stopped = true
	return nil
}

// fakeSock is a Pollable fed by tests.  Receives consume from queue;
// when it runs dry RecvMsg reports recvErr if set, ErrWouldBlock
// otherwise.
type fakeSock struct {
	fd      int
	fdErr   error
	queue   []*mangos.Message
	recvErr error
	recvs   int
	sent    []*mangos.Message
	sendErr error
	evFn    func() (PollEvents, error)
	evs     int
}

func (s *fakeSock) PollDescriptor() (int, error) {
	if s.fdErr != nil {
		return -1, s.fdErr
	}
	return s.fd, nil
}

func (s *fakeSock) PollEvents() (PollEvents, error) {
	s.evs++
	if s.evFn != nil {
		return s.evFn()
	}
	ev := PollOut
	if len(s.queue) > 0 {
		ev |= PollIn
	}
	return ev, nil
}

func (s *fakeSock) RecvMsg() (*mangos.Message, error) {
	s.recvs++
	if len(s.queue) == 0 {
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, ErrWouldBlock
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	return m, nil
}

func (s *fakeSock) SendMsg(m *mangos.Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, m)
	return nil
}

// load queues n one-byte messages.
func (s *fakeSock) load(n int) {
	for i := 0; i < n; i++ {
		m := mangos.NewMessage(1)
		m.Body = append(m.Body, byte(i))
		s.queue = append(s.queue, m)
	}
}

// countHandler counts deliveries, freeing each message unless fn takes
// over.
type countHandler struct {
	count int
	fn    func(h *Handle, m *mangos.Message)
}

func (c *countHandler) HandleMessage(h *Handle, m *mangos.Message) {
	c.count++
	if c.fn != nil {
		c.fn(h, m)
		return
	}
	m.Free()
}
