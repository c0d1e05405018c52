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

// Package loop provides a single threaded event loop implementing the
// reactor.Loop contract: level triggered descriptor polling with
// callbacks, timers, posted functions, and asynchronous poll teardown.
// It uses epoll on Linux and kqueue on the BSDs and Darwin.
//
// All callbacks run on the goroutine driving Run or Step.  The
// mutating methods (AddPoll, AddTimer, Post, Stop, and the Poll and
// Timer methods) may be called from any goroutine; a blocked loop is
// woken when a call needs its attention.
package loop

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"nanomsg.org/go/reactor"
)

// Loop is a reactor.Loop.  Create one with New, drive it with Run or
// Step, and release its descriptors with Close when done.
type Loop struct {
	sync.Mutex
	p           *poller
	posted      *queue.Queue
	polls       map[int]*pollReg
	timers      timerHeap
	completions []func()
	active      int
	running     bool
	stopped     bool
	closed      bool
	log         zerolog.Logger
}

// New returns a ready loop, or reactor.ErrNotSup on platforms without
// a poller implementation.
func New() (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Loop{
		p:      p,
		posted: queue.New(),
		polls:  make(map[int]*pollReg),
		log:    zerolog.Nop(),
	}, nil
}

// SetLogger supplies a logger for loop diagnostics.  The default
// discards everything.
func (l *Loop) SetLogger(log zerolog.Logger) {
	l.Lock()
	l.log = log
	l.Unlock()
}

// AddPoll registers fd with the loop and returns its registration,
// disarmed.  Only one registration may exist per descriptor at a time;
// a second AddPoll for the same fd returns ErrBadArg until the first
// has been closed.
func (l *Loop) AddPoll(fd int, fn reactor.PollFunc) (reactor.Poll, error) {
	if fd < 0 || fn == nil {
		return nil, reactor.ErrBadArg
	}
	l.Lock()
	defer l.Unlock()
	if l.closed {
		return nil, reactor.ErrClosed
	}
	if _, dup := l.polls[fd]; dup {
		return nil, reactor.ErrBadArg
	}
	r := &pollReg{l: l, fd: fd, fn: fn}
	l.polls[fd] = r
	return r, nil
}

// Post queues fn to run on the loop goroutine during the next
// iteration.  Post is safe from any goroutine, including loop
// callbacks.  Queued functions keep the loop alive until they run.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return reactor.ErrBadArg
	}
	l.Lock()
	if l.closed {
		l.Unlock()
		return reactor.ErrClosed
	}
	l.posted.Add(fn)
	l.Unlock()
	l.wake()
	return nil
}

// Run drives the loop until Stop is called or no active work remains:
// no armed polls, live timers, pending close completions, or queued
// posts.  A loop with nothing to do returns immediately.
func (l *Loop) Run() error {
	l.Lock()
	if l.closed {
		l.Unlock()
		return reactor.ErrClosed
	}
	if l.running {
		l.Unlock()
		return reactor.ErrRunning
	}
	l.running = true
	l.Unlock()

	defer func() {
		l.Lock()
		l.running = false
		l.stopped = false
		l.Unlock()
	}()

	for {
		l.Lock()
		stop := l.stopped
		l.Unlock()
		if stop {
			return nil
		}
		if !l.Step(true) {
			return nil
		}
	}
}

// Step performs one loop iteration: wait for events (or just collect
// what is ready, when block is false), dispatch poll callbacks, run
// due timers, run posted functions, then deliver any pending poll
// close completions.  It reports whether active work remains.
func (l *Loop) Step(block bool) bool {
	l.Lock()
	if l.closed {
		l.Unlock()
		return false
	}
	timeout := 0
	if block {
		timeout = l.timeoutLocked()
	}
	l.Unlock()

	if err := l.p.wait(timeout, l.dispatch); err != nil {
		l.Lock()
		log := l.log
		l.stopped = true
		l.Unlock()
		log.Warn().Err(err).Msg("poll wait failed, stopping loop")
	}
	l.runTimers()
	l.runPosted()
	l.runCompletions()

	l.Lock()
	more := l.active > 0 || l.posted.Length() > 0
	l.Unlock()
	return more
}

// Stop makes a concurrent or subsequent Run return once its current
// iteration finishes.  Safe from any goroutine.
func (l *Loop) Stop() {
	l.Lock()
	if l.closed {
		l.Unlock()
		return
	}
	l.stopped = true
	l.Unlock()
	l.wake()
}

// Close releases the loop's descriptors.  Any pending poll close
// completions are delivered first, on the caller's goroutine, so that
// no teardown is ever lost.  Close on a running loop returns
// ErrRunning; on an already closed loop, ErrClosed.
func (l *Loop) Close() error {
	l.Lock()
	if l.closed {
		l.Unlock()
		return reactor.ErrClosed
	}
	if l.running {
		l.Unlock()
		return reactor.ErrRunning
	}
	l.closed = true
	pending := l.completions
	l.completions = nil
	for fd, r := range l.polls {
		r.closing = true
		delete(l.polls, fd)
	}
	count := len(pending)
	log := l.log
	l.Unlock()

	for _, fn := range pending {
		if fn != nil {
			fn()
		}
	}
	if count > 0 {
		log.Debug().Int("count", count).Msg("flushed close completions at loop close")
	}
	return l.p.close()
}

// dispatch routes one poller event to its registration's callback.
func (l *Loop) dispatch(fd int, ev reactor.PollEvents) {
	l.Lock()
	r := l.polls[fd]
	var fn reactor.PollFunc
	if r != nil && r.started && !r.closing {
		fn = r.fn
	}
	l.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// runPosted runs the functions queued at the start of this pass.
// Functions posted while one runs execute on the next iteration.
func (l *Loop) runPosted() {
	l.Lock()
	n := l.posted.Length()
	l.Unlock()
	for i := 0; i < n; i++ {
		l.Lock()
		if l.posted.Length() == 0 {
			l.Unlock()
			return
		}
		fn := l.posted.Remove().(func())
		l.Unlock()
		fn()
	}
}

// runCompletions delivers close completions accumulated during this
// iteration.  They always run after dispatch, never inside the Close
// call that requested them.
func (l *Loop) runCompletions() {
	l.Lock()
	pending := l.completions
	l.completions = nil
	l.active -= len(pending)
	l.Unlock()
	for _, fn := range pending {
		if fn != nil {
			fn()
		}
	}
}

// timeoutLocked computes the poll wait in milliseconds: zero when work
// is already queued, the nearest timer deadline otherwise, and forever
// only when something armed can still wake us.
func (l *Loop) timeoutLocked() int {
	if l.stopped || l.posted.Length() > 0 || len(l.completions) > 0 {
		return 0
	}
	if l.timers.Len() > 0 {
		d := time.Until(l.timers[0].when)
		if d <= 0 {
			return 0
		}
		return int((d + time.Millisecond - 1) / time.Millisecond)
	}
	if l.active == 0 {
		return 0
	}
	return -1
}

func (l *Loop) wake() {
	if err := l.p.wake(); err != nil {
		l.Lock()
		log := l.log
		l.Unlock()
		log.Warn().Err(err).Msg("loop wakeup failed")
	}
}
