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

package loop

import (
	"nanomsg.org/go/reactor"
)

// pollReg is one descriptor registration; it implements reactor.Poll.
// An armed registration holds the loop alive.  Close disarms at once
// and queues the completion for the end of a loop iteration.
type pollReg struct {
	l       *Loop
	fd      int
	fn      reactor.PollFunc
	events  reactor.PollEvents
	started bool
	closing bool
}

// Start arms the registration for the given conditions, or re-arms it
// with a new mask if already started.
func (r *pollReg) Start(events reactor.PollEvents) error {
	l := r.l
	l.Lock()
	defer l.Unlock()
	if l.closed || r.closing {
		return reactor.ErrClosed
	}
	if events == 0 {
		return reactor.ErrBadArg
	}
	if !r.started {
		if err := l.p.add(r.fd, events); err != nil {
			return err
		}
		r.started = true
		l.active++
	} else if events != r.events {
		if err := l.p.mod(r.fd, events); err != nil {
			return err
		}
	}
	r.events = events
	return nil
}

// Stop disarms the registration.  Stopping one that is not armed is a
// no-op.  The registration may be started again afterwards.
func (r *pollReg) Stop() error {
	l := r.l
	l.Lock()
	defer l.Unlock()
	if l.closed || r.closing {
		return reactor.ErrClosed
	}
	return r.stopLocked()
}

// stopLocked disarms unconditionally; a failed deregistration (for
// example a descriptor closed out from under us, which the kernel then
// removed on its own) is reported but does not leave the registration
// half armed.
func (r *pollReg) stopLocked() error {
	if !r.started {
		return nil
	}
	err := r.l.p.del(r.fd)
	r.started = false
	r.events = 0
	r.l.active--
	return err
}

// Close disarms the registration, withdraws it from the loop, and
// queues done to run on the loop goroutine at the end of an iteration
// (or during the loop's own Close, if it never iterates again).  The
// descriptor may be registered anew immediately; the old registration
// is finished.  Closing twice returns ErrClosed.
func (r *pollReg) Close(done func()) error {
	l := r.l
	l.Lock()
	if l.closed || r.closing {
		l.Unlock()
		return reactor.ErrClosed
	}
	if err := r.stopLocked(); err != nil {
		l.log.Debug().Err(err).Int("fd", r.fd).Msg("deregistration failed during poll close")
	}
	r.closing = true
	delete(l.polls, r.fd)
	l.completions = append(l.completions, done)
	l.active++
	l.Unlock()
	l.wake()
	return nil
}
