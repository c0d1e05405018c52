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
	"sync"
	"time"
)

// defaultReaperInterval is used when NewReaper is given no interval.
const defaultReaperInterval = time.Millisecond * 25

// Reaper runs periodic maintenance on a loop, standing in for
// background work the application has chosen not to run on its own
// goroutine.  Each tick invokes the registered hooks on the loop
// goroutine; a mailbox in manual pump mode, for example, registers its
// Pump here and then needs no goroutine at all.
//
// A Reaper is independent of any Handle.  Use one per loop.
type Reaper struct {
	sync.Mutex
	l        Loop
	interval time.Duration
	timer    Timer
	hooks    []func()
}

// NewReaper returns a reaper for l, ticking every interval once
// started.  A zero or negative interval selects a short default.
func NewReaper(l Loop, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	return &Reaper{l: l, interval: interval}
}

// Hook registers fn to run on every tick.  Hooks run on the loop
// goroutine, in registration order, and must not block.
func (r *Reaper) Hook(fn func()) {
	if fn == nil {
		return
	}
	r.Lock()
	r.hooks = append(r.hooks, fn)
	r.Unlock()
}

// Start begins ticking.  Starting a running reaper is a no-op success,
// so Start may be called freely wherever maintenance is known to be
// needed.
func (r *Reaper) Start() error {
	if r == nil || r.l == nil {
		return ErrBadArg
	}
	r.Lock()
	defer r.Unlock()
	if r.timer != nil {
		return nil
	}
	t, err := r.l.AddTimer(r.interval, r.interval, r.tick)
	if err != nil {
		return err
	}
	r.timer = t
	return nil
}

// Stop cancels ticking.  Stopping a reaper that is not running is a
// no-op success.  The reaper may be started again afterwards.
func (r *Reaper) Stop() error {
	if r == nil {
		return ErrBadArg
	}
	r.Lock()
	defer r.Unlock()
	if r.timer == nil {
		return nil
	}
	err := r.timer.Stop()
	r.timer = nil
	return err
}

// Running reports whether the reaper is currently ticking.
func (r *Reaper) Running() bool {
	if r == nil {
		return false
	}
	r.Lock()
	defer r.Unlock()
	return r.timer != nil
}

func (r *Reaper) tick() {
	r.Lock()
	hooks := make([]func(), len(r.hooks))
	copy(hooks, r.hooks)
	r.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
