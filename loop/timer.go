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
	"container/heap"
	"time"

	"nanomsg.org/go/reactor"
)

// timer implements reactor.Timer on a min-heap keyed by deadline.
type timer struct {
	l       *Loop
	fn      func()
	when    time.Time
	repeat  time.Duration
	index   int
	stopped bool
}

// AddTimer schedules fn on the loop goroutine after initial, and then
// every repeat if repeat is positive.  A zero initial fires on the
// next iteration.  A live timer keeps the loop alive; one-shot timers
// expire on firing, repeating timers run until stopped.
func (l *Loop) AddTimer(initial, repeat time.Duration, fn func()) (reactor.Timer, error) {
	if fn == nil || initial < 0 {
		return nil, reactor.ErrBadArg
	}
	l.Lock()
	if l.closed {
		l.Unlock()
		return nil, reactor.ErrClosed
	}
	t := &timer{
		l:      l,
		fn:     fn,
		when:   time.Now().Add(initial),
		repeat: repeat,
	}
	heap.Push(&l.timers, t)
	l.active++
	l.Unlock()
	l.wake()
	return t, nil
}

// Stop cancels the timer.  A stopped or expired timer is a no-op; Stop
// never fails.
func (t *timer) Stop() error {
	l := t.l
	l.Lock()
	if t.stopped {
		l.Unlock()
		return nil
	}
	t.stopped = true
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
	l.active--
	idle := l.active == 0
	l.Unlock()
	if idle {
		l.wake()
	}
	return nil
}

// runTimers fires every timer whose deadline has passed, rescheduling
// repeating ones before their callback runs so a callback may stop its
// own timer.
func (l *Loop) runTimers() {
	for {
		l.Lock()
		if l.timers.Len() == 0 {
			l.Unlock()
			return
		}
		t := l.timers[0]
		now := time.Now()
		if t.when.After(now) {
			l.Unlock()
			return
		}
		heap.Pop(&l.timers)
		if t.repeat > 0 {
			t.when = now.Add(t.repeat)
			heap.Push(&l.timers, t)
		} else {
			t.stopped = true
			l.active--
		}
		fn := t.fn
		l.Unlock()
		fn()
	}
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
