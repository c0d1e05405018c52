// +build darwin dragonfly freebsd netbsd openbsd

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
	"time"

	"golang.org/x/sys/unix"

	"nanomsg.org/go/reactor"
)

// poller is the kqueue backend.  kqueue tracks read and write filters
// independently, so the mask registered per descriptor is kept here to
// turn a re-arm into the right filter deltas.  The masks map is only
// touched under the owning loop's lock, like every registration call.
// A self-pipe registered alongside the application descriptors lets
// other goroutines interrupt a blocked wait.
type poller struct {
	kq     int
	wakeRd int
	wakeWr int
	masks  map[int]reactor.PollEvents
	events [128]unix.Kevent_t
}

func newPoller() (*poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	var fds [2]int
	if err = unix.Pipe(fds[:]); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	p := &poller{
		kq:     kq,
		wakeRd: fds[0],
		wakeWr: fds[1],
		masks:  make(map[int]reactor.PollEvents),
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err = unix.SetNonblock(fd, true); err != nil {
			_ = p.close()
			return nil, err
		}
	}
	if err = p.change(p.wakeRd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		_ = p.close()
		return nil, err
	}
	return p, nil
}

// change submits a single filter change to the kernel.
func (p *poller) change(fd, filter, flags int) error {
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], fd, filter, flags)
	_, err := unix.Kevent(p.kq, ev[:], nil, nil)
	return err
}

// apply reconciles the filters registered for fd with the wanted mask.
// Removing a filter for a descriptor the kernel already dropped is
// tolerated; the mask tracks whatever the kernel actually holds.
func (p *poller) apply(fd int, want reactor.PollEvents) error {
	have := p.masks[fd]
	if drop := have &^ want; drop != 0 {
		if drop&reactor.PollIn != 0 {
			_ = p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
		}
		if drop&reactor.PollOut != 0 {
			_ = p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		}
		have &^= drop
	}
	defer func() {
		if have == 0 {
			delete(p.masks, fd)
		} else {
			p.masks[fd] = have
		}
	}()
	if grow := want &^ have; grow&reactor.PollIn != 0 {
		if err := p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
		have |= reactor.PollIn
	}
	if grow := want &^ have; grow&reactor.PollOut != 0 {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
		have |= reactor.PollOut
	}
	return nil
}

func (p *poller) add(fd int, events reactor.PollEvents) error {
	return p.apply(fd, events)
}

func (p *poller) mod(fd int, events reactor.PollEvents) error {
	return p.apply(fd, events)
}

func (p *poller) del(fd int) error {
	return p.apply(fd, 0)
}

// wait blocks for up to timeout milliseconds (forever when negative)
// and feeds ready descriptors to dispatch.  kqueue reports read and
// write readiness as separate events, so one descriptor may be
// dispatched twice in a pass.  An interrupted wait is not a failure.
func (p *poller) wait(timeout int, dispatch func(fd int, ev reactor.PollEvents)) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * int64(time.Millisecond))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		e := &p.events[i]
		fd := int(e.Ident)
		if fd == p.wakeRd {
			p.drainWake()
			continue
		}
		dispatch(fd, keventMask(e))
	}
	return nil
}

// wake interrupts a blocked wait from any goroutine.  A full pipe
// means a wake is already pending, which is as good as delivered.
func (p *poller) wake() error {
	_, err := unix.Write(p.wakeWr, []byte{1})
	if err == unix.EAGAIN {
		err = nil
	}
	return err
}

// drainWake empties the self-pipe so it can signal again.
func (p *poller) drainWake() {
	var buf [128]byte
	for {
		n, err := unix.Read(p.wakeRd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *poller) close() error {
	err := unix.Close(p.wakeWr)
	if e := unix.Close(p.wakeRd); err == nil {
		err = e
	}
	if e := unix.Close(p.kq); err == nil {
		err = e
	}
	return err
}

func keventMask(e *unix.Kevent_t) reactor.PollEvents {
	var events reactor.PollEvents
	switch int64(e.Filter) {
	case int64(unix.EVFILT_READ):
		events |= reactor.PollIn
	case int64(unix.EVFILT_WRITE):
		events |= reactor.PollOut
	}
	if e.Flags&(unix.EV_ERROR|unix.EV_EOF) != 0 {
		events |= reactor.PollErr
	}
	return events
}
