// +build linux

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
	"golang.org/x/sys/unix"

	"nanomsg.org/go/reactor"
)

// poller is the epoll backend.  Descriptors are watched level
// triggered, so a burst left partially unread keeps its descriptor hot
// and readiness is never lost between iterations.  An eventfd
// registered alongside the application descriptors lets other
// goroutines interrupt a blocked wait.
type poller struct {
	epfd   int
	wakefd int
	events [128]unix.EpollEvent
}

// wakeToken is the eventfd increment used to interrupt a wait.  Any
// nonzero value serves; the counter is only ever drained, never
// interpreted.
var wakeToken = [8]byte{1}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &poller{epfd: epfd, wakefd: wakefd}, nil
}

func (p *poller) add(fd int, events reactor.PollEvents) error {
	ev := unix.EpollEvent{Events: epollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) mod(fd int, events reactor.PollEvents) error {
	ev := unix.EpollEvent{Events: epollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeout milliseconds (forever when negative)
// and feeds ready descriptors to dispatch.  An interrupted wait is not
// a failure; the caller just comes around again.
func (p *poller) wait(timeout int, dispatch func(fd int, ev reactor.PollEvents)) error {
	n, err := unix.EpollWait(p.epfd, p.events[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		e := p.events[i]
		fd := int(e.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		dispatch(fd, pollMask(e.Events))
	}
	return nil
}

// wake interrupts a blocked wait from any goroutine.  A saturated
// eventfd counter means a wake is already pending, which is as good as
// delivered.
func (p *poller) wake() error {
	_, err := unix.Write(p.wakefd, wakeToken[:])
	if err == unix.EAGAIN {
		err = nil
	}
	return err
}

// drainWake resets the eventfd; a single read clears the counter.
func (p *poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *poller) close() error {
	err := unix.Close(p.wakefd)
	if e := unix.Close(p.epfd); err == nil {
		err = e
	}
	return err
}

func epollMask(events reactor.PollEvents) uint32 {
	var m uint32
	if events&reactor.PollIn != 0 {
		m |= unix.EPOLLIN
	}
	if events&reactor.PollOut != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func pollMask(m uint32) reactor.PollEvents {
	var events reactor.PollEvents
	if m&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		events |= reactor.PollIn
	}
	if m&unix.EPOLLOUT != 0 {
		events |= reactor.PollOut
	}
	if m&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		events |= reactor.PollErr
	}
	return events
}
