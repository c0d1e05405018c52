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

	"github.com/rs/zerolog"
)

// Drain bounds.  These limit how long a single readiness callback can
// monopolize the loop; they are tunables with no meaning beyond
// "bounded", adjustable per handle via OptionBatchLimit and
// OptionEventsCheck.
const (
	defaultBatchLimit  = 1000
	defaultEventsCheck = 50
)

// Handle lifecycle.  A handle starts open, is closed (delivery
// suppressed, registration still held), then freeing (asynchronous
// poll teardown pending), then freed.  Transitions only ever move
// forward.
type lifecycle int

const (
	stateOpen lifecycle = iota
	stateClosed
	stateFreeing
	stateFreed
)

// Handle binds one Pollable socket to one Loop.  While open, the loop
// invokes the handle's drain callback whenever the socket's readiness
// descriptor signals, and the handle delivers every queued message to
// the Handler.
//
// The handle owns only its poll registration.  The loop and the socket
// belong to the application; neither is ever closed by the handle.
type Handle struct {
	sync.Mutex
	l     Loop
	s     Pollable
	h     Handler
	ctx   interface{}
	fd    int
	poll  Poll
	state lifecycle
	refs  int
	done  chan struct{}

	batchLimit  int
	eventsCheck int
	log         zerolog.Logger
}

// Attach wraps sock onto l.  The handler and user context are each
// optional; a handle with no handler stays registered but drains
// nothing.  The socket's readiness descriptor is queried once, here,
// and must stay valid for the life of the handle.
//
// Attach is atomic: on any failure every resource acquired so far is
// released and no handle is returned.  Errors from the loop or the
// socket are returned unchanged.
func Attach(l Loop, sock Pollable, h Handler, ctx interface{}) (*Handle, error) {
	if l == nil || sock == nil {
		return nil, ErrBadArg
	}
	fd, err := sock.PollDescriptor()
	if err != nil {
		return nil, err
	}
	hd := &Handle{
		l:           l,
		s:           sock,
		h:           h,
		ctx:         ctx,
		fd:          fd,
		state:       stateOpen,
		done:        make(chan struct{}),
		batchLimit:  defaultBatchLimit,
		eventsCheck: defaultEventsCheck,
		log:         zerolog.Nop(),
	}
	p, err := l.AddPoll(fd, hd.pollEvent)
	if err != nil {
		return nil, err
	}
	hd.poll = p
	if err = p.Start(PollIn); err != nil {
		_ = p.Close(nil)
		return nil, err
	}
	return hd, nil
}

// pollEvent is the readiness callback, run on the loop goroutine.  It
// drains the socket with non-blocking receives until the burst is
// exhausted, the per-invocation bound is reached, or the handle stops
// being open.
func (h *Handle) pollEvent(ev PollEvents) {
	h.Lock()
	if h.state != stateOpen || h.h == nil {
		h.Unlock()
		return
	}
	handler := h.h
	limit := h.batchLimit
	check := h.eventsCheck
	log := h.log
	h.Unlock()

	if ev&PollErr != 0 && ev&PollIn == 0 {
		log.Warn().Int("fd", h.fd).Msg("error condition on readiness descriptor")
		return
	}

	for count := 1; ; count++ {
		m, err := h.s.RecvMsg()
		if err == ErrWouldBlock {
			// Normal end of burst.
			return
		}
		if err != nil {
			log.Warn().Err(err).Int("fd", h.fd).Msg("receive failed, ending drain")
			return
		}
		handler.HandleMessage(h, m)

		if count >= limit {
			// Bound reached.  The descriptor is still readable, or
			// will signal again, so a later invocation resumes.
			return
		}
		if check > 0 && count%check == 0 {
			flags, err := h.s.PollEvents()
			if err != nil {
				log.Warn().Err(err).Int("fd", h.fd).Msg("readiness query failed, ending drain")
				return
			}
			if flags&PollIn == 0 {
				return
			}
		}

		h.Lock()
		open := h.state == stateOpen
		h.Unlock()
		if !open {
			// Closed by the handler itself; deliver nothing more.
			return
		}
	}
}

// Close stops message delivery.  The poll registration stays in place
// until Free; the drain callback sees the state change and returns
// without receiving.  Close never touches the wrapped socket.
//
// Close is only valid on an open handle.  Calling it again, or on a
// handle already being freed, returns ErrClosed; calling it on a nil
// handle returns ErrBadArg.
func (h *Handle) Close() error {
	if h == nil {
		return ErrBadArg
	}
	h.Lock()
	defer h.Unlock()
	if h.state != stateOpen {
		return ErrClosed
	}
	h.state = stateClosed
	return nil
}

// Free tears the handle down.  An open handle is closed first.  The
// poll registration is stopped and its asynchronous close requested;
// the handle reaches its final state only when the loop delivers the
// close completion.  Free returns without waiting for that; use Done
// to observe completion.
//
// The wrapped socket is not touched and is usable the moment Free
// returns.  Free on a handle already freeing or freed returns
// ErrClosed; on a nil handle, ErrBadArg.
func (h *Handle) Free() error {
	if h == nil {
		return ErrBadArg
	}
	h.Lock()
	if h.state != stateOpen && h.state != stateClosed {
		h.Unlock()
		return ErrClosed
	}
	h.state = stateFreeing
	// One reference for this call, one for the pending completion.
	h.refs = 2
	poll := h.poll
	log := h.log
	h.Unlock()

	if err := poll.Stop(); err != nil {
		log.Debug().Err(err).Int("fd", h.fd).Msg("poll stop failed during free")
	}
	if err := poll.Close(h.pollClosed); err != nil {
		// The loop refused the close, so no completion will arrive;
		// release its reference here to finish the teardown.
		log.Debug().Err(err).Int("fd", h.fd).Msg("poll close failed during free")
		h.release()
	}
	h.release()
	return nil
}

// pollClosed is the poll close completion, run on the loop goroutine.
func (h *Handle) pollClosed() {
	h.release()
}

// release drops one teardown reference.  The last release, whichever
// side it comes from, performs the single transition to freed.
func (h *Handle) release() {
	h.Lock()
	h.refs--
	if h.refs > 0 {
		h.Unlock()
		return
	}
	h.state = stateFreed
	done := h.done
	h.Unlock()
	close(done)
}

// Done returns a channel that is closed once teardown has completed,
// including the loop's asynchronous poll close.  It returns nil for a
// nil handle.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

// Socket returns the wrapped socket, or nil if the handle is nil or
// has been freed.
func (h *Handle) Socket() Pollable {
	if h == nil {
		return nil
	}
	h.Lock()
	defer h.Unlock()
	if h.state >= stateFreeing {
		return nil
	}
	return h.s
}

// EventLoop returns the loop the handle is registered with, or nil if
// the handle is nil or has been freed.
func (h *Handle) EventLoop() Loop {
	if h == nil {
		return nil
	}
	h.Lock()
	defer h.Unlock()
	if h.state >= stateFreeing {
		return nil
	}
	return h.l
}

// Context returns the user context given to Attach, or nil if the
// handle is nil or has been freed.
func (h *Handle) Context() interface{} {
	if h == nil {
		return nil
	}
	h.Lock()
	defer h.Unlock()
	if h.state >= stateFreeing {
		return nil
	}
	return h.ctx
}

// Descriptor returns the readiness descriptor captured at Attach, or
// -1 if the handle is nil or has been freed.
func (h *Handle) Descriptor() int {
	if h == nil {
		return -1
	}
	h.Lock()
	defer h.Unlock()
	if h.state >= stateFreeing {
		return -1
	}
	return h.fd
}

// SetOption sets a handle option.  Options may be adjusted at any time
// before the handle is freed and take effect on the next drain.
func (h *Handle) SetOption(name string, value interface{}) error {
	if h == nil {
		return ErrBadArg
	}
	h.Lock()
	defer h.Unlock()
	if h.state >= stateFreeing {
		return ErrClosed
	}
	switch name {
	case OptionBatchLimit:
		if v, ok := value.(int); ok && v > 0 {
			h.batchLimit = v
			return nil
		}
		return ErrBadValue
	case OptionEventsCheck:
		// Zero disables the periodic readiness re-check.
		if v, ok := value.(int); ok && v >= 0 {
			h.eventsCheck = v
			return nil
		}
		return ErrBadValue
	case OptionLogger:
		if v, ok := value.(zerolog.Logger); ok {
			h.log = v
			return nil
		}
		return ErrBadValue
	}
	return ErrBadOption
}

// GetOption retrieves a handle option.
func (h *Handle) GetOption(name string) (interface{}, error) {
	if h == nil {
		return nil, ErrBadArg
	}
	h.Lock()
	defer h.Unlock()
	if h.state >= stateFreeing {
		return nil, ErrClosed
	}
	switch name {
	case OptionBatchLimit:
		return h.batchLimit, nil
	case OptionEventsCheck:
		return h.eventsCheck, nil
	case OptionLogger:
		return h.log, nil
	}
	return nil, ErrBadOption
}
