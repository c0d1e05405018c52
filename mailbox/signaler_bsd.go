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

package mailbox

import (
	"golang.org/x/sys/unix"
)

// signaler backs PollDescriptor with a non-blocking self-pipe: the
// read end is the descriptor, raised when the queue gains its first
// message and drained when it empties.
type signaler struct {
	rd int
	wr int
}

func newSignaler() (*signaler, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &signaler{rd: fds[0], wr: fds[1]}, nil
}

func (s *signaler) fd() int {
	return s.rd
}

// raise makes the descriptor readable.  A full pipe is already
// readable, so EAGAIN is success.
func (s *signaler) raise() error {
	_, err := unix.Write(s.wr, []byte{1})
	if err == unix.EAGAIN {
		err = nil
	}
	return err
}

// lower clears readability, draining whatever has accumulated.
func (s *signaler) lower() {
	var buf [128]byte
	for {
		n, err := unix.Read(s.rd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (s *signaler) close() error {
	err := unix.Close(s.wr)
	if e := unix.Close(s.rd); err == nil {
		err = e
	}
	return err
}
