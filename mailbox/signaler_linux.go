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

package mailbox

import (
	"golang.org/x/sys/unix"
)

// signaler backs PollDescriptor with an eventfd: raised when the queue
// gains its first message, lowered when it empties.
type signaler struct {
	efd int
}

// signalToken is the eventfd increment.  Any nonzero value serves;
// the counter is only ever drained, never interpreted.
var signalToken = [8]byte{1}

func newSignaler() (*signaler, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &signaler{efd: fd}, nil
}

func (s *signaler) fd() int {
	return s.efd
}

// raise makes the descriptor readable.  A saturated counter is already
// readable, so EAGAIN is success.
func (s *signaler) raise() error {
	_, err := unix.Write(s.efd, signalToken[:])
	if err == unix.EAGAIN {
		err = nil
	}
	return err
}

// lower clears readability; a single read resets the counter.
func (s *signaler) lower() {
	var buf [8]byte
	_, _ = unix.Read(s.efd, buf[:])
}

func (s *signaler) close() error {
	return unix.Close(s.efd)
}
