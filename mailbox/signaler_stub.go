// +build !linux,!darwin,!dragonfly,!freebsd,!netbsd,!openbsd

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
	"nanomsg.org/go/reactor"
)

// signaler has no backend on this platform; New reports ErrNotSup.
type signaler struct{}

func newSignaler() (*signaler, error) {
	return nil, reactor.ErrNotSup
}

func (s *signaler) fd() int {
	return -1
}

func (s *signaler) raise() error {
	return reactor.ErrNotSup
}

func (s *signaler) lower() {
}

func (s *signaler) close() error {
	return reactor.ErrNotSup
}
