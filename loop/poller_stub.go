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

package loop

import (
	"nanomsg.org/go/reactor"
)

// poller has no backend on this platform; New reports ErrNotSup.
type poller struct{}

func newPoller() (*poller, error) {
	return nil, reactor.ErrNotSup
}

func (p *poller) add(fd int, events reactor.PollEvents) error {
	return reactor.ErrNotSup
}

func (p *poller) mod(fd int, events reactor.PollEvents) error {
	return reactor.ErrNotSup
}

func (p *poller) del(fd int) error {
	return reactor.ErrNotSup
}

func (p *poller) wait(timeout int, dispatch func(fd int, ev reactor.PollEvents)) error {
	return reactor.ErrNotSup
}

func (p *poller) wake() error {
	return reactor.ErrNotSup
}

func (p *poller) close() error {
	return reactor.ErrNotSup
}
