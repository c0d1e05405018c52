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

type err string

func (e err) Error() string {
	return string(e)
}

// Predefined error values.  These are constants, so callers can compare
// against them directly.  Errors coming from a Loop or Pollable during
// Attach are returned as-is; the values below are the ones this package
// produces itself.
const (
	// ErrBadArg is returned when a required argument is nil or
	// otherwise unusable, including operations on a nil handle.
	ErrBadArg = err("invalid argument")

	// ErrClosed is returned by lifecycle operations invoked in a
	// state that forbids them: Close on an already closed handle,
	// Free on an already freed one, or any use of an object whose
	// teardown has begun.
	ErrClosed = err("object closed")

	// ErrBadOption is returned when an option name is not recognized.
	ErrBadOption = err("invalid or unsupported option")

	// ErrBadValue is returned when an option value is of the wrong
	// type or out of range.
	ErrBadValue = err("option value is invalid")

	// ErrNotPollable is returned when a Pollable cannot supply a
	// readiness descriptor or readiness flags.
	ErrNotPollable = err("socket is not pollable")

	// ErrWouldBlock is the non-blocking receive result meaning no
	// message is queued right now.  It ends a drain cycle and is
	// never reported as a failure.
	ErrWouldBlock = err("operation would block")

	// ErrNotSup is returned where the platform or object does not
	// support the requested operation.
	ErrNotSup = err("not supported")

	// ErrRunning is returned by loop operations that require the
	// loop be quiescent, such as starting it twice or closing it
	// from another goroutine while it runs.
	ErrRunning = err("loop is running")
)
