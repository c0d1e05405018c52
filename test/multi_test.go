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

package test

import (
	"fmt"
	"testing"
	"time"

	"nanomsg.org/go/mangos/v2"
	"nanomsg.org/go/mangos/v2/protocol/pull"
	"nanomsg.org/go/mangos/v2/protocol/push"

	"nanomsg.org/go/reactor"
	"nanomsg.org/go/reactor/loop"
	"nanomsg.org/go/reactor/mailbox"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTwoAdaptersOneLoop(t *testing.T) {
	skipIfNoLoop(t)

	Convey("Given two PULL adapters on one loop", t, func() {
		addr1 := AddrTestInp()
		addr2 := AddrTestInp()

		pull1, err := pull.NewSocket()
		So(err, ShouldBeNil)
		defer pull1.Close()
		push1, err := push.NewSocket()
		So(err, ShouldBeNil)
		defer push1.Close()

		pull2, err := pull.NewSocket()
		So(err, ShouldBeNil)
		defer pull2.Close()
		push2, err := push.NewSocket()
		So(err, ShouldBeNil)
		defer push2.Close()

		So(pull1.Listen(addr1), ShouldBeNil)
		So(push1.Dial(addr1), ShouldBeNil)
		So(pull2.Listen(addr2), ShouldBeNil)
		So(push2.Dial(addr2), ShouldBeNil)

		// Time for the connections to establish.
		time.Sleep(time.Millisecond * 100)

		box1, err := mailbox.New(pull1, nil)
		So(err, ShouldBeNil)
		defer box1.Close()
		box2, err := mailbox.New(pull2, nil)
		So(err, ShouldBeNil)
		defer box2.Close()

		l, err := loop.New()
		So(err, ShouldBeNil)

		ch1 := make(chan string, 16)
		ch2 := make(chan string, 16)

		h1, err := reactor.Attach(l, box1, collector(ch1), nil)
		So(err, ShouldBeNil)
		h2, err := reactor.Attach(l, box2, collector(ch2), nil)
		So(err, ShouldBeNil)

		stop := startLoop(l)
		defer stop()

		Convey("Both deliver, and freeing one leaves the other alone", func() {
			for i := 0; i < 3; i++ {
				So(sendBody(push1, fmt.Sprintf("one %d", i)), ShouldBeNil)
				So(sendBody(push2, fmt.Sprintf("two %d", i)), ShouldBeNil)
			}
			for i := 0; i < 3; i++ {
				So(recvStr(t, ch1), ShouldEqual, fmt.Sprintf("one %d", i))
				So(recvStr(t, ch2), ShouldEqual, fmt.Sprintf("two %d", i))
			}

			So(h1.Free(), ShouldBeNil)
			<-h1.Done()

			So(sendBody(push2, "two late"), ShouldBeNil)
			So(recvStr(t, ch2), ShouldEqual, "two late")

			// The first socket and mailbox outlive their handle;
			// its pump is still filling the queue for direct reads.
			So(sendBody(push1, "one late"), ShouldBeNil)
			var m *mangos.Message
			err = reactor.ErrWouldBlock
			for j := 0; j < 400 && err == reactor.ErrWouldBlock; j++ {
				m, err = box1.RecvMsg()
				if err == reactor.ErrWouldBlock {
					time.Sleep(time.Millisecond * 5)
				}
			}
			So(err, ShouldBeNil)
			So(m, ShouldNotBeNil)
			So(string(m.Body), ShouldEqual, "one late")
			m.Free()

			So(h2.Free(), ShouldBeNil)
			<-h2.Done()
		})
	})
}
