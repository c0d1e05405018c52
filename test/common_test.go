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

// Package test holds end to end tests wiring real mangos sockets
// through mailboxes and handles into a running loop.
package test

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"nanomsg.org/go/mangos/v2"
	_ "nanomsg.org/go/mangos/v2/transport/inproc"
	_ "nanomsg.org/go/mangos/v2/transport/tcp"

	"nanomsg.org/go/reactor"
	"nanomsg.org/go/reactor/loop"
)

var currLock sync.Mutex
var currPort uint16
var currID uint32

func init() {
	currPort = uint16(rand.New(rand.NewSource(time.Now().UnixNano())).Uint32()%20000 + 20000)
}

// AddrTestTCP returns a TCP address that earlier tests have not used.
func AddrTestTCP() string {
	currLock.Lock()
	defer currLock.Unlock()
	currPort++
	return fmt.Sprintf("tcp://127.0.0.1:%d", currPort)
}

// AddrTestInp returns a fresh inproc address.
func AddrTestInp() string {
	currLock.Lock()
	defer currLock.Unlock()
	currID++
	return fmt.Sprintf("inproc://reactor_test_%d", currID)
}

// skipIfNoLoop skips the test on platforms with no poller backend.
func skipIfNoLoop(t *testing.T) {
	l, err := loop.New()
	if err == reactor.ErrNotSup {
		t.Skip("no poller on this platform")
	}
	if err != nil {
		t.Fatalf("Failed to make loop: %v", err)
	}
	l.Close()
}

// startLoop runs l on its own goroutine and returns a teardown
// function that stops the loop, reaps Run, and closes it.  The
// teardown is safe whether or not Run has already drained down on
// its own.
func startLoop(l *loop.Loop) func() {
	errq := make(chan error, 1)
	go func() {
		errq <- l.Run()
	}()
	return func() {
		l.Stop()
		<-errq
		l.Close()
	}
}

// collector returns a handler that forwards message bodies to ch.
// The channel must have enough capacity that the handler never
// blocks the loop.
func collector(ch chan string) reactor.Handler {
	return reactor.HandlerFunc(func(h *reactor.Handle, m *mangos.Message) {
		ch <- string(m.Body)
		m.Free()
	})
}

// recvStr waits up to two seconds for the next collected body.
func recvStr(t *testing.T, ch chan string) string {
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second * 2):
		t.Errorf("Timed out waiting for a message")
		return ""
	}
}

// sendBody pushes a string through a socket as a fresh message.
func sendBody(sock mangos.Socket, body string) error {
	m := mangos.NewMessage(len(body))
	m.Body = append(m.Body, []byte(body)...)
	return sock.SendMsg(m)
}
