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
	"os"
	"testing"
	"time"

	"nanomsg.org/go/reactor"
)

func newTestLoop(t *testing.T) *Loop {
	l, err := New()
	if err == reactor.ErrNotSup {
		t.Skip("no poller on this platform")
	}
	if err != nil {
		t.Fatalf("Failed to create loop: %v", err)
	}
	return l
}

func TestLoopRunEmpty(t *testing.T) {
	l := newTestLoop(t)
	if err := l.Run(); err != nil {
		t.Errorf("Idle run failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Failed to close: %v", err)
	}
}

func TestLoopPollReadable(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	var p reactor.Poll
	var got reactor.PollEvents
	fired := 0
	p, err = l.AddPoll(int(r.Fd()), func(ev reactor.PollEvents) {
		fired++
		got = ev
		buf := make([]byte, 16)
		if _, err := r.Read(buf); err != nil {
			t.Errorf("Failed to read pipe: %v", err)
		}
		_ = p.Close(func() {})
	})
	if err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if err = p.Start(reactor.PollIn); err != nil {
		t.Fatalf("Failed to start poll: %v", err)
	}
	if _, err = w.Write([]byte("ping")); err != nil {
		t.Fatalf("Failed to write pipe: %v", err)
	}
	if err = l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("Callback fired %d times, want 1", fired)
	}
	if got&reactor.PollIn == 0 {
		t.Errorf("Callback events %v lack input readiness", got)
	}
	_ = l.Close()
}

func TestLoopPostedWork(t *testing.T) {
	l := newTestLoop(t)
	ran := false
	if err := l.Post(func() { ran = true }); err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	if err := l.Post(nil); err != reactor.ErrBadArg {
		t.Errorf("Nil post returned %v", err)
	}
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ran {
		t.Errorf("Posted function never ran")
	}
	_ = l.Close()
}

func TestLoopPostWakesBlockedRun(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	// An armed poll with no traffic keeps Run blocked in the poller.
	p, err := l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {})
	if err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if err = p.Start(reactor.PollIn); err != nil {
		t.Fatalf("Failed to start poll: %v", err)
	}

	ran := false
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	time.Sleep(time.Millisecond * 20)
	if err = l.Post(func() { ran = true; l.Stop() }); err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	select {
	case err = <-done:
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
	case <-time.After(time.Second * 2):
		t.Fatalf("Posted function never woke the loop")
	}
	if !ran {
		t.Errorf("Posted function never ran")
	}
	_ = l.Close()
}

func TestLoopStopUnblocksRun(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	p, err := l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {})
	if err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if err = p.Start(reactor.PollIn); err != nil {
		t.Fatalf("Failed to start poll: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	time.Sleep(time.Millisecond * 20)
	l.Stop()
	select {
	case err = <-done:
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
	case <-time.After(time.Second * 2):
		t.Fatalf("Stop never unblocked the loop")
	}
	_ = l.Close()
}

func TestLoopRunWhileRunning(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	p, err := l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {})
	if err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if err = p.Start(reactor.PollIn); err != nil {
		t.Fatalf("Failed to start poll: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	time.Sleep(time.Millisecond * 20)
	if err = l.Run(); err != reactor.ErrRunning {
		t.Errorf("Second run returned %v", err)
	}
	if err = l.Close(); err != reactor.ErrRunning {
		t.Errorf("Close of running loop returned %v", err)
	}
	l.Stop()
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatalf("Stop never unblocked the loop")
	}
	if err = l.Close(); err != nil {
		t.Errorf("Failed to close: %v", err)
	}
	if err = l.Run(); err != reactor.ErrClosed {
		t.Errorf("Run after close returned %v", err)
	}
	if err = l.Post(func() {}); err != reactor.ErrClosed {
		t.Errorf("Post after close returned %v", err)
	}
	if _, err = l.AddPoll(0, func(reactor.PollEvents) {}); err != reactor.ErrClosed {
		t.Errorf("AddPoll after close returned %v", err)
	}
	if _, err = l.AddTimer(0, 0, func() {}); err != reactor.ErrClosed {
		t.Errorf("AddTimer after close returned %v", err)
	}
}

func TestLoopTimerOneShot(t *testing.T) {
	l := newTestLoop(t)
	fired := 0
	start := time.Now()
	if _, err := l.AddTimer(time.Millisecond*20, 0, func() { fired++ }); err != nil {
		t.Fatalf("Failed to add timer: %v", err)
	}
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("Timer fired %d times, want 1", fired)
	}
	if elapsed := time.Since(start); elapsed < time.Millisecond*15 {
		t.Errorf("Timer fired too soon: %v", elapsed)
	}
	_ = l.Close()
}

func TestLoopTimerRepeat(t *testing.T) {
	l := newTestLoop(t)
	count := 0
	var tm reactor.Timer
	tm, err := l.AddTimer(time.Millisecond*5, time.Millisecond*5, func() {
		count++
		if count == 3 {
			if err := tm.Stop(); err != nil {
				t.Errorf("Failed to stop timer: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("Failed to add timer: %v", err)
	}
	if err = l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Timer fired %d times, want 3", count)
	}
	_ = l.Close()
}

func TestLoopTimerStopBeforeFire(t *testing.T) {
	l := newTestLoop(t)
	fired := false
	tm, err := l.AddTimer(time.Hour, 0, func() { fired = true })
	if err != nil {
		t.Fatalf("Failed to add timer: %v", err)
	}
	if err = tm.Stop(); err != nil {
		t.Fatalf("Failed to stop timer: %v", err)
	}
	if err = tm.Stop(); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
	if err = l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fired {
		t.Errorf("Stopped timer fired anyway")
	}
	_ = l.Close()
}

func TestLoopTimerOrdering(t *testing.T) {
	l := newTestLoop(t)
	var order []int
	if _, err := l.AddTimer(time.Millisecond*60, 0, func() {
		order = append(order, 2)
	}); err != nil {
		t.Fatalf("Failed to add timer: %v", err)
	}
	if _, err := l.AddTimer(time.Millisecond*10, 0, func() {
		order = append(order, 1)
	}); err != nil {
		t.Fatalf("Failed to add timer: %v", err)
	}
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Timers fired out of order: %v", order)
	}
	_ = l.Close()
}

func TestLoopTimerBadArgs(t *testing.T) {
	l := newTestLoop(t)
	if _, err := l.AddTimer(-time.Second, 0, func() {}); err != reactor.ErrBadArg {
		t.Errorf("Negative initial returned %v", err)
	}
	if _, err := l.AddTimer(0, 0, nil); err != reactor.ErrBadArg {
		t.Errorf("Nil function returned %v", err)
	}
	_ = l.Close()
}

func TestLoopAddPollBadArgs(t *testing.T) {
	l := newTestLoop(t)
	if _, err := l.AddPoll(-1, func(reactor.PollEvents) {}); err != reactor.ErrBadArg {
		t.Errorf("Negative descriptor returned %v", err)
	}
	if _, err := l.AddPoll(0, nil); err != reactor.ErrBadArg {
		t.Errorf("Nil callback returned %v", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	if _, err = l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {}); err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if _, err = l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {}); err != reactor.ErrBadArg {
		t.Errorf("Duplicate descriptor returned %v", err)
	}
	_ = l.Close()
}

func TestLoopCompletionAfterClose(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	p, err := l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {})
	if err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if err = p.Start(reactor.PollIn); err != nil {
		t.Fatalf("Failed to start poll: %v", err)
	}
	ran := false
	if err = p.Close(func() { ran = true }); err != nil {
		t.Fatalf("Failed to close poll: %v", err)
	}
	if ran {
		t.Errorf("Completion ran inside poll close")
	}
	if err = p.Close(func() {}); err != reactor.ErrClosed {
		t.Errorf("Second poll close returned %v", err)
	}
	// The loop never iterates again; its own Close must deliver the
	// pending completion rather than lose it.
	if err = l.Close(); err != nil {
		t.Fatalf("Failed to close loop: %v", err)
	}
	if !ran {
		t.Errorf("Loop close dropped the completion")
	}
	if err = l.Close(); err != reactor.ErrClosed {
		t.Errorf("Second loop close returned %v", err)
	}
}

func TestLoopCompletionOrdering(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to make pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	p, err := l.AddPoll(int(r.Fd()), func(reactor.PollEvents) {})
	if err != nil {
		t.Fatalf("Failed to add poll: %v", err)
	}
	if err = p.Start(reactor.PollIn); err != nil {
		t.Fatalf("Failed to start poll: %v", err)
	}
	closeReturned := false
	completionRan := false
	err = l.Post(func() {
		if err := p.Close(func() {
			completionRan = true
			if !closeReturned {
				t.Errorf("Completion delivered inside Close")
			}
		}); err != nil {
			t.Errorf("Failed to close poll: %v", err)
		}
		closeReturned = true
	})
	if err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	if err = l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !completionRan {
		t.Errorf("Completion never delivered")
	}
	_ = l.Close()
}

func TestLoopStep(t *testing.T) {
	l := newTestLoop(t)
	if l.Step(false) {
		t.Errorf("Idle step reported pending work")
	}
	ran := false
	if err := l.Post(func() { ran = true }); err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	if l.Step(false) {
		t.Errorf("Step left work behind")
	}
	if !ran {
		t.Errorf("Step skipped the posted function")
	}
	_ = l.Close()
	if l.Step(false) {
		t.Errorf("Closed loop claims pending work")
	}
}
