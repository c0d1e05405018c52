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

// evcat implements a nanocat(1) workalike built on the event loop
// adapter: received messages arrive through a mailbox and a Handle
// rather than a blocking read, and periodic sends ride loop timers,
// so the whole program runs on a single goroutine plus the mailbox
// pump.  With --manual-pump even that goroutine goes away and a
// reaper hook moves the messages.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/droundy/goopt"
	"github.com/rs/zerolog"

	"nanomsg.org/go/mangos/v2"
	"nanomsg.org/go/mangos/v2/protocol/bus"
	"nanomsg.org/go/mangos/v2/protocol/pair"
	"nanomsg.org/go/mangos/v2/protocol/pub"
	"nanomsg.org/go/mangos/v2/protocol/pull"
	"nanomsg.org/go/mangos/v2/protocol/push"
	"nanomsg.org/go/mangos/v2/protocol/rep"
	"nanomsg.org/go/mangos/v2/protocol/req"
	"nanomsg.org/go/mangos/v2/protocol/respondent"
	"nanomsg.org/go/mangos/v2/protocol/star"
	"nanomsg.org/go/mangos/v2/protocol/sub"
	"nanomsg.org/go/mangos/v2/protocol/surveyor"
	_ "nanomsg.org/go/mangos/v2/transport/all"

	"nanomsg.org/go/reactor"
	"nanomsg.org/go/reactor/loop"
	"nanomsg.org/go/reactor/mailbox"
)

var verbose int
var protoSet bool
var proto string
var dialAddrs []string
var listenAddrs []string
var subscriptions []string
var recvTimeout int
var sendInterval int
var sendDelay int
var sendData []byte
var printFormat string
var batchLimit int
var eventsCheck int
var queueLimit int
var manualPump bool
var reapMillis int

func setProto(p string) error {
	if protoSet {
		return errors.New("protocol already selected")
	}
	proto = p
	protoSet = true
	return nil
}

func addDial(addr string) error {
	if !strings.Contains(addr, "://") {
		return errors.New("invalid address format")
	}
	dialAddrs = append(dialAddrs, addr)
	return nil
}

func addListen(addr string) error {
	if !strings.Contains(addr, "://") {
		return errors.New("invalid address format")
	}
	listenAddrs = append(listenAddrs, addr)
	return nil
}

func addListenIPC(path string) error {
	return addListen("ipc://" + path)
}

func addDialIPC(path string) error {
	return addDial("ipc://" + path)
}

func addListenLocal(port string) error {
	return addListen("tcp://127.0.0.1:" + port)
}

func addDialLocal(port string) error {
	return addDial("tcp://127.0.0.1:" + port)
}

func addSub(prefix string) error {
	subscriptions = append(subscriptions, prefix)
	return nil
}

func setSendData(data string) error {
	if sendData != nil {
		return errors.New("data or file already set")
	}
	sendData = []byte(data)
	return nil
}

func setSendFile(path string) error {
	if sendData != nil {
		return errors.New("data or file already set")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sendData, err = ioutil.ReadAll(f)
	return err
}

func setFormat(f string) error {
	if len(printFormat) > 0 {
		return errors.New("output format already set")
	}
	switch f {
	case "no":
	case "raw":
	case "ascii":
	case "quoted":
	default:
		return errors.New("invalid format type")
	}
	printFormat = f
	return nil
}

func intOpt(dst *int) func(string) error {
	return func(v string) error {
		var err error
		if *dst, err = strconv.Atoi(v); err != nil {
			return errors.New("value not an integer")
		}
		return nil
	}
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func init() {

	goopt.NoArg([]string{"--verbose", "-v"}, "Increase verbosity",
		func() error {
			verbose++
			return nil
		})
	goopt.NoArg([]string{"--silent", "-q"}, "Decrease verbosity",
		func() error {
			verbose--
			return nil
		})

	goopt.NoArg([]string{"--push"}, "Use PUSH socket type", func() error {
		return setProto("push")
	})
	goopt.NoArg([]string{"--pull"}, "Use PULL socket type", func() error {
		return setProto("pull")
	})
	goopt.NoArg([]string{"--pub"}, "Use PUB socket type", func() error {
		return setProto("pub")
	})
	goopt.NoArg([]string{"--sub"}, "Use SUB socket type", func() error {
		return setProto("sub")
	})
	goopt.NoArg([]string{"--req"}, "Use REQ socket type", func() error {
		return setProto("req")
	})
	goopt.NoArg([]string{"--rep"}, "Use REP socket type", func() error {
		return setProto("rep")
	})
	goopt.NoArg([]string{"--pair"}, "Use PAIR socket type", func() error {
		return setProto("pair")
	})
	goopt.NoArg([]string{"--bus"}, "Use BUS socket type", func() error {
		return setProto("bus")
	})
	goopt.NoArg([]string{"--star"}, "Use STAR socket type", func() error {
		return setProto("star")
	})
	goopt.NoArg([]string{"--surveyor"}, "Use SURVEYOR socket type",
		func() error {
			return setProto("surveyor")
		})
	goopt.NoArg([]string{"--respondent"}, "Use RESPONDENT socket type",
		func() error {
			return setProto("respondent")
		})

	goopt.ReqArg([]string{"--bind"}, "ADDR", "Bind socket to ADDR",
		addListen)
	goopt.ReqArg([]string{"--connect"}, "ADDR", "Connect socket to ADDR",
		addDial)
	goopt.ReqArg([]string{"--bind-ipc", "-X"}, "PATH",
		"Bind socket to IPC PATH", addListenIPC)
	goopt.ReqArg([]string{"--connect-ipc", "-x"}, "PATH",
		"Connect socket to IPC PATH", addDialIPC)
	goopt.ReqArg([]string{"--bind-local", "-L"}, "PORT",
		"Bind socket to TCP localhost PORT", addListenLocal)
	goopt.ReqArg([]string{"--connect-local", "-l"}, "PORT",
		"Connect socket to TCP localhost PORT", addDialLocal)
	goopt.ReqArg([]string{"--subscribe"}, "PREFIX",
		"Subscribe to PREFIX (default is wildcard)", addSub)

	goopt.ReqArg([]string{"--recv-timeout"}, "SEC",
		"Stop after SEC seconds with no received message",
		intOpt(&recvTimeout))
	goopt.ReqArg([]string{"--send-delay", "-d"}, "SEC",
		"Set initial send delay", intOpt(&sendDelay))
	goopt.ReqArg([]string{"--interval", "-i"}, "SEC",
		"Send DATA every SEC seconds", intOpt(&sendInterval))

	goopt.NoArg([]string{"--raw"}, "Raw output, no delimiters",
		func() error {
			return setFormat("raw")
		})
	goopt.NoArg([]string{"--ascii", "-A"}, "ASCII output, one per line",
		func() error {
			return setFormat("ascii")
		})
	goopt.NoArg([]string{"--quoted", "-Q"}, "Quoted output, one per line",
		func() error {
			return setFormat("quoted")
		})

	goopt.ReqArg([]string{"--data", "-D"}, "DATA", "Data to send",
		setSendData)
	goopt.ReqArg([]string{"--file", "-F"}, "FILE", "Send contents of FILE",
		setSendFile)

	goopt.ReqArg([]string{"--batch-limit"}, "N",
		"Deliver at most N messages per readiness callback",
		intOpt(&batchLimit))
	goopt.ReqArg([]string{"--events-check"}, "N",
		"Re-check socket readiness every N receives while draining",
		intOpt(&eventsCheck))
	goopt.ReqArg([]string{"--queue-limit"}, "N",
		"Hold at most N received messages in the mailbox",
		intOpt(&queueLimit))
	goopt.NoArg([]string{"--manual-pump"},
		"Pump the mailbox from a reaper hook instead of a goroutine",
		func() error {
			manualPump = true
			return nil
		})
	goopt.ReqArg([]string{"--reap-interval"}, "MSEC",
		"Reaper tick interval for --manual-pump", intOpt(&reapMillis))

	goopt.Description = func() string {
		return `evcat is a command-line interface to send and receive
data via the mangos implementation of the SP (nanomsg) protocols.  Unlike
nanocat(1) it performs no blocking reads: the socket is adapted onto an
event loop and messages are handed to a callback as readiness allows. `
	}

	goopt.Author = "The Mangos Authors"

	goopt.Suite = "mangos"

	goopt.Summary = "event loop driven interface to mangos messaging"

}

func newSocket(proto string) (mangos.Socket, error) {
	switch proto {
	case "push":
		return push.NewSocket()
	case "pull":
		return pull.NewSocket()
	case "pub":
		return pub.NewSocket()
	case "sub":
		return sub.NewSocket()
	case "req":
		return req.NewSocket()
	case "rep":
		return rep.NewSocket()
	case "pair":
		return pair.NewSocket()
	case "bus":
		return bus.NewSocket()
	case "star":
		return star.NewSocket()
	case "surveyor":
		return surveyor.NewSocket()
	case "respondent":
		return respondent.NewSocket()
	}
	return nil, errors.New("unknown protocol")
}

func printMsg(msg *mangos.Message) {
	bw := bufio.NewWriter(os.Stdout)
	switch printFormat {
	case "no":
		return
	case "raw":
		bw.Write(msg.Body)
	case "ascii":
		for i := 0; i < len(msg.Body); i++ {
			if strconv.IsPrint(rune(msg.Body[i])) {
				bw.WriteByte(msg.Body[i])
			} else {
				bw.WriteByte('.')
			}
		}
		bw.WriteString("\n")
	case "quoted":
		for i := 0; i < len(msg.Body); i++ {
			switch msg.Body[i] {
			case '\n':
				bw.WriteString("\\n")
			case '\r':
				bw.WriteString("\\r")
			case '\\':
				bw.WriteString("\\\\")
			case '"':
				bw.WriteString("\\\"")
			default:
				if strconv.IsPrint(rune(msg.Body[i])) {
					bw.WriteByte(msg.Body[i])
				} else {
					bw.WriteString(fmt.Sprintf("\\x%02x",
						msg.Body[i]))
				}
			}
		}
		bw.WriteString("\n")
	}
	bw.Flush()
}

// recvProto reports whether the selected protocol can receive, and so
// needs a mailbox and an adapter on the loop.
func recvProto() bool {
	switch proto {
	case "push", "pub":
		return false
	}
	return true
}

// sendProto reports whether the selected protocol initiates sends
// (rather than only replying to what it receives).
func sendProto() bool {
	switch proto {
	case "pull", "sub", "rep", "respondent":
		return false
	}
	return true
}

// replyProto reports whether received messages should be answered with
// the send data.
func replyProto() bool {
	switch proto {
	case "rep", "respondent":
		return sendData != nil
	}
	return false
}

func main() {

	goopt.Parse(nil)

	level := zerolog.Disabled
	switch {
	case verbose == 1:
		level = zerolog.InfoLevel
	case verbose >= 2:
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(level)

	if len(proto) == 0 {
		fatalf("Protocol not specified.")
	}
	sock, err := newSocket(proto)
	if err != nil {
		fatalf("Failed creating socket: %v", err)
	}
	defer sock.Close()

	if len(listenAddrs) == 0 && len(dialAddrs) == 0 {
		fatalf("No address specified.")
	}

	if proto != "sub" {
		if len(subscriptions) > 0 {
			fatalf("Subscriptions only valid with SUB type sockets.")
		}
	} else if len(subscriptions) > 0 {
		for i := range subscriptions {
			err = sock.SetOption(mangos.OptionSubscribe,
				[]byte(subscriptions[i]))
			if err != nil {
				fatalf("Can't subscribe: %v", err)
			}
		}
	} else {
		err = sock.SetOption(mangos.OptionSubscribe, []byte{})
		if err != nil {
			fatalf("Can't wild card subscribe: %v", err)
		}
	}

	if sendProto() && sendData == nil && proto != "pair" &&
		proto != "bus" && proto != "star" {
		fatalf("No data to send!")
	}
	if !replyProto() && !sendProto() && sendData != nil {
		fatalf("Cannot send with %s socket.", proto)
	}

	for i := range listenAddrs {
		if err = sock.Listen(listenAddrs[i]); err != nil {
			fatalf("Bind(%s): %v", listenAddrs[i], err)
		}
		log.Info().Str("addr", listenAddrs[i]).Msg("listening")
	}
	for i := range dialAddrs {
		if err = sock.Dial(dialAddrs[i]); err != nil {
			fatalf("Dial(%s): %v", dialAddrs[i], err)
		}
		log.Info().Str("addr", dialAddrs[i]).Msg("dialing")
	}

	if len(printFormat) == 0 {
		printFormat = "ascii"
	}

	l, err := loop.New()
	if err != nil {
		fatalf("Failed creating loop: %v", err)
	}
	l.SetLogger(log)

	var h *reactor.Handle
	var box *mailbox.Mailbox
	var rp *reactor.Reaper
	var idle reactor.Timer

	// rearm pushes the idle stop deadline out again.  Runs only on
	// the loop goroutine.
	rearm := func() {
		if recvTimeout <= 0 {
			return
		}
		if idle != nil {
			idle.Stop()
		}
		t, err := l.AddTimer(time.Duration(recvTimeout)*time.Second, 0,
			func() {
				log.Info().Msg("idle timeout, stopping")
				l.Stop()
			})
		if err != nil {
			fatalf("Failed arming idle timer: %v", err)
		}
		idle = t
	}

	if recvProto() {
		opts := make(map[string]interface{})
		if queueLimit > 0 {
			opts[mailbox.OptionQueueLimit] = queueLimit
		}
		if manualPump {
			opts[mailbox.OptionManualPump] = true
		}
		opts[mailbox.OptionLogger] = log

		if box, err = mailbox.New(sock, opts); err != nil {
			fatalf("Failed creating mailbox: %v", err)
		}
		defer box.Close()

		handler := reactor.HandlerFunc(func(hh *reactor.Handle, m *mangos.Message) {
			printMsg(m)
			rearm()
			if replyProto() {
				m.Body = m.Body[:0]
				m.Body = append(m.Body, sendData...)
				if err := hh.Socket().SendMsg(m); err != nil {
					log.Warn().Err(err).Msg("reply failed")
					m.Free()
				}
				return
			}
			m.Free()
		})

		if h, err = reactor.Attach(l, box, handler, nil); err != nil {
			fatalf("Failed attaching adapter: %v", err)
		}
		if batchLimit > 0 {
			if err = h.SetOption(reactor.OptionBatchLimit, batchLimit); err != nil {
				fatalf("Bad batch limit: %v", err)
			}
		}
		if eventsCheck > 0 {
			if err = h.SetOption(reactor.OptionEventsCheck, eventsCheck); err != nil {
				fatalf("Bad events check: %v", err)
			}
		}
		h.SetOption(reactor.OptionLogger, log)
		log.Info().Int("fd", h.Descriptor()).Msg("adapter attached")

		if manualPump {
			rp = reactor.NewReaper(l, time.Duration(reapMillis)*time.Millisecond)
			rp.Hook(func() {
				box.Pump(128)
			})
			if err = rp.Start(); err != nil {
				fatalf("Failed starting reaper: %v", err)
			}
		}
	}

	if sendProto() && sendData != nil {
		initial := time.Duration(sendDelay) * time.Second
		repeat := time.Duration(sendInterval) * time.Second
		_, err = l.AddTimer(initial, repeat, func() {
			m := mangos.NewMessage(len(sendData))
			m.Body = append(m.Body, sendData...)
			if err := sock.SendMsg(m); err != nil {
				fatalf("SendMsg failed: %v", err)
			}
			log.Info().Int("len", len(sendData)).Msg("sent")
		})
		if err != nil {
			fatalf("Failed arming send timer: %v", err)
		}
	}

	rearm()

	if err = l.Run(); err != nil {
		fatalf("Loop failed: %v", err)
	}

	if rp != nil {
		rp.Stop()
	}
	if h != nil {
		if err = h.Free(); err == nil {
			l.Step(false)
		}
	}
	l.Close()
}
