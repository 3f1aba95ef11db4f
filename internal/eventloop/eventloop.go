// Package eventloop provides the single serialization point for
// timer- and signal-driven state transitions described in spec §5/§9
// ("a single-threaded I/O multiplexer with fd-callbacks, timed
// callbacks, and signal handling"). Connection I/O itself is handled
// the idiomatic Go way — one goroutine per accepted connection doing
// blocking reads, as the teacher's own server loop does — so this
// package's job is narrower than a literal select()/poll() loop: it
// gives confirmed-commit timer expiry a single goroutine to run on,
// serialized with every other posted callback. RPC-triggered
// confirmed-commit transitions do not go through the loop;
// internal/confirmedcommit guards them with its own mutex.
package eventloop

import (
	"os"
	"os/signal"
	"sync/atomic"
	"time"
)

// Loop serializes posted callbacks onto one goroutine.
type Loop struct {
	taskCh chan func()
	stopCh chan struct{}
}

// New starts a Loop's run goroutine.
func New() *Loop {
	l := &Loop{
		taskCh: make(chan func(), 64),
		stopCh: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.taskCh:
			fn()
		case <-l.stopCh:
			return
		}
	}
}

// Post schedules fn to run on the loop goroutine, serialized with every
// other posted callback.
func (l *Loop) Post(fn func()) {
	select {
	case l.taskCh <- fn:
	case <-l.stopCh:
	}
}

// Stop terminates the loop goroutine. Pending posted tasks are dropped.
func (l *Loop) Stop() {
	close(l.stopCh)
}

// TimerHandle lets a caller cancel a scheduled timer callback before it
// fires. Once a callback has begun executing on the loop goroutine it
// cannot be cancelled — Cancel only prevents a callback that hasn't
// started yet from being posted.
type TimerHandle struct {
	timer       *time.Timer
	generation  int64
	cancelled   int32
}

// Cancel stops the timer. It returns false if the timer had already
// fired (and its callback has been posted, possibly already run).
func (h *TimerHandle) Cancel() bool {
	atomic.StoreInt32(&h.cancelled, 1)
	return h.timer.Stop()
}

// Generation identifies which ScheduleTimer call produced this handle,
// letting a callback detect a stale firing race (the timer fired just
// as a newer timer was armed for the same logical purpose).
func (h *TimerHandle) Generation() int64 {
	return h.generation
}

var genCounter int64

// ScheduleTimer arranges for fn to run on the loop goroutine after d.
// fn receives the generation number of this particular schedule call,
// so confirmedcommit can detect and ignore a stale firing that lost a
// race against a newer timer or an explicit state transition.
func (l *Loop) ScheduleTimer(d time.Duration, fn func(generation int64)) *TimerHandle {
	gen := atomic.AddInt64(&genCounter, 1)
	h := &TimerHandle{generation: gen}
	h.timer = time.AfterFunc(d, func() {
		if atomic.LoadInt32(&h.cancelled) == 1 {
			return
		}
		l.Post(func() { fn(gen) })
	})
	return h
}

// Signals returns a channel delivering the named signals, for graceful
// shutdown handling in cmd/confd (SIGTERM/SIGINT per spec §6).
func Signals(sigs ...os.Signal) <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	return ch
}
