// Package session implements the session registry of spec §4.1/§5: each
// client connection owns one Session, identified by a monotonically
// assigned, never-reused positive integer id. Session lifecycle
// (kill-session racing a client's own close-session) is serialized
// through a small actor loop, directly grounded on the teacher's
// session.go/session_internal.go run() loop
// (reqch/kill/term channel triple) — generalized here from a private
// per-session candidate tree to pure lifecycle bookkeeping, since this
// repository's datastores are shared and named, not per-session.
package session

import (
	"time"
)

// Session is one client's connection state: its locks, subscriptions
// and identity live in the datastore/notify packages keyed by ID; this
// struct is the actor that serializes lifecycle events against it.
type Session struct {
	ID      int64
	Peer    string
	Created time.Time

	reqch chan func()
	kill  chan struct{}
	term  chan struct{}
}

func newSession(id int64, peer string) *Session {
	s := &Session{
		ID:      id,
		Peer:    peer,
		Created: time.Now(),
		reqch:   make(chan func(), 8),
		kill:    make(chan struct{}),
		term:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.reqch:
			fn()
		case <-s.kill:
			close(s.term)
			return
		}
	}
}

// Do serializes fn onto this session's actor loop. It reports false
// without running fn if the session has already been destroyed —
// the case a kill-session and a client's final close-session race
// each other (spec §9 Open Question (a)).
func (s *Session) Do(fn func()) bool {
	select {
	case s.reqch <- fn:
		return true
	case <-s.term:
		return false
	}
}

// Destroy stops the session's actor loop, idempotently.
func (s *Session) Destroy() {
	select {
	case <-s.term:
		return
	default:
	}
	select {
	case <-s.kill:
	default:
		close(s.kill)
	}
	<-s.term
}
