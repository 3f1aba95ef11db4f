package session

import (
	"sync"

	"github.com/opencfgd/confd/internal/confirmedcommit"
	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/mgmterror"
	"github.com/opencfgd/confd/internal/notify"
	"github.com/rs/zerolog"
)

// Registry is the process-wide session directory, generalized from the
// teacher's SessionMgr (session/sessionmgr.go) from string sids to
// monotonically assigned int64 ids per spec §3 ("Session -- id
// (monotonically assigned positive integer, never reused)").
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	nextID   int64

	reg *datastore.Registry
	bus *notify.Bus
	cc  *confirmedcommit.Machine
	log zerolog.Logger

	onCreate func()
	onDestroy func()
}

// NewRegistry builds an empty session registry.
func NewRegistry(reg *datastore.Registry, bus *notify.Bus, cc *confirmedcommit.Machine, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: map[int64]*Session{},
		reg:      reg,
		bus:      bus,
		cc:       cc,
		log:      log,
	}
}

// OnLifecycle registers gauge-update hooks invoked on session creation
// and destruction, wired to a prometheus gauge by cmd/confd.
func (r *Registry) OnLifecycle(onCreate, onDestroy func()) {
	r.onCreate = onCreate
	r.onDestroy = onDestroy
}

// Create allocates a new session id and starts its actor loop.
func (r *Registry) Create(peer string) *Session {
	r.mu.Lock()
	r.nextID++
	s := newSession(r.nextID, peer)
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.log.Info().Int64("sid", s.ID).Str("peer", peer).Msg("session created")
	if r.onCreate != nil {
		r.onCreate()
	}
	return s
}

// Get looks up a live session by id.
func (r *Registry) Get(id int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Destroy ends a session: releases its datastore locks, cancels its
// notification subscriptions, informs the confirmed-commit machine (so
// an owned EPHEMERAL sequence rolls back), and stops its actor loop.
// Safe to call more than once for the same id.
func (r *Registry) Destroy(id int64) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.reg.UnlockAll(id)
	r.bus.UnsubscribeSession(id)
	r.cc.OnSessionDestroyed(id)
	s.Destroy()
	r.log.Info().Int64("sid", id).Msg("session destroyed")
	if r.onDestroy != nil {
		r.onDestroy()
	}
}

// KillSession implements the `kill-session` RPC of spec §4.2: always
// replies ok except when the target session doesn't exist, tearing the
// target down synchronously without waiting on any external liveness
// signal (spec §9 Open Question (a)).
func (r *Registry) KillSession(id int64) error {
	if _, ok := r.Get(id); !ok {
		return mgmterror.NewOperationFailedApplicationError()
	}
	r.Destroy(id)
	return nil
}

// List snapshots every live session.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
