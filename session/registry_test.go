package session

import (
	"testing"
	"time"

	"github.com/opencfgd/confd/internal/confirmedcommit"
	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/eventloop"
	"github.com/opencfgd/confd/internal/notify"
	"github.com/opencfgd/confd/internal/plugin"
	"github.com/opencfgd/confd/internal/schema"
	"github.com/opencfgd/confd/txn"
	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := datastore.New()
	schm := schema.NewBuilder().Build()
	engine := txn.New(reg, schm, plugin.NewRegistry(), zerolog.Nop())
	loop := eventloop.New()
	t.Cleanup(loop.Stop)
	cc := confirmedcommit.New(loop, reg, engine, zerolog.Nop())
	bus := notify.NewBus()
	return NewRegistry(reg, bus, cc, zerolog.Nop())
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	r := newTestRegistry(t)
	a := r.Create("peer-a")
	b := r.Create("peer-b")
	if b.ID <= a.ID {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a.ID, b.ID)
	}
}

func TestDestroyReleasesLocksAndSubscriptions(t *testing.T) {
	reg := datastore.New()
	schm := schema.NewBuilder().Build()
	engine := txn.New(reg, schm, plugin.NewRegistry(), zerolog.Nop())
	loop := eventloop.New()
	t.Cleanup(loop.Stop)
	cc := confirmedcommit.New(loop, reg, engine, zerolog.Nop())
	bus := notify.NewBus()
	r := NewRegistry(reg, bus, cc, zerolog.Nop())

	s := r.Create("peer")
	if err := reg.Lock(datastore.Candidate, s.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := notify.Subscribe(bus, s.ID, "config-change", "", "", 4); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r.Destroy(s.ID)

	if reg.IsLocked(datastore.Candidate) != 0 {
		t.Errorf("expected candidate unlocked after session destroy")
	}
	if len(bus.Subscriptions()) != 0 {
		t.Errorf("expected subscriptions cleared after session destroy")
	}
	if _, ok := r.Get(s.ID); ok {
		t.Errorf("expected session no longer resolvable after destroy")
	}
}

func TestKillSessionUnknownIDFails(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.KillSession(999); err == nil {
		t.Fatalf("expected error killing a nonexistent session")
	}
}

func TestKillSessionEndsOwnedConfirmedCommitSequence(t *testing.T) {
	reg := datastore.New()
	schm := schema.NewBuilder().Build()
	engine := txn.New(reg, schm, plugin.NewRegistry(), zerolog.Nop())
	loop := eventloop.New()
	t.Cleanup(loop.Stop)
	cc := confirmedcommit.New(loop, reg, engine, zerolog.Nop())
	bus := notify.NewBus()
	r := NewRegistry(reg, bus, cc, zerolog.Nop())

	s := r.Create("peer")
	if _, err := cc.Commit(s.ID, true, time.Minute, "", "", datastore.Candidate); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := r.KillSession(s.ID); err != nil {
		t.Fatalf("kill-session: %v", err)
	}
	state, _, _ := cc.Snapshot()
	if state != confirmedcommit.Inactive {
		t.Fatalf("expected confirmed-commit sequence rolled back on owner kill, got %v", state)
	}
}
