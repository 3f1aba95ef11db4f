package datastore

import "testing"

func TestRegistryLockDeniesOtherSession(t *testing.T) {
	r := New()
	if err := r.Lock(Candidate, 1); err != nil {
		t.Fatalf("lock by 1: %v", err)
	}
	if err := r.Lock(Candidate, 2); err == nil {
		t.Fatalf("expected lock denial for session 2")
	}
	if err := r.Lock(Candidate, 1); err != nil {
		t.Fatalf("re-lock by same holder should succeed: %v", err)
	}
}

func TestRegistryUnlockAllOnSessionDestroy(t *testing.T) {
	r := New()
	if err := r.Lock(Running, 7); err != nil {
		t.Fatalf("lock: %v", err)
	}
	r.UnlockAll(7)
	if got := r.IsLocked(Running); got != 0 {
		t.Errorf("expected unlocked, got holder %d", got)
	}
}

func TestRegistryCandidateLockDeniedWhileDirtyForOtherSession(t *testing.T) {
	r := New()
	payload := NewContainer("config")
	payload.Put(NewLeaf("hostname", "a"))
	if err := r.Put(Candidate, OpMerge, payload, 3); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.Lock(Candidate, 4); err == nil {
		t.Fatalf("expected lock denial on dirty candidate held by a different session")
	}
	if err := r.Lock(Candidate, 3); err != nil {
		t.Fatalf("same session that dirtied candidate should be able to lock it: %v", err)
	}
}

func TestRegistryCopyAndDirtyTracking(t *testing.T) {
	r := New()
	payload := NewContainer("config")
	payload.Put(NewLeaf("hostname", "a"))
	if err := r.Put(Candidate, OpMerge, payload, 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	dirty, by := r.Dirty(Candidate)
	if !dirty || by != 1 {
		t.Fatalf("expected dirty by session 1, got dirty=%v by=%d", dirty, by)
	}

	if err := r.Copy(Candidate, Running); err != nil {
		t.Fatalf("copy: %v", err)
	}
	r.MarkClean(Candidate)
	dirty, _ = r.Dirty(Candidate)
	if dirty {
		t.Errorf("expected candidate clean after commit+mark")
	}

	got, err := r.Get(Running, []string{"hostname"}, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Value != "a" {
		t.Errorf("expected running to carry committed hostname, got %v", got)
	}
}

func TestRegistryRenameWithCollisionSuffix(t *testing.T) {
	r := New()
	if err := r.Create(Rollback); err != nil {
		t.Fatalf("create rollback: %v", err)
	}
	if err := r.Create("rollback.error"); err != nil {
		t.Fatalf("create rollback.error: %v", err)
	}
	if err := r.Rename(Rollback, "rollback.error", ".error"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if !r.Exists("rollback.error") {
		t.Errorf("expected rollback to now be at rollback.error")
	}
	if !r.Exists("rollback.error.error") {
		t.Errorf("expected prior rollback.error to be shifted aside to rollback.error.error")
	}
	if r.Exists(Rollback) {
		t.Errorf("expected rollback to no longer exist under its old name")
	}
}
