package registry

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/p2pconvert/codec"
	"github.com/opd-ai/p2pconvert/session"
)

func newSess(peer string, role session.Role) *session.Session {
	return session.New(codec.NewTransferID(), role, peer, 1024, 1, time.Now(), 10*time.Minute)
}

func TestInsertAndGet(t *testing.T) {
	r := New(Limits{Global: 10, PerPeer: 10, PerRole: 10, GraceTimeout: time.Minute})
	s := newSess("peer-a", session.RoleResponder)

	if err := r.Insert(s); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != s {
		t.Error("Get() returned a different session")
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	r := New(Limits{Global: 10, PerPeer: 10, PerRole: 10, GraceTimeout: time.Minute})
	s := newSess("peer-a", session.RoleResponder)
	_ = r.Insert(s)
	if err := r.Insert(s); err == nil {
		t.Error("expected an error inserting a duplicate TransferId")
	}
}

func TestPerPeerCapEnforced(t *testing.T) {
	r := New(Limits{Global: 100, PerPeer: 1, PerRole: 100, GraceTimeout: time.Minute})
	_ = r.Insert(newSess("peer-a", session.RoleResponder))

	if err := r.Insert(newSess("peer-a", session.RoleResponder)); err == nil {
		t.Error("expected the per-peer cap to reject a second session for the same peer")
	}
	if err := r.Insert(newSess("peer-b", session.RoleResponder)); err != nil {
		t.Errorf("a different peer should not be capped: %v", err)
	}
}

func TestGlobalCapEnforced(t *testing.T) {
	r := New(Limits{Global: 1, PerPeer: 100, PerRole: 100, GraceTimeout: time.Minute})
	_ = r.Insert(newSess("peer-a", session.RoleResponder))

	if err := r.Insert(newSess("peer-b", session.RoleResponder)); err == nil {
		t.Error("expected the global cap to reject a second session")
	}
}

func TestSweepRemovesAfterGrace(t *testing.T) {
	r := New(Limits{Global: 100, PerPeer: 100, PerRole: 100, GraceTimeout: 10 * time.Millisecond})
	s := newSess("peer-a", session.RoleResponder)
	_ = r.Insert(s)
	_ = s.Transition(session.Negotiating, nil)
	_ = s.Transition(session.Failed, session.NewFailure(session.KindTimeout, "test", nil))

	removed := r.Sweep(time.Now())
	if len(removed) != 0 {
		t.Error("should not sweep before the grace period elapses")
	}

	removed = r.Sweep(time.Now().Add(50 * time.Millisecond))
	if len(removed) != 1 {
		t.Fatalf("expected one removed entry, got %d", len(removed))
	}
	if r.Len() != 0 {
		t.Errorf("registry should be empty after sweep, got %d entries", r.Len())
	}
}

func TestIterStaleFindsExpiredDeadlines(t *testing.T) {
	r := New(Limits{Global: 100, PerPeer: 100, PerRole: 100, GraceTimeout: time.Minute})
	s := session.New(codec.NewTransferID(), session.RoleInitiator, "peer-a", 1024, 1, time.Now().Add(-time.Hour), time.Minute)
	_ = r.Insert(s)

	stale := r.IterStale(time.Now())
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale session, got %d", len(stale))
	}
}

func TestShutdownEmptiesRegistry(t *testing.T) {
	r := New(Limits{Global: 100, PerPeer: 100, PerRole: 100, GraceTimeout: time.Minute})
	_ = r.Insert(newSess("peer-a", session.RoleResponder))
	_ = r.Insert(newSess("peer-b", session.RoleInitiator))

	r.Shutdown(context.Background(), 2*time.Second)

	if r.Len() != 0 {
		t.Errorf("registry should be empty after Shutdown, got %d entries", r.Len())
	}
}
