// Package registry implements the process-wide Session Registry (§4.6):
// a single mapping from TransferId to live Session, enforcing global,
// per-peer, and per-role concurrency caps, and retaining terminated
// entries for a grace period so in-flight acks/finals can be routed to
// them cleanly instead of being misrouted to a reused identifier.
//
// Grounded on the teacher's file.Manager, which keyed a similar map by
// (friendID, fileID) under a single mutex (§5: "a single critical section
// per call, never held across a suspension point"); this generalizes the
// key to TransferId and adds the cap/grace-period machinery the wire
// protocol's admission control needs.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/p2pconvert/codec"
	"github.com/opd-ai/p2pconvert/session"
	"github.com/sirupsen/logrus"
)

// ErrCapacityExceeded is returned by Insert when a global, per-peer, or
// per-role cap would be exceeded (§4.4(a), §4.6).
var ErrCapacityExceeded = fmt.Errorf("registry: %w", session.ErrAdmissionDenied)

// ErrAlreadyExists is returned by Insert for a TransferId already present
// (live or within its grace period).
var ErrAlreadyExists = fmt.Errorf("registry: transfer already registered")

// ErrNotFound is returned by Get/Remove for an unknown TransferId.
var ErrNotFound = fmt.Errorf("registry: transfer not found")

// Limits bounds the Registry's admission decisions (§4.4(a), §4.6).
type Limits struct {
	Global       int
	PerPeer      int
	PerRole      int
	GraceTimeout time.Duration
}

// entry wraps a live or recently-terminated Session; the grace-period
// sweep reads the session's own TerminatedAt.
type entry struct {
	sess *session.Session
}

// Registry is the process-wide TransferId -> Session directory. All
// operations take reg.mu for exactly one critical section and never hold
// it across a suspension point (§5).
type Registry struct {
	limits Limits

	mu      sync.Mutex
	entries map[codec.TransferID]*entry
}

// New returns an empty Registry enforcing limits.
func New(limits Limits) *Registry {
	return &Registry{
		limits:  limits,
		entries: make(map[codec.TransferID]*entry),
	}
}

// Insert admits sess if the global, per-peer, and per-role caps allow it,
// returning ErrCapacityExceeded otherwise. Counting only considers
// non-terminal sessions plus sessions still inside their grace period, so
// a burst of completions frees capacity promptly.
func (r *Registry) Insert(sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[sess.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, sess.ID)
	}

	global, perPeer, perRole := r.countLocked(sess.PeerID, sess.Role)
	if r.limits.Global > 0 && global >= r.limits.Global {
		return fmt.Errorf("%w: global cap %d reached", ErrCapacityExceeded, r.limits.Global)
	}
	if r.limits.PerPeer > 0 && perPeer >= r.limits.PerPeer {
		return fmt.Errorf("%w: per-peer cap %d reached for %s", ErrCapacityExceeded, r.limits.PerPeer, sess.PeerID)
	}
	if r.limits.PerRole > 0 && perRole >= r.limits.PerRole {
		return fmt.Errorf("%w: per-role cap %d reached for %s", ErrCapacityExceeded, r.limits.PerRole, sess.Role)
	}

	r.entries[sess.ID] = &entry{sess: sess}

	logrus.WithFields(logrus.Fields{
		"function":    "Insert",
		"transfer_id": sess.ID.String(),
		"peer":        sess.PeerID,
		"role":        sess.Role.String(),
	}).Info("session registered")

	return nil
}

// countLocked counts live (non-terminal, or terminal-but-still-in-grace)
// sessions matching the given peer/role, plus the process-wide total.
// Must be called with r.mu held.
func (r *Registry) countLocked(peer string, role session.Role) (global, perPeer, perRole int) {
	now := time.Now()
	for _, e := range r.entries {
		if t := e.sess.TerminatedAt(); !t.IsZero() && now.Sub(t) >= r.limits.GraceTimeout {
			continue
		}
		global++
		if e.sess.PeerID == peer {
			perPeer++
		}
		if e.sess.Role == role {
			perRole++
		}
	}
	return
}

// Get returns the live Session for id, or ErrNotFound. Per §3's invariant,
// callers that receive a message for an id Get cannot find must drop the
// message and log a protocol error rather than create a new session.
func (r *Registry) Get(id codec.TransferID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.sess, nil
}

// Remove drops id from the Registry immediately, bypassing the grace
// period. Sweep does not use it; production callers should prefer
// letting Sweep remove terminated sessions so late acks/finals still
// resolve during the grace window.
func (r *Registry) Remove(id codec.TransferID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	return nil
}

// Sweep removes every entry whose session terminated more than
// r.limits.GraceTimeout ago, relative to now. It returns the removed
// TransferIds, grounded on the teacher's periodic-cleanup idiom (§9:
// "entries in a terminated state are swept by a periodic task").
func (r *Registry) Sweep(now time.Time) []codec.TransferID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []codec.TransferID
	for id, e := range r.entries {
		terminatedAt := e.sess.TerminatedAt()
		if terminatedAt.IsZero() {
			continue
		}
		if now.Sub(terminatedAt) >= r.limits.GraceTimeout {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// IterStale returns every live (non-terminal) session whose overall
// deadline has passed as of now (§4.6's iter_stale).
func (r *Registry) IterStale(now time.Time) []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*session.Session
	for _, e := range r.entries {
		if e.sess.State().IsTerminal() {
			continue
		}
		if now.After(e.sess.OverallDeadline()) {
			stale = append(stale, e.sess)
		}
	}
	return stale
}

// Len returns the number of entries currently tracked, live or within
// their grace period.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown cancels every live session by driving it to Cancelled (or
// leaving an already-terminal session alone) and waits up to grace for
// each to reach a terminal state, then forcibly removes every remaining
// entry (§4.6, §5: "awaits their terminal transitions" within "a bounded
// grace period"). P6 requires the Registry be empty once this returns.
func (r *Registry) Shutdown(ctx context.Context, grace time.Duration) {
	r.mu.Lock()
	live := make([]*session.Session, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.sess.State().IsTerminal() {
			live = append(live, e.sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range live {
		_ = sess.Transition(session.Cancelled, nil)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if r.allTerminalLocked() {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(10 * time.Millisecond):
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.entries {
		delete(r.entries, id)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Shutdown",
	}).Info("registry shutdown complete")
}

func (r *Registry) allTerminalLocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if !e.sess.State().IsTerminal() {
			return false
		}
	}
	return true
}
