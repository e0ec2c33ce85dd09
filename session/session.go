package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/p2pconvert/codec"
)

// Session is the per-transfer in-memory record described in §3: state,
// chunk bookkeeping, deadlines, and the resources a terminal transition
// must release. Each Session is owned by exactly one engine task (§5);
// every accessor takes the session's own mutex, and Snapshot() returns a
// consistent copy of the counters.
type Session struct {
	ID     codec.TransferID
	Role   Role
	PeerID string

	mu                 sync.Mutex
	state              State
	fileSize           uint64
	chunkCount         uint32
	maxChunkSize       uint32
	ackedBytes         uint64
	ackedIndices       map[uint32]bool
	finalIndex         uint32
	finalSeen          bool
	wrongStateOffenses int
	failure            *FailureReason
	tempFilePath       string
	bytesTransferred   uint64

	createdAt       time.Time
	overallDeadline time.Time
	terminatedAt    time.Time
}

// New constructs an Idle Session for transfer id, owned by role, talking
// to peerID, with the given declared file size/chunk count and an overall
// deadline computed from now+overallTimeout (§5).
func New(id codec.TransferID, role Role, peerID string, fileSize uint64, chunkCount uint32, now time.Time, overallTimeout time.Duration) *Session {
	return &Session{
		ID:              id,
		Role:            role,
		PeerID:          peerID,
		state:           Idle,
		fileSize:        fileSize,
		chunkCount:      chunkCount,
		ackedIndices:    make(map[uint32]bool),
		createdAt:       now,
		overallDeadline: now.Add(overallTimeout),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetMaxChunkSize records the accepted max_chunk_size once negotiated.
func (s *Session) SetMaxChunkSize(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxChunkSize = v
}

// MaxChunkSize returns the accepted max_chunk_size.
func (s *Session) MaxChunkSize() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxChunkSize
}

// FileSize returns the declared file_size.
func (s *Session) FileSize() uint64 {
	return s.fileSize // immutable after construction; safe unlocked
}

// ChunkCount returns the declared chunk_count.
func (s *Session) ChunkCount() uint32 {
	return s.chunkCount
}

// OverallDeadline returns the session's overall deadline instant.
func (s *Session) OverallDeadline() time.Time {
	return s.overallDeadline
}

// Transition validates and applies a state change, recording the
// FailureReason when moving to Failed and stamping TerminatedAt on any
// terminal transition (§4.2, §3's terminal-resource invariant). Illegal
// edges return ErrIllegalTransition and leave state unchanged, matching
// §3's "illegal edges are fatal to the session" — the caller must follow
// up with a Failed transition.
func (s *Session) Transition(to State, reason *FailureReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := Transition(s.state, to); err != nil {
		return err
	}

	s.state = to
	if to == Failed {
		s.failure = reason
	}
	if to.IsTerminal() {
		s.terminatedAt = time.Now()
	}
	return nil
}

// Failure returns the FailureReason recorded on a Failed transition, or
// nil if the session never failed.
func (s *Session) Failure() *FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// TerminatedAt returns the instant the session reached a terminal state,
// or the zero Time if it has not yet terminated.
func (s *Session) TerminatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminatedAt
}

// RecordAck folds an acknowledged chunk of size bytes at index into the
// session's bookkeeping, enforcing sum(acked) <= file_size and the
// single-final-chunk invariant (§3). It is idempotent: re-acking an
// already-acked index (§4.2's duplicate-chunk rule) is a no-op and
// returns false for "newly acked".
func (s *Session) RecordAck(index uint32, size int, isFinal bool) (newlyAcked bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ackedIndices[index] {
		return false, nil
	}
	if s.ackedBytes+uint64(size) > s.fileSize {
		return false, fmt.Errorf("session: acked bytes would exceed file_size %d", s.fileSize)
	}
	if isFinal {
		if s.finalSeen && s.finalIndex != index {
			return false, fmt.Errorf("session: %w: multiple final chunks", ErrProtocolViolation)
		}
		s.finalSeen = true
		s.finalIndex = index
	}

	s.ackedIndices[index] = true
	s.ackedBytes += uint64(size)
	return true, nil
}

// AckedBytes returns the running sum of acknowledged chunk sizes.
func (s *Session) AckedBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackedBytes
}

// AckedCount returns the number of distinct acknowledged indices.
func (s *Session) AckedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ackedIndices)
}

// AllChunksAcked reports whether every index in [0, chunk_count) has been
// acknowledged and the final chunk has been seen (§4.2's Transferring ->
// Finalizing edge condition).
func (s *Session) AllChunksAcked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalSeen && uint32(len(s.ackedIndices)) >= s.chunkCount
}

// RecordWrongStateOffense increments the wrong-state offense counter
// (§4.2) and reports whether the escalation threshold has now been
// reached.
func (s *Session) RecordWrongStateOffense() (escalate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrongStateOffenses++
	return s.wrongStateOffenses >= maxWrongStateOffenses
}

// SetTempFilePath records the path of a spill file this session owns
// (§3, §4.4). Transition does not remove the file; the receiver's
// reassembler removes its own spill file when the transfer handler exits.
func (s *Session) SetTempFilePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempFilePath = path
}

// TempFilePath returns the session-owned spill file path, if any.
func (s *Session) TempFilePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempFilePath
}

// AddBytesTransferred accumulates bytes sent or received for progress
// reporting.
func (s *Session) AddBytesTransferred(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesTransferred += n
}

// Snapshot is a read-only copy of a Session's counters, taken under the
// session's own lock so it is internally consistent and safe to read
// without further locking.
type Snapshot struct {
	ID               codec.TransferID
	Role             Role
	PeerID           string
	State            State
	FileSize         uint64
	BytesTransferred uint64
	AckedBytes       uint64
	CreatedAt        time.Time
	OverallDeadline  time.Time
}

// Snapshot returns a point-in-time copy of this session's counters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:               s.ID,
		Role:             s.Role,
		PeerID:           s.PeerID,
		State:            s.state,
		FileSize:         s.fileSize,
		BytesTransferred: s.bytesTransferred,
		AckedBytes:       s.ackedBytes,
		CreatedAt:        s.createdAt,
		OverallDeadline:  s.overallDeadline,
	}
}
