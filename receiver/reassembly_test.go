package receiver

import (
	"bytes"
	"testing"
)

func TestReassemblerInOrderAccumulates(t *testing.T) {
	r := newReassembler(1<<20, 4, t.TempDir())

	for i, chunk := range [][]byte{[]byte("one-"), []byte("two-"), []byte("three")} {
		result, _, err := r.Accept(uint32(i), chunk, i == 2)
		if err != nil {
			t.Fatalf("Accept(%d): %v", i, err)
		}
		if result != acceptReceived {
			t.Fatalf("Accept(%d) result = %v, want acceptReceived", i, result)
		}
	}
	if !r.Complete() {
		t.Fatal("Complete() = false after all chunks delivered in order")
	}
	got, err := r.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(got, []byte("one-two-three")) {
		t.Errorf("Bytes() = %q, want %q", got, "one-two-three")
	}
}

func TestReassemblerDuplicateChunkRejected(t *testing.T) {
	r := newReassembler(1<<20, 4, t.TempDir())

	if result, _, err := r.Accept(0, []byte("a"), false); err != nil || result != acceptReceived {
		t.Fatalf("Accept(0) = %v, %v", result, err)
	}
	// Replaying the same index (already consumed) must be reported as a
	// duplicate, not buffered or applied twice.
	result, _, err := r.Accept(0, []byte("a"), false)
	if err != nil {
		t.Fatalf("Accept(0) replay: %v", err)
	}
	if result != acceptDuplicate {
		t.Fatalf("Accept(0) replay result = %v, want acceptDuplicate", result)
	}
	if r.TotalBytes() != 1 {
		t.Fatalf("TotalBytes() = %d, want 1 (duplicate must not be counted twice)", r.TotalBytes())
	}
}

func TestReassemblerOutOfOrderBuffersWithinLookahead(t *testing.T) {
	r := newReassembler(1<<20, 4, t.TempDir())

	// Chunk 1 arrives before chunk 0, within the lookahead window: it must
	// be buffered, not rejected, and not yet reflected in TotalBytes.
	result, _, err := r.Accept(1, []byte("second"), false)
	if err != nil {
		t.Fatalf("Accept(1): %v", err)
	}
	if result != acceptBuffered {
		t.Fatalf("Accept(1) result = %v, want acceptBuffered", result)
	}
	if r.TotalBytes() != 0 {
		t.Fatalf("TotalBytes() = %d, want 0 before the gap closes", r.TotalBytes())
	}

	// Chunk 0 closes the gap: both 0 and the buffered 1 must drain in order.
	result, _, err = r.Accept(0, []byte("first-"), false)
	if err != nil {
		t.Fatalf("Accept(0): %v", err)
	}
	if result != acceptReceived {
		t.Fatalf("Accept(0) result = %v, want acceptReceived", result)
	}

	got, err := r.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(got, []byte("first-second")) {
		t.Errorf("Bytes() = %q, want %q", got, "first-second")
	}
}

func TestReassemblerOutOfOrderBeyondLookaheadRejected(t *testing.T) {
	const lookahead = 2
	r := newReassembler(1<<20, lookahead, t.TempDir())

	// nextExpected is 0; index 3 is 3 ahead, beyond the lookahead of 2.
	result, expected, err := r.Accept(3, []byte("too far"), false)
	if err != nil {
		t.Fatalf("Accept(3): %v", err)
	}
	if result != acceptOutOfOrder {
		t.Fatalf("Accept(3) result = %v, want acceptOutOfOrder", result)
	}
	if expected != 0 {
		t.Fatalf("Accept(3) expected = %d, want 0", expected)
	}
	if r.TotalBytes() != 0 {
		t.Fatalf("TotalBytes() = %d, want 0 for a rejected out-of-order chunk", r.TotalBytes())
	}
}

func TestReassemblerSpillsToDiskPastMemCap(t *testing.T) {
	r := newReassembler(4, 4, t.TempDir())

	if _, _, err := r.Accept(0, []byte("abcd"), false); err != nil {
		t.Fatalf("Accept(0): %v", err)
	}
	if r.SpillPath() != "" {
		t.Fatalf("SpillPath() = %q before the cap is exceeded, want empty", r.SpillPath())
	}

	if _, _, err := r.Accept(1, []byte("efgh"), true); err != nil {
		t.Fatalf("Accept(1): %v", err)
	}
	if r.SpillPath() == "" {
		t.Fatal("SpillPath() is empty after exceeding memCap, want a spill file")
	}

	got, err := r.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(got, []byte("abcdefgh")) {
		t.Errorf("Bytes() = %q, want %q", got, "abcdefgh")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
