package receiver

import (
	"fmt"
	"os"
)

// pendingChunk is a chunk that arrived ahead of nextExpected but inside
// the bounded lookahead, held in memory until the gap closes (§4.4).
type pendingChunk struct {
	payload []byte
	isFinal bool
}

// reassembler accumulates chunks in order, spilling to a temp file once
// the in-memory cap is exceeded, and buffers a bounded window of
// out-of-order arrivals. One reassembler is owned by exactly one
// receiving session (§5).
type reassembler struct {
	nextExpected uint32
	lookahead    uint32
	memCap       int
	spillDir     string

	memBuf  []byte
	pending map[uint32]pendingChunk

	spillFile *os.File
	spillPath string
	spilling  bool

	totalBytes uint64
	finalSeen  bool
	finalIndex uint32
}

func newReassembler(memCap int, lookahead uint32, spillDir string) *reassembler {
	return &reassembler{
		lookahead: lookahead,
		memCap:    memCap,
		spillDir:  spillDir,
		pending:   make(map[uint32]pendingChunk),
	}
}

// acceptResult reports how Accept handled one inbound chunk.
type acceptResult int

const (
	acceptReceived acceptResult = iota
	acceptDuplicate
	acceptOutOfOrder
	acceptBuffered
)

// Accept folds one inbound chunk into the reassembly state (§4.4). On
// acceptOutOfOrder, expected holds nextExpected for the OutOfOrder ack.
func (r *reassembler) Accept(index uint32, payload []byte, isFinal bool) (result acceptResult, expected uint32, err error) {
	if index < r.nextExpected {
		return acceptDuplicate, 0, nil
	}
	if index > r.nextExpected {
		if index-r.nextExpected > r.lookahead {
			return acceptOutOfOrder, r.nextExpected, nil
		}
		r.pending[index] = pendingChunk{payload: payload, isFinal: isFinal}
		return acceptBuffered, 0, nil
	}

	if err := r.writeInOrder(payload); err != nil {
		return acceptReceived, 0, err
	}
	if isFinal {
		r.finalSeen = true
		r.finalIndex = index
	}
	r.nextExpected++

	for {
		next, ok := r.pending[r.nextExpected]
		if !ok {
			break
		}
		delete(r.pending, r.nextExpected)
		if err := r.writeInOrder(next.payload); err != nil {
			return acceptReceived, 0, err
		}
		if next.isFinal {
			r.finalSeen = true
			r.finalIndex = r.nextExpected
		}
		r.nextExpected++
	}

	return acceptReceived, 0, nil
}

// Complete reports whether every chunk through the final index has been
// assembled in order.
func (r *reassembler) Complete() bool {
	return r.finalSeen && r.nextExpected > r.finalIndex
}

func (r *reassembler) writeInOrder(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if r.spilling {
		if _, err := r.spillFile.Write(payload); err != nil {
			return fmt.Errorf("receiver: spill write: %w", err)
		}
		r.totalBytes += uint64(len(payload))
		return nil
	}

	if len(r.memBuf)+len(payload) > r.memCap {
		f, err := os.CreateTemp(r.spillDir, "p2pconvert-reassembly-*.tmp")
		if err != nil {
			return fmt.Errorf("receiver: create spill file: %w", err)
		}
		if _, err := f.Write(r.memBuf); err != nil {
			f.Close()
			os.Remove(f.Name())
			return fmt.Errorf("receiver: spill flush: %w", err)
		}
		r.spillFile = f
		r.spillPath = f.Name()
		r.spilling = true
		r.memBuf = nil
		if _, err := r.spillFile.Write(payload); err != nil {
			return fmt.Errorf("receiver: spill write: %w", err)
		}
		r.totalBytes += uint64(len(payload))
		return nil
	}

	r.memBuf = append(r.memBuf, payload...)
	r.totalBytes += uint64(len(payload))
	return nil
}

// Bytes returns the fully assembled payload, reading it back from the
// spill file if reassembly spilled.
func (r *reassembler) Bytes() ([]byte, error) {
	if !r.spilling {
		return r.memBuf, nil
	}
	if err := r.spillFile.Sync(); err != nil {
		return nil, fmt.Errorf("receiver: sync spill file: %w", err)
	}
	data, err := os.ReadFile(r.spillPath)
	if err != nil {
		return nil, fmt.Errorf("receiver: read spill file: %w", err)
	}
	return data, nil
}

// TotalBytes returns the number of payload bytes written in order so far.
func (r *reassembler) TotalBytes() uint64 { return r.totalBytes }

// SpillPath returns the owned temp file path, or "" if reassembly never
// spilled.
func (r *reassembler) SpillPath() string { return r.spillPath }

// Close releases the owned spill file, if any (§3's terminal-resource
// invariant).
func (r *reassembler) Close() error {
	if r.spillFile == nil {
		return nil
	}
	r.spillFile.Close()
	return os.Remove(r.spillPath)
}
