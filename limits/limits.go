// Package limits provides centralized size ceilings for the transfer
// protocol. This ensures consistent enforcement across the codec, the
// engines, and the registry rather than scattering magic numbers through
// each package, generalizing the teacher's centralized message-size-limit
// package from the Tox wire protocol to this one.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the hard ceiling on a decoded frame's length prefix
	// (§4.1): 16 MiB, sized to exceed MaxChunkPayload plus header overhead.
	MaxFrameSize = 16 * 1024 * 1024

	// MinChunkPayload is the smallest chunk size the Flow Controller will
	// ever choose (§4.5).
	MinChunkPayload = 64 * 1024

	// MaxChunkPayload is the largest chunk size the Flow Controller will
	// ever choose, and the absolute ceiling a responder may advertise as
	// max_chunk_size (§4.5).
	MaxChunkPayload = 10 * 1024 * 1024

	// DefaultMaxFileSize is the default admission-control ceiling on a
	// declared file_size (§4.4).
	DefaultMaxFileSize = 100 * 1024 * 1024

	// DefaultGlobalSessionCap is the default process-wide live-session
	// limit (§4.6).
	DefaultGlobalSessionCap = 32

	// DefaultPerPeerSessionCap is the default per-peer live-session limit
	// (§4.4, §4.6).
	DefaultPerPeerSessionCap = 5

	// MaxWindowSize is the largest sliding window the Sender Engine may be
	// configured with (§4.3).
	MaxWindowSize = 32

	// DefaultWindowSize is the default sliding window (§4.3).
	DefaultWindowSize = 3

	// DefaultReassemblyCap is the default in-memory reassembly ceiling
	// before a receiving session spills to a temp file (§4.4).
	DefaultReassemblyCap = 16 * 1024 * 1024
)

var (
	// ErrSizeZero indicates a size-bearing value was zero where a
	// positive value was required.
	ErrSizeZero = errors.New("limits: size must be positive")

	// ErrSizeTooLarge indicates a value exceeded the limit checked
	// against it.
	ErrSizeTooLarge = errors.New("limits: size exceeds limit")
)

// CheckChunkPayload validates a chunk payload's length against the
// accepted max_chunk_size for a session (§3: "no chunk payload exceeds
// the accepted max_chunk_size").
func CheckChunkPayload(payloadLen, acceptedMaxChunkSize int) error {
	if payloadLen == 0 {
		return ErrSizeZero
	}
	if payloadLen > acceptedMaxChunkSize {
		return fmt.Errorf("%w: chunk payload %d exceeds accepted max %d", ErrSizeTooLarge, payloadLen, acceptedMaxChunkSize)
	}
	return nil
}

// CheckFileSize validates a declared file_size against an admission-control
// ceiling (§4.4(b)).
func CheckFileSize(fileSize uint64, maxFileSize uint64) error {
	if fileSize > maxFileSize {
		return fmt.Errorf("%w: file_size %d exceeds maximum %d", ErrSizeTooLarge, fileSize, maxFileSize)
	}
	return nil
}

// ClampChunkSize clamps a proposed chunk size into [MinChunkPayload,
// MaxChunkPayload], the Flow Controller's clamping rule (§4.5).
func ClampChunkSize(size int) int {
	if size < MinChunkPayload {
		return MinChunkPayload
	}
	if size > MaxChunkPayload {
		return MaxChunkPayload
	}
	return size
}

// ClampWindowSize caps a configured window size at MaxWindowSize; a value
// below 1 is replaced by DefaultWindowSize.
func ClampWindowSize(w int) int {
	if w < 1 {
		return DefaultWindowSize
	}
	if w > MaxWindowSize {
		return MaxWindowSize
	}
	return w
}
