// Package contracts defines the four external-collaborator interfaces
// named in §6: Substrate, ConversionWorker, StorageSink, and Clock. The
// sender, receiver, and registry packages depend only on these interfaces
// so the concrete peer-to-peer substrate — out of scope per §1 — can be
// swapped in without touching core logic, mirroring the way the teacher's
// file package depends on the transport.Transport interface rather than a
// concrete socket type.
package contracts

import (
	"context"
	"io"
	"time"
)

// Stream is one logical, full-duplex, ordered, reliable byte channel
// opened over a Substrate connection. It is deadline-aware like net.Conn
// so the engines can race reads/writes against ack and overall deadlines
// (§5).
type Stream interface {
	io.ReadWriteCloser

	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error

	// RemotePeer returns the substrate's verified identity for the peer
	// at the other end of the stream.
	RemotePeer() string
}

// Substrate is the authenticated, encrypted, multiplexed byte-stream
// service the core runs on top of (§6). The concrete implementation
// (node identity, transport, handshake, multiplexing) is out of scope for
// the core per §1; the core only ever sees this contract.
type Substrate interface {
	// Dial opens a new logical stream to peer under the protocol
	// identifier "/convert/1.0.0".
	Dial(ctx context.Context, peer string) (Stream, error)

	// Listen returns a channel of inbound logical streams. The channel is
	// closed when the Substrate shuts down.
	Listen(ctx context.Context) (<-chan Stream, error)
}

// ConversionResult is the successful return of a ConversionWorker call.
type ConversionResult struct {
	Bytes       []byte
	FilenameHint string
}

// ConversionWorker performs the requested format transformation (§6). It
// is pure with respect to the core: the worker may itself run
// out-of-process. The core always supplies a context carrying the
// wall-clock cap from §4.4.
type ConversionWorker interface {
	Convert(ctx context.Context, sourceType, targetType string, data []byte) (ConversionResult, error)

	// SupportedFormats lists the target format tags this worker accepts,
	// used to populate Accept.SupportedFormats and to validate a
	// TransferRequest's target format during admission control (§4.4(e)).
	SupportedFormats() []string
}

// StorageSink is the sanitized-write destination for accepted transfers
// (§6). Implementations must restrict writes to a configured output
// directory and fail closed on path traversal attempts; filename
// collisions are resolved per §4.4's "-1, -2, ..." suffix rule.
type StorageSink interface {
	Write(ctx context.Context, filename string, data []byte) (finalPath string, err error)
}

// Clock abstracts time so the engines can be tested deterministically,
// generalizing the teacher's file.TimeProvider with an explicit
// cancellable sleep since the sender and receiver engines actively wait
// on ack and overall deadlines rather than merely polling elapsed time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// SleepUntil blocks until instant or ctx is cancelled, whichever
	// comes first.
	SleepUntil(ctx context.Context, instant time.Time) error
}
