// Package codec implements the length-delimited, binary-encoded wire
// protocol that carries transfer control messages across a Substrate
// stream.
//
// Frames are `u32 big-endian length || payload`. The payload is a
// deterministic binary encoding of a tagged union over the message types
// below, with the stable tag ordering fixed by the protocol:
//
//	0 TransferRequest, 1 Accept, 2 Reject, 3 FileChunk,
//	4 ChunkAck, 5 BatchedAck, 6 FinalResponse
//
// Integers are little-endian, lengths are u32, strings are u32-prefixed
// UTF-8, options are a u8 presence tag followed by the value when present,
// and sequences are a u32 count followed by elements.
package codec

// MessageType is the wire tag for a decoded Message.
type MessageType uint8

const (
	MessageTransferRequest MessageType = 0
	MessageAccept          MessageType = 1
	MessageReject          MessageType = 2
	MessageFileChunk       MessageType = 3
	MessageChunkAck        MessageType = 4
	MessageBatchedAck      MessageType = 5
	MessageFinalResponse   MessageType = 6
)

// TransferID is a 128-bit opaque identifier generated by the sender and
// used as the correlation key for every message in a session.
type TransferID [16]byte

// AckStatus is the per-chunk acknowledgment outcome.
type AckStatus uint8

const (
	// AckReceived indicates the chunk was accepted.
	AckReceived AckStatus = iota
	// AckInvalid indicates the chunk was rejected; Reason explains why.
	AckInvalid
	// AckOutOfOrder indicates the chunk arrived ahead of ExpectedIndex.
	AckOutOfOrder
)

// TransferRequest is the first message of a session.
type TransferRequest struct {
	TransferID     TransferID
	Filename       string
	FileSize       uint64
	SourceType     string
	TargetFormat   string // empty means absent
	ReturnResult   bool
	ChunkCount     uint32
	Metadata       map[string]string
}

// Accept is the positive initial TransferResponse.
type Accept struct {
	TransferID      TransferID
	MaxChunkSize    uint32
	SupportedFormats []string
}

// Reject is the negative initial TransferResponse, also used for
// protocol-violation and cancellation teardown.
type Reject struct {
	TransferID TransferID
	Reason     string
	ErrorCode  uint16
}

// FileChunk carries one contiguous slice of the source file.
type FileChunk struct {
	TransferID TransferID
	ChunkIndex uint32
	Payload    []byte
	IsFinal    bool
	Checksum   string // hex-encoded SHA-256, empty means absent
}

// ChunkAck is the per-chunk acknowledgment.
type ChunkAck struct {
	TransferID    TransferID
	ChunkIndex    uint32
	Status        AckStatus
	Reason        string // set when Status == AckInvalid
	ExpectedIndex uint32 // set when Status == AckOutOfOrder
}

// BatchedAck is the cumulative-ack variant: a sorted, deduplicated set of
// acknowledged indices plus a cumulative next-expected index. The
// per-chunk ChunkAck is the degenerate case of a BatchedAck with one
// entry; both forms must be accepted on the wire.
type BatchedAck struct {
	TransferID      TransferID
	AckedIndices    []uint32
	NextExpected    uint32
}

// ValidationRecord summarizes Finalizing-stage checks.
type ValidationRecord struct {
	IntegrityOK bool
	TypeOK      bool
	SizeOK      bool
	Warnings    []string
}

// FinalResponse is the terminal message of a session.
type FinalResponse struct {
	TransferID        TransferID
	Success           bool
	ErrorMessage      string
	ConvertedData     []byte // present only if Success and ReturnResult were set
	ConvertedFilename string
	ProcessingTimeMS  uint64
	Validation        ValidationRecord
}

// Message is the decoded union; exactly one of the typed fields is
// non-nil, matching Type.
type Message struct {
	Type            MessageType
	TransferRequest *TransferRequest
	Accept          *Accept
	Reject          *Reject
	FileChunk       *FileChunk
	ChunkAck        *ChunkAck
	BatchedAck      *BatchedAck
	FinalResponse   *FinalResponse
}
