package session

import "errors"

// Kind classifies a terminal failure per §7's taxonomy. It is not a Go
// error type itself — FailureReason pairs a Kind with the error that
// triggered it so callers can map to the wire error_code table (§6)
// without string-matching.
type Kind uint8

const (
	KindTransportFailure Kind = iota
	KindProtocolViolation
	KindValidationFailure
	KindResourceExhaustion
	KindTimeout
	KindConversionFailure
	KindStorageFailure
	KindCancelledByCaller
)

func (k Kind) String() string {
	switch k {
	case KindTransportFailure:
		return "TransportFailure"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindValidationFailure:
		return "ValidationFailure"
	case KindResourceExhaustion:
		return "ResourceExhaustion"
	case KindTimeout:
		return "Timeout"
	case KindConversionFailure:
		return "ConversionFailure"
	case KindStorageFailure:
		return "StorageFailure"
	case KindCancelledByCaller:
		return "CancelledByCaller"
	default:
		return "UnknownFailure"
	}
}

// FailureReason is the single-string-plus-code reason surfaced to the
// caller on a Failed terminal transition (§7).
type FailureReason struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *FailureReason) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *FailureReason) Unwrap() error { return f.Err }

// NewFailure builds a FailureReason, wrapping the triggering error.
func NewFailure(kind Kind, message string, err error) *FailureReason {
	return &FailureReason{Kind: kind, Message: message, Err: err}
}

var (
	// ErrChunkRejected is used when a chunk's retry budget is exhausted
	// (§4.3 ack processing).
	ErrChunkRejected = errors.New("session: chunk retry budget exhausted")

	// ErrProtocolViolation covers illegal wire sequences: a Reject after
	// acceptance, a message for an unknown transfer_id, etc. (§3, §4.2).
	ErrProtocolViolation = errors.New("session: protocol violation")

	// ErrWrongState is the reason attached to the escalation to Failed
	// after repeated wrong-state offenses (§4.2). No Invalid(WrongState)
	// ack is sent.
	ErrWrongState = errors.New("session: message received in wrong state")

	// ErrChecksumMismatch is the reason attached to Invalid(ChecksumMismatch)
	// acks (§4.4).
	ErrChecksumMismatch = errors.New("session: chunk checksum mismatch")

	// ErrAdmissionDenied covers every admission-control rejection in §4.4.
	ErrAdmissionDenied = errors.New("session: admission denied")
)

// maxWrongStateOffenses is the repeated-offense escalation threshold from
// §4.2: RecordWrongStateOffense reports escalation once three offenses are
// recorded. The Receiver Engine records one for each unexpected message
// read while Transferring and sends no ack for it.
const maxWrongStateOffenses = 3
