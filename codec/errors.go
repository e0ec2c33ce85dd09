package codec

import "errors"

var (
	// ErrFrameTooLarge is returned when a decoded frame's length prefix
	// exceeds MaxFrameSize. Fatal to the connection.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")

	// ErrTruncatedFrame is returned when the stream reaches EOF before a
	// full frame (length prefix or payload) has been read. Fatal to the
	// connection.
	ErrTruncatedFrame = errors.New("codec: truncated frame")

	// ErrMalformedPayload is returned when a payload's binary encoding is
	// internally inconsistent (bad length prefixes, trailing bytes).
	ErrMalformedPayload = errors.New("codec: malformed payload")

	// ErrUnknownMessageType is returned when the payload's leading tag
	// byte does not match any MessageType.
	ErrUnknownMessageType = errors.New("codec: unknown message type")
)
