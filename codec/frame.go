package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the hard ceiling on a decoded frame's length
// prefix (16 MiB), sized to exceed MaxChunkSize plus header overhead.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// FrameReader decodes length-delimited frames from a byte stream. It never
// allocates the payload buffer before the length prefix has been read and
// validated.
type FrameReader struct {
	r           io.Reader
	maxFrame    uint32
	lengthBuf   [4]byte
}

// NewFrameReader wraps r with a frame decoder enforcing maxFrameSize (use
// DefaultMaxFrameSize when 0).
func NewFrameReader(r io.Reader, maxFrameSize uint32) *FrameReader {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: r, maxFrame: maxFrameSize}
}

// ReadFrame reads one frame and returns its decoded Message. A short read
// on the length prefix or payload that hits EOF returns ErrTruncatedFrame;
// a length prefix beyond maxFrame returns ErrFrameTooLarge without
// consuming the payload.
func (fr *FrameReader) ReadFrame() (*Message, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %w", ErrTruncatedFrame, err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length > fr.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, length, fr.maxFrame)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedFrame, err)
	}

	return DecodeMessage(payload)
}

// FrameWriter encodes Messages as length-delimited frames onto a byte
// stream.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w with a frame encoder.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes msg and writes the length-prefixed frame in a single
// Write call.
func (fw *FrameWriter) WriteFrame(msg *Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	_, err = fw.w.Write(frame)
	return err
}
