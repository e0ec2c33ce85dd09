package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func sampleTransferID() TransferID {
	var id TransferID
	for i := range id {
		id[i] = byte(i)
	}
	return id
}

func roundTrip(t *testing.T, msg *Message) *Message {
	t.Helper()
	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	decoded, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	return decoded
}

func TestRoundTripTransferRequest(t *testing.T) {
	in := &Message{
		Type: MessageTransferRequest,
		TransferRequest: &TransferRequest{
			TransferID:   sampleTransferID(),
			Filename:     "report.txt",
			FileSize:     123456,
			SourceType:   "text/plain",
			TargetFormat: "pdf",
			ReturnResult: true,
			ChunkCount:   3,
			Metadata:     map[string]string{"author": "alice", "zeta": "last", "alpha": "first"},
		},
	}
	out := roundTrip(t, in)
	if !reflect.DeepEqual(in.TransferRequest, out.TransferRequest) {
		t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in.TransferRequest, out.TransferRequest)
	}
}

func TestEncodeTransferRequestDeterministicMetadataOrder(t *testing.T) {
	r := &TransferRequest{
		TransferID: sampleTransferID(),
		Filename:   "f",
		Metadata:   map[string]string{"zeta": "1", "alpha": "2", "mu": "3"},
	}
	msg := &Message{Type: MessageTransferRequest, TransferRequest: r}

	var first []byte
	for i := 0; i < 20; i++ {
		encoded, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("EncodeMessage: %v", err)
		}
		if i == 0 {
			first = encoded
			continue
		}
		if !bytes.Equal(first, encoded) {
			t.Fatalf("encoding is not deterministic across repeated calls (iteration %d)", i)
		}
	}
}

func TestRoundTripAccept(t *testing.T) {
	in := &Message{
		Type: MessageAccept,
		Accept: &Accept{
			TransferID:       sampleTransferID(),
			MaxChunkSize:     65536,
			SupportedFormats: []string{"pdf", "txt"},
		},
	}
	out := roundTrip(t, in)
	if !reflect.DeepEqual(in.Accept, out.Accept) {
		t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in.Accept, out.Accept)
	}
}

func TestRoundTripReject(t *testing.T) {
	in := &Message{
		Type: MessageReject,
		Reject: &Reject{
			TransferID: sampleTransferID(),
			Reason:     "file too large",
			ErrorCode:  413,
		},
	}
	out := roundTrip(t, in)
	if !reflect.DeepEqual(in.Reject, out.Reject) {
		t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in.Reject, out.Reject)
	}
}

func TestRoundTripFileChunk(t *testing.T) {
	in := &Message{
		Type: MessageFileChunk,
		FileChunk: &FileChunk{
			TransferID: sampleTransferID(),
			ChunkIndex: 7,
			Payload:    []byte("some chunk payload bytes"),
			IsFinal:    true,
			Checksum:   ChecksumHex([]byte("some chunk payload bytes")),
		},
	}
	out := roundTrip(t, in)
	if !reflect.DeepEqual(in.FileChunk, out.FileChunk) {
		t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in.FileChunk, out.FileChunk)
	}
}

func TestRoundTripFileChunkEmptyPayload(t *testing.T) {
	in := &Message{
		Type: MessageFileChunk,
		FileChunk: &FileChunk{
			TransferID: sampleTransferID(),
			ChunkIndex: 0,
			Payload:    nil,
			IsFinal:    true,
		},
	}
	out := roundTrip(t, in)
	if out.FileChunk.ChunkIndex != 0 || !out.FileChunk.IsFinal {
		t.Errorf("round trip mismatch for zero-length final chunk: %+v", out.FileChunk)
	}
	if len(out.FileChunk.Payload) != 0 {
		t.Errorf("Payload = %v, want empty", out.FileChunk.Payload)
	}
}

func TestRoundTripChunkAckVariants(t *testing.T) {
	cases := []*ChunkAck{
		{TransferID: sampleTransferID(), ChunkIndex: 1, Status: AckReceived},
		{TransferID: sampleTransferID(), ChunkIndex: 2, Status: AckInvalid, Reason: "bad checksum"},
		{TransferID: sampleTransferID(), ChunkIndex: 3, Status: AckOutOfOrder, ExpectedIndex: 1},
	}
	for _, in := range cases {
		out := roundTrip(t, &Message{Type: MessageChunkAck, ChunkAck: in})
		if !reflect.DeepEqual(in, out.ChunkAck) {
			t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in, out.ChunkAck)
		}
	}
}

func TestRoundTripBatchedAck(t *testing.T) {
	in := &Message{
		Type: MessageBatchedAck,
		BatchedAck: &BatchedAck{
			TransferID:   sampleTransferID(),
			AckedIndices: []uint32{0, 1, 2, 5},
			NextExpected: 3,
		},
	}
	out := roundTrip(t, in)
	if !reflect.DeepEqual(in.BatchedAck, out.BatchedAck) {
		t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in.BatchedAck, out.BatchedAck)
	}
}

func TestRoundTripFinalResponse(t *testing.T) {
	in := &Message{
		Type: MessageFinalResponse,
		FinalResponse: &FinalResponse{
			TransferID:        sampleTransferID(),
			Success:           true,
			ConvertedData:     []byte("%PDF-1.4 stub"),
			ConvertedFilename: "report.pdf",
			ProcessingTimeMS:  42,
			Validation: ValidationRecord{
				IntegrityOK: true,
				TypeOK:      true,
				SizeOK:      true,
				Warnings:    []string{"source type re-detected as text/plain"},
			},
		},
	}
	out := roundTrip(t, in)
	if !reflect.DeepEqual(in.FinalResponse, out.FinalResponse) {
		t.Errorf("round trip mismatch:\nin  = %+v\nout = %+v", in.FinalResponse, out.FinalResponse)
	}
}

func TestRoundTripFinalResponseFailure(t *testing.T) {
	in := &Message{
		Type: MessageFinalResponse,
		FinalResponse: &FinalResponse{
			TransferID:   sampleTransferID(),
			Success:      false,
			ErrorMessage: "conversion failed",
		},
	}
	out := roundTrip(t, in)
	if out.FinalResponse.ConvertedData != nil {
		t.Errorf("ConvertedData = %v, want nil on failure", out.FinalResponse.ConvertedData)
	}
	if out.FinalResponse.ErrorMessage != "conversion failed" {
		t.Errorf("ErrorMessage = %q, want %q", out.FinalResponse.ErrorMessage, "conversion failed")
	}
}

func TestDecodeUnknownMessageType(t *testing.T) {
	_, err := DecodeMessage([]byte{0xFF})
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("DecodeMessage error = %v, want ErrUnknownMessageType", err)
	}
}

func TestDecodeTrailingBytesRejected(t *testing.T) {
	msg := &Message{Type: MessageReject, Reject: &Reject{TransferID: sampleTransferID(), Reason: "x"}}
	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	payload = append(payload, 0xAA, 0xBB)
	if _, err := DecodeMessage(payload); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("DecodeMessage with trailing bytes error = %v, want ErrMalformedPayload", err)
	}
}

func TestDecodeTruncatedPayloadRejected(t *testing.T) {
	msg := &Message{Type: MessageAccept, Accept: &Accept{TransferID: sampleTransferID(), MaxChunkSize: 4096}}
	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if _, err := DecodeMessage(payload[:len(payload)-2]); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("DecodeMessage on truncated payload error = %v, want ErrMalformedPayload", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	fw := NewFrameWriter(buf)
	fr := NewFrameReader(buf, 0)

	msgs := []*Message{
		{Type: MessageReject, Reject: &Reject{TransferID: sampleTransferID(), Reason: "one"}},
		{Type: MessageReject, Reject: &Reject{TransferID: sampleTransferID(), Reason: "two"}},
	}
	for _, m := range msgs {
		if err := fw.WriteFrame(m); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(%d): %v", i, err)
		}
		if !reflect.DeepEqual(want.Reject, got.Reject) {
			t.Errorf("frame %d mismatch: want %+v, got %+v", i, want.Reject, got.Reject)
		}
	}
}

func TestFrameReaderTooLarge(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{0x00, 0x00, 0x00, 0x10}) // length prefix of 16, exceeds maxFrame below
	buf.Write(make([]byte, 16))

	fr := NewFrameReader(buf, 8)
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame error = %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameReaderTruncatedLengthPrefix(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	fr := NewFrameReader(buf, 0)
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("ReadFrame error = %v, want ErrTruncatedFrame", err)
	}
}

func TestFrameReaderTruncatedPayload(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{0x00, 0x00, 0x00, 0x05})
	buf.Write([]byte{1, 2, 3}) // only 3 of the promised 5 payload bytes
	fr := NewFrameReader(buf, 0)
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("ReadFrame error = %v, want ErrTruncatedFrame", err)
	}
}

func TestFrameReaderEOFBetweenFrames(t *testing.T) {
	fr := NewFrameReader(&bytes.Buffer{}, 0)
	_, err := fr.ReadFrame()
	if err == nil {
		t.Fatal("expected an error reading from an empty stream")
	}
}

func TestValidateFilenameBounds(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"report.txt", false},
		{"", true},
		{strings.Repeat("a", MaxFilenameLength+1), true},
		{"sub/dir/report.txt", true},
		{"sub\\dir\\report.txt", true},
		{"report<1>.txt", true},
		{"report\x01.txt", true},
		{"café.txt", false},
	}
	for _, c := range cases {
		err := ValidateFilename(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateFilename(%q) error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestValidateMetadataBounds(t *testing.T) {
	cases := []struct {
		name    string
		meta    map[string]string
		wantErr bool
	}{
		{"empty", map[string]string{}, false},
		{"within bounds", map[string]string{"author": "alice"}, false},
		{"key too long", map[string]string{strings.Repeat("k", MaxMetadataKeyLength+1): "v"}, true},
		{"value too long", map[string]string{"k": strings.Repeat("v", MaxMetadataValueLength+1)}, true},
		{"denied key", map[string]string{"password": "hunter2"}, true},
		{"denied key case-insensitive", map[string]string{"PASSWORD": "hunter2"}, true},
		{"total size exceeded", func() map[string]string {
			m := make(map[string]string)
			value := strings.Repeat("v", MaxMetadataValueLength)
			for i := 0; i < MaxMetadataEncodedSize/MaxMetadataValueLength+1; i++ {
				m[fmt.Sprintf("key%02d", i)] = value
			}
			return m
		}(), true},
	}
	for _, c := range cases {
		err := ValidateMetadata(c.meta)
		if (err != nil) != c.wantErr {
			t.Errorf("%s: ValidateMetadata error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestChecksumHexVerify(t *testing.T) {
	payload := []byte("chunk contents")
	sum := ChecksumHex(payload)
	if !VerifyChecksum(payload, sum) {
		t.Error("VerifyChecksum with the correct digest = false, want true")
	}
	if VerifyChecksum(payload, "deadbeef") {
		t.Error("VerifyChecksum with a wrong digest = true, want false")
	}
	if VerifyChecksum([]byte("different contents"), sum) {
		t.Error("VerifyChecksum with mismatched payload = true, want false")
	}
}
