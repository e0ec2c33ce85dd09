package codec

import (
	"fmt"
	"sort"
)

// EncodeMessage serializes a Message's payload (without the frame length
// prefix) according to the tagged-union wire format.
func EncodeMessage(msg *Message) ([]byte, error) {
	w := newWriter(64)
	w.putUint8(uint8(msg.Type))

	switch msg.Type {
	case MessageTransferRequest:
		encodeTransferRequest(w, msg.TransferRequest)
	case MessageAccept:
		encodeAccept(w, msg.Accept)
	case MessageReject:
		encodeReject(w, msg.Reject)
	case MessageFileChunk:
		encodeFileChunk(w, msg.FileChunk)
	case MessageChunkAck:
		encodeChunkAck(w, msg.ChunkAck)
	case MessageBatchedAck:
		encodeBatchedAck(w, msg.BatchedAck)
	case MessageFinalResponse:
		encodeFinalResponse(w, msg.FinalResponse)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, msg.Type)
	}

	return w.bytes(), nil
}

func encodeTransferRequest(w *writer, r *TransferRequest) {
	w.putRawBytes(r.TransferID[:])
	w.putString(r.Filename)
	w.putUint64(r.FileSize)
	w.putString(r.SourceType)
	w.putOptionString(r.TargetFormat != "", r.TargetFormat)
	w.putBool(r.ReturnResult)
	w.putUint32(r.ChunkCount)

	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.putUint32(uint32(len(keys)))
	for _, k := range keys {
		w.putString(k)
		w.putString(r.Metadata[k])
	}
}

func encodeAccept(w *writer, a *Accept) {
	w.putRawBytes(a.TransferID[:])
	w.putUint32(a.MaxChunkSize)
	w.putUint32(uint32(len(a.SupportedFormats)))
	for _, f := range a.SupportedFormats {
		w.putString(f)
	}
}

func encodeReject(w *writer, rj *Reject) {
	w.putRawBytes(rj.TransferID[:])
	w.putString(rj.Reason)
	w.putUint16(rj.ErrorCode)
}

func encodeFileChunk(w *writer, c *FileChunk) {
	w.putRawBytes(c.TransferID[:])
	w.putUint32(c.ChunkIndex)
	w.putBytes(c.Payload)
	w.putBool(c.IsFinal)
	w.putOptionString(c.Checksum != "", c.Checksum)
}

func encodeChunkAck(w *writer, a *ChunkAck) {
	w.putRawBytes(a.TransferID[:])
	w.putUint32(a.ChunkIndex)
	w.putUint8(uint8(a.Status))
	switch a.Status {
	case AckInvalid:
		w.putString(a.Reason)
	case AckOutOfOrder:
		w.putUint32(a.ExpectedIndex)
	}
}

func encodeBatchedAck(w *writer, b *BatchedAck) {
	w.putRawBytes(b.TransferID[:])
	w.putUint32(uint32(len(b.AckedIndices)))
	for _, idx := range b.AckedIndices {
		w.putUint32(idx)
	}
	w.putUint32(b.NextExpected)
}

func encodeFinalResponse(w *writer, f *FinalResponse) {
	w.putRawBytes(f.TransferID[:])
	w.putBool(f.Success)
	w.putOptionString(f.ErrorMessage != "", f.ErrorMessage)
	w.putBool(f.ConvertedData != nil)
	if f.ConvertedData != nil {
		w.putBytes(f.ConvertedData)
	}
	w.putOptionString(f.ConvertedFilename != "", f.ConvertedFilename)
	w.putUint64(f.ProcessingTimeMS)

	w.putBool(f.Validation.IntegrityOK)
	w.putBool(f.Validation.TypeOK)
	w.putBool(f.Validation.SizeOK)
	w.putUint32(uint32(len(f.Validation.Warnings)))
	for _, warn := range f.Validation.Warnings {
		w.putString(warn)
	}
}
