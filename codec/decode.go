package codec

import "fmt"

// DecodeMessage parses a payload (without the frame length prefix) into a
// Message. Returns ErrUnknownMessageType for an unrecognized leading tag
// and ErrMalformedPayload for any structurally inconsistent encoding.
func DecodeMessage(payload []byte) (*Message, error) {
	r := newReader(payload)
	tag, err := r.getUint8()
	if err != nil {
		return nil, err
	}

	msg := &Message{Type: MessageType(tag)}
	switch msg.Type {
	case MessageTransferRequest:
		msg.TransferRequest, err = decodeTransferRequest(r)
	case MessageAccept:
		msg.Accept, err = decodeAccept(r)
	case MessageReject:
		msg.Reject, err = decodeReject(r)
	case MessageFileChunk:
		msg.FileChunk, err = decodeFileChunk(r)
	case MessageChunkAck:
		msg.ChunkAck, err = decodeChunkAck(r)
	case MessageBatchedAck:
		msg.BatchedAck, err = decodeBatchedAck(r)
	case MessageFinalResponse:
		msg.FinalResponse, err = decodeFinalResponse(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, tag)
	}
	if err != nil {
		return nil, err
	}
	if !r.atEnd() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, r.remaining())
	}
	return msg, nil
}

func getTransferID(r *reader) (TransferID, error) {
	var id TransferID
	b, err := r.take(len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func decodeTransferRequest(r *reader) (*TransferRequest, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	filename, err := r.getString()
	if err != nil {
		return nil, err
	}
	fileSize, err := r.getUint64()
	if err != nil {
		return nil, err
	}
	sourceType, err := r.getString()
	if err != nil {
		return nil, err
	}
	_, targetFormat, err := r.getOptionString()
	if err != nil {
		return nil, err
	}
	returnResult, err := r.getBool()
	if err != nil {
		return nil, err
	}
	chunkCount, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	metaLen, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string, metaLen)
	for i := uint32(0); i < metaLen; i++ {
		k, err := r.getString()
		if err != nil {
			return nil, err
		}
		v, err := r.getString()
		if err != nil {
			return nil, err
		}
		meta[k] = v
	}

	return &TransferRequest{
		TransferID:   id,
		Filename:     filename,
		FileSize:     fileSize,
		SourceType:   sourceType,
		TargetFormat: targetFormat,
		ReturnResult: returnResult,
		ChunkCount:   chunkCount,
		Metadata:     meta,
	}, nil
}

func decodeAccept(r *reader) (*Accept, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	maxChunk, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	formats := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := r.getString()
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return &Accept{TransferID: id, MaxChunkSize: maxChunk, SupportedFormats: formats}, nil
}

func decodeReject(r *reader) (*Reject, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	reason, err := r.getString()
	if err != nil {
		return nil, err
	}
	code, err := r.getUint16()
	if err != nil {
		return nil, err
	}
	return &Reject{TransferID: id, Reason: reason, ErrorCode: code}, nil
}

func decodeFileChunk(r *reader) (*FileChunk, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	idx, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	payload, err := r.getBytes()
	if err != nil {
		return nil, err
	}
	isFinal, err := r.getBool()
	if err != nil {
		return nil, err
	}
	_, checksum, err := r.getOptionString()
	if err != nil {
		return nil, err
	}
	return &FileChunk{TransferID: id, ChunkIndex: idx, Payload: payload, IsFinal: isFinal, Checksum: checksum}, nil
}

func decodeChunkAck(r *reader) (*ChunkAck, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	idx, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	statusByte, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	ack := &ChunkAck{TransferID: id, ChunkIndex: idx, Status: AckStatus(statusByte)}
	switch ack.Status {
	case AckInvalid:
		ack.Reason, err = r.getString()
	case AckOutOfOrder:
		ack.ExpectedIndex, err = r.getUint32()
	}
	if err != nil {
		return nil, err
	}
	return ack, nil
}

func decodeBatchedAck(r *reader) (*BatchedAck, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	indices := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		idx, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	next, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	return &BatchedAck{TransferID: id, AckedIndices: indices, NextExpected: next}, nil
}

func decodeFinalResponse(r *reader) (*FinalResponse, error) {
	id, err := getTransferID(r)
	if err != nil {
		return nil, err
	}
	success, err := r.getBool()
	if err != nil {
		return nil, err
	}
	_, errMsg, err := r.getOptionString()
	if err != nil {
		return nil, err
	}
	hasData, err := r.getBool()
	if err != nil {
		return nil, err
	}
	var data []byte
	if hasData {
		data, err = r.getBytes()
		if err != nil {
			return nil, err
		}
	}
	_, convertedFilename, err := r.getOptionString()
	if err != nil {
		return nil, err
	}
	procTime, err := r.getUint64()
	if err != nil {
		return nil, err
	}

	integrityOK, err := r.getBool()
	if err != nil {
		return nil, err
	}
	typeOK, err := r.getBool()
	if err != nil {
		return nil, err
	}
	sizeOK, err := r.getBool()
	if err != nil {
		return nil, err
	}
	warnCount, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	warnings := make([]string, 0, warnCount)
	for i := uint32(0); i < warnCount; i++ {
		w, err := r.getString()
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w)
	}

	return &FinalResponse{
		TransferID:        id,
		Success:           success,
		ErrorMessage:      errMsg,
		ConvertedData:     data,
		ConvertedFilename: convertedFilename,
		ProcessingTimeMS:  procTime,
		Validation: ValidationRecord{
			IntegrityOK: integrityOK,
			TypeOK:      typeOK,
			SizeOK:      sizeOK,
			Warnings:    warnings,
		},
	}, nil
}
