// Package receiver implements the Receiver Engine (§4.4): a listener over
// a contracts.Substrate's inbound streams performing admission control,
// chunk reassembly, Finalizing-stage validation/conversion/storage, and
// the terminal FinalResponse.
//
// Grounded on the teacher's file.Manager — its per-transfer handler
// goroutine and packet-dispatch shape — generalized from Tox's
// friend-scoped transfer map to the wire protocol's Session Registry and
// its richer Finalizing pipeline.
package receiver

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/opd-ai/p2pconvert/codec"
	"github.com/opd-ai/p2pconvert/contracts"
	"github.com/opd-ai/p2pconvert/flowcontrol"
	"github.com/opd-ai/p2pconvert/limits"
	"github.com/opd-ai/p2pconvert/registry"
	"github.com/opd-ai/p2pconvert/session"
	"github.com/sirupsen/logrus"
)

// Options configures an Engine beyond the shared flowcontrol.Config.
type Options struct {
	AcceptedSourceTypes []string // empty means accept any detected type
	SpillDir            string   // directory for reassembly spill files; "" means os.TempDir()
}

// Engine listens for inbound transfers and drives each to completion.
type Engine struct {
	substrate contracts.Substrate
	clock     contracts.Clock
	cfg       flowcontrol.Config
	reg       *registry.Registry
	worker    contracts.ConversionWorker
	sink      contracts.StorageSink

	acceptedSourceTypes map[string]bool
	spillDir            string
}

// NewEngine constructs a Receiver Engine. An empty AcceptedSourceTypes
// accepts every detected source type.
func NewEngine(substrate contracts.Substrate, clock contracts.Clock, cfg flowcontrol.Config, reg *registry.Registry, worker contracts.ConversionWorker, sink contracts.StorageSink, opts Options) *Engine {
	accepted := make(map[string]bool, len(opts.AcceptedSourceTypes))
	for _, t := range opts.AcceptedSourceTypes {
		accepted[t] = true
	}
	return &Engine{
		substrate:           substrate,
		clock:               clock,
		cfg:                 flowcontrol.NewConfig(cfg),
		reg:                 reg,
		worker:              worker,
		sink:                sink,
		acceptedSourceTypes: accepted,
		spillDir:            opts.SpillDir,
	}
}

func (e *Engine) acceptsAnySourceType() bool { return len(e.acceptedSourceTypes) == 0 }

// Serve blocks, accepting inbound streams from the Substrate and handling
// each on its own goroutine, until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	streams, err := e.substrate.Listen(ctx)
	if err != nil {
		return fmt.Errorf("receiver: listen: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case stream, ok := <-streams:
			if !ok {
				return nil
			}
			go e.handleStream(ctx, stream)
		}
	}
}

func (e *Engine) handleStream(ctx context.Context, stream contracts.Stream) {
	defer stream.Close()

	log := logrus.WithFields(logrus.Fields{
		"function": "handleStream",
		"peer":     stream.RemotePeer(),
	})

	fw := codec.NewFrameWriter(stream)
	fr := codec.NewFrameReader(stream, 0)

	stream.SetReadDeadline(e.clock.Now().Add(e.cfg.AckDeadline))
	msg, err := fr.ReadFrame()
	if err != nil {
		log.WithError(err).Warn("failed reading initial frame")
		return
	}
	if msg.Type != codec.MessageTransferRequest {
		log.Warn("first frame was not a TransferRequest")
		return
	}
	req := msg.TransferRequest

	rlog := log.WithField("transfer_id", req.TransferID.String())

	if admErr := e.checkAdmission(req); admErr != nil {
		rlog.WithField("error_code", admErr.Code).Warn("rejecting transfer request")
		fw.WriteFrame(&codec.Message{Type: codec.MessageReject, Reject: &codec.Reject{
			TransferID: req.TransferID,
			Reason:     admErr.Reason,
			ErrorCode:  admErr.Code,
		}})
		return
	}

	sess := session.New(req.TransferID, session.RoleResponder, stream.RemotePeer(), req.FileSize, req.ChunkCount, e.clock.Now(), e.cfg.OverallDeadline)
	maxChunk := e.cfg.MaxChunkSize
	sess.SetMaxChunkSize(maxChunk)

	if err := e.reg.Insert(sess); err != nil {
		rlog.WithError(err).Warn("rejecting transfer request: registry admission denied")
		fw.WriteFrame(&codec.Message{Type: codec.MessageReject, Reject: &codec.Reject{
			TransferID: req.TransferID,
			Reason:     "too many concurrent transfers",
			ErrorCode:  codeAdmissionDenied,
		}})
		return
	}

	if err := sess.Transition(session.Negotiating, nil); err != nil {
		rlog.WithError(err).Error("Idle->Negotiating failed")
		return
	}

	if err := fw.WriteFrame(&codec.Message{Type: codec.MessageAccept, Accept: &codec.Accept{
		TransferID:       req.TransferID,
		MaxChunkSize:     maxChunk,
		SupportedFormats: e.worker.SupportedFormats(),
	}}); err != nil {
		rlog.WithError(err).Warn("failed writing Accept")
		_ = sess.Transition(session.Failed, session.NewFailure(session.KindTransportFailure, "writing Accept failed", err))
		return
	}
	if err := sess.Transition(session.Transferring, nil); err != nil {
		rlog.WithError(err).Error("Negotiating->Transferring failed")
		return
	}

	h := &incoming{
		engine: e,
		sess:   sess,
		req:    req,
		stream: stream,
		fw:     fw,
		fr:     fr,
		reasm:  newReassembler(e.cfg.ReassemblyCap, uint32(e.cfg.WindowSize)+2, e.spillDir),
		log:    rlog,
	}
	defer h.reasm.Close()

	h.run(ctx)
}

// incoming holds one in-flight inbound transfer's working state, owned
// exclusively by the goroutine handleStream spawned (§5).
type incoming struct {
	engine *Engine
	sess   *session.Session
	req    *codec.TransferRequest
	stream contracts.Stream
	fw     *codec.FrameWriter
	fr     *codec.FrameReader
	reasm  *reassembler
	log    *logrus.Entry
}

func (h *incoming) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = h.sess.Transition(session.Cancelled, nil)
			return
		default:
		}

		if h.sess.State() != session.Transferring {
			return
		}

		h.stream.SetReadDeadline(h.sess.OverallDeadline())
		msg, err := h.fr.ReadFrame()
		if err != nil {
			h.log.WithError(err).Warn("read failed during transfer")
			_ = h.sess.Transition(session.Failed, session.NewFailure(session.KindTransportFailure, "read failed", err))
			return
		}

		switch msg.Type {
		case codec.MessageFileChunk:
			if done := h.handleChunk(msg.FileChunk); done {
				h.finalize(ctx)
				return
			}
		case codec.MessageReject:
			_ = h.sess.Transition(session.Failed, session.NewFailure(session.KindProtocolViolation, "peer rejected after acceptance", session.ErrProtocolViolation))
			return
		default:
			escalate := h.sess.RecordWrongStateOffense()
			h.log.Warn("unexpected message type during Transferring")
			if escalate {
				_ = h.sess.Transition(session.Failed, session.NewFailure(session.KindProtocolViolation, "repeated wrong-state offenses", session.ErrWrongState))
				return
			}
		}
	}
}

// handleChunk applies one FileChunk to the reassembler, acks it, and
// reports whether the session is now ready to finalize.
func (h *incoming) handleChunk(chunk *codec.FileChunk) bool {
	// A zero-length file's single final chunk is a legitimate empty
	// payload; limits.CheckChunkPayload otherwise rejects size 0.
	if !(chunk.IsFinal && len(chunk.Payload) == 0) {
		if err := limits.CheckChunkPayload(len(chunk.Payload), int(h.sess.MaxChunkSize())); err != nil {
			h.writeAck(chunk.ChunkIndex, codec.AckInvalid, err.Error(), 0)
			return false
		}
	}
	if chunk.Checksum != "" && !codec.VerifyChecksum(chunk.Payload, chunk.Checksum) {
		h.writeAck(chunk.ChunkIndex, codec.AckInvalid, session.ErrChecksumMismatch.Error(), 0)
		return false
	}

	result, expected, err := h.reasm.Accept(chunk.ChunkIndex, chunk.Payload, chunk.IsFinal)
	if err != nil {
		_ = h.sess.Transition(session.Failed, session.NewFailure(session.KindStorageFailure, "reassembly write failed", err))
		return false
	}

	switch result {
	case acceptOutOfOrder:
		h.writeAck(chunk.ChunkIndex, codec.AckOutOfOrder, "", expected)
		return false
	case acceptDuplicate:
		h.writeAck(chunk.ChunkIndex, codec.AckReceived, "", 0)
		return false
	default: // acceptReceived, acceptBuffered
		h.sess.AddBytesTransferred(uint64(len(chunk.Payload)))
		if _, err := h.sess.RecordAck(chunk.ChunkIndex, len(chunk.Payload), chunk.IsFinal); err != nil {
			_ = h.sess.Transition(session.Failed, session.NewFailure(session.KindValidationFailure, "chunk bookkeeping invariant violated", err))
			return false
		}
		h.writeAck(chunk.ChunkIndex, codec.AckReceived, "", 0)
		return h.reasm.Complete()
	}
}

func (h *incoming) writeAck(index uint32, status codec.AckStatus, reason string, expected uint32) {
	if err := h.fw.WriteFrame(&codec.Message{Type: codec.MessageChunkAck, ChunkAck: &codec.ChunkAck{
		TransferID:    h.sess.ID,
		ChunkIndex:    index,
		Status:        status,
		Reason:        reason,
		ExpectedIndex: expected,
	}}); err != nil {
		h.log.WithError(err).Warn("failed writing chunk ack")
	}
}

// finalize drives the Finalizing-stage pipeline of §4.4: integrity, type
// validation, conversion, storage, and the terminal FinalResponse.
func (h *incoming) finalize(ctx context.Context) {
	start := h.engine.clock.Now()

	if err := h.sess.Transition(session.Finalizing, nil); err != nil {
		h.log.WithError(err).Error("Transferring->Finalizing failed")
		return
	}

	record := codec.ValidationRecord{}
	data, err := h.reasm.Bytes()
	if err != nil {
		h.failFinal(session.NewFailure(session.KindStorageFailure, "reading assembled bytes failed", err), record, start)
		return
	}

	record.IntegrityOK = uint64(len(data)) == h.req.FileSize
	record.SizeOK = record.IntegrityOK
	if !record.IntegrityOK {
		h.failFinal(session.NewFailure(session.KindValidationFailure, "assembled size does not match declared file_size", nil), record, start)
		return
	}

	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	redetected := codec.DetectSourceType(sample)
	record.TypeOK = redetected == h.req.SourceType
	if !record.TypeOK {
		if h.req.TargetFormat != "" && h.req.TargetFormat != h.req.SourceType {
			h.failFinal(session.NewFailure(session.KindValidationFailure, "re-detected source type disagrees with declared type", nil), record, start)
			return
		}
		record.Warnings = append(record.Warnings, fmt.Sprintf("re-detected source type %q disagrees with declared %q", redetected, h.req.SourceType))
	}

	finalBytes := data
	finalFilename := h.req.Filename
	if h.req.TargetFormat != "" && h.req.TargetFormat != h.req.SourceType {
		convCtx, cancel := context.WithTimeout(ctx, h.engine.cfg.ConversionCap)
		result, err := h.engine.worker.Convert(convCtx, h.req.SourceType, h.req.TargetFormat, data)
		cancel()
		if err != nil {
			h.failFinal(session.NewFailure(session.KindConversionFailure, "conversion failed", err), record, start)
			return
		}
		finalBytes = result.Bytes
		if result.FilenameHint != "" {
			finalFilename = result.FilenameHint
		}
	}

	finalPath, err := h.engine.sink.Write(ctx, finalFilename, finalBytes)
	if err != nil {
		h.failFinal(session.NewFailure(session.KindStorageFailure, "storage write failed", err), record, start)
		return
	}

	if err := h.sess.Transition(session.Completed, nil); err != nil {
		h.log.WithError(err).Error("Finalizing->Completed failed")
		return
	}

	resp := &codec.FinalResponse{
		TransferID:        h.sess.ID,
		Success:           true,
		ConvertedFilename: filepath.Base(finalPath),
		ProcessingTimeMS:  uint64(h.engine.clock.Since(start) / time.Millisecond),
		Validation:        record,
	}
	if h.req.ReturnResult {
		resp.ConvertedData = finalBytes
	}
	if err := h.fw.WriteFrame(&codec.Message{Type: codec.MessageFinalResponse, FinalResponse: resp}); err != nil {
		h.log.WithError(err).Warn("failed writing FinalResponse")
		return
	}

	h.log.WithField("final_path", finalPath).Info("transfer completed")
}

func (h *incoming) failFinal(reason *session.FailureReason, record codec.ValidationRecord, start time.Time) {
	_ = h.sess.Transition(session.Failed, reason)
	h.log.WithField("kind", reason.Kind.String()).Warn(reason.Message)

	h.fw.WriteFrame(&codec.Message{Type: codec.MessageFinalResponse, FinalResponse: &codec.FinalResponse{
		TransferID:       h.sess.ID,
		Success:          false,
		ErrorMessage:     reason.Error(),
		ProcessingTimeMS: uint64(h.engine.clock.Since(start) / time.Millisecond),
		Validation:       record,
	}})
}
