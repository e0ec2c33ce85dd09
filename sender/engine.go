// Package sender implements the Sender Engine (§4.3): it drives a single
// outbound transfer over a contracts.Substrate stream, chunking the
// source file under a sliding window, processing acks, retransmitting on
// loss, and reporting progress.
//
// Grounded on the teacher's file.Transfer — its stall-timeout loop,
// progress-callback shape, and TimeProvider-driven deadlines — generalized
// from Tox's fixed 1 KiB packet size to the wire protocol's negotiated
// window and chunk size.
package sender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opd-ai/p2pconvert/codec"
	"github.com/opd-ai/p2pconvert/contracts"
	"github.com/opd-ai/p2pconvert/flowcontrol"
	"github.com/opd-ai/p2pconvert/registry"
	"github.com/opd-ai/p2pconvert/session"
	"github.com/sirupsen/logrus"
)

// Options configures one SendFile call (§4.3's send_file contract).
type Options struct {
	TargetFormat    string
	ReturnResult    bool
	IntegrityChecks bool
	NetworkQuality  flowcontrol.NetworkQuality
	Metadata        map[string]string
}

// Result is the terminal outcome of a completed SendFile call.
type Result struct {
	TransferID codec.TransferID
	State      session.State
	Failure    *session.FailureReason
	Final      *codec.FinalResponse
}

// Engine drives outbound transfers against a Substrate.
type Engine struct {
	substrate contracts.Substrate
	clock     contracts.Clock
	cfg       flowcontrol.Config
	reg       *registry.Registry
}

// NewEngine constructs a Sender Engine bound to substrate, clock, cfg, and
// a shared Registry it registers each new session with (§4.6).
func NewEngine(substrate contracts.Substrate, clock contracts.Clock, cfg flowcontrol.Config, reg *registry.Registry) *Engine {
	return &Engine{substrate: substrate, clock: clock, cfg: flowcontrol.NewConfig(cfg), reg: reg}
}

// sampleSize is how much of the file's head is read for source-type
// detection (§4.3's "first <= 4 KiB").
const sampleSize = 4096

// SendFile opens a logical stream to peer, negotiates, and drives path's
// contents across under flow control, publishing Progress snapshots on
// the returned channel (closed once the transfer reaches a terminal
// state). The transfer's id is returned immediately so callers can
// correlate cancellation and logging before the transfer completes.
func (e *Engine) SendFile(ctx context.Context, peer, path string, opts Options) (codec.TransferID, <-chan Progress, <-chan Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return codec.TransferID{}, nil, nil, fmt.Errorf("sender: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return codec.TransferID{}, nil, nil, fmt.Errorf("sender: stat %s: %w", path, err)
	}
	fileSize := uint64(info.Size())

	sample := make([]byte, sampleSize)
	n, _ := f.ReadAt(sample, 0)
	sourceType := DetectSourceType(sample[:n])

	chunkSize := flowcontrol.InitialChunkSize(fileSize, opts.NetworkQuality)
	chunkCount := flowcontrol.ChunkCount(fileSize, chunkSize)
	if chunkCount == 0 {
		chunkCount = 1 // a zero-length file is still exactly one (empty) final chunk
	}

	id := codec.NewTransferID()
	sess := session.New(id, session.RoleInitiator, peer, fileSize, chunkCount, e.clock.Now(), e.cfg.OverallDeadline)
	sess.SetMaxChunkSize(uint32(chunkSize))

	if err := e.reg.Insert(sess); err != nil {
		f.Close()
		return id, nil, nil, fmt.Errorf("sender: %w", err)
	}

	progressCh := make(chan Progress, 1)
	resultCh := make(chan Result, 1)

	t := &transfer{
		engine:     e,
		sess:       sess,
		file:       f,
		path:       path,
		peer:       peer,
		fileSize:   fileSize,
		sourceType: sourceType,
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		opts:       opts,
		progressCh: progressCh,
		resultCh:   resultCh,
	}

	go t.run(ctx)

	return id, progressCh, resultCh, nil
}

// transfer holds the mutable working state of one in-flight send,
// confined to the single goroutine t.run spawns (§5: "each Session is
// owned by exactly one task").
type transfer struct {
	engine     *Engine
	sess       *session.Session
	file       *os.File
	path       string
	peer       string
	fileSize   uint64
	sourceType string
	chunkSize  int
	chunkCount uint32
	opts       Options

	progressCh chan Progress
	resultCh   chan Result

	throughput    throughputTracker
	lastReport    time.Time
	lastSentBytes uint64
}

type outstandingChunk struct {
	index      uint32
	payload    []byte
	isFinal    bool
	checksum   string
	sentAt     time.Time
	retryCount int
}

func (t *transfer) run(ctx context.Context) {
	defer t.file.Close()
	defer close(t.progressCh)
	defer close(t.resultCh)

	log := logrus.WithFields(logrus.Fields{
		"function":    "transfer.run",
		"transfer_id": t.sess.ID.String(),
		"peer":        t.peer,
	})

	stream, err := t.engine.substrate.Dial(ctx, t.peer)
	if err != nil {
		t.fail(session.NewFailure(session.KindTransportFailure, "dial failed", err))
		return
	}
	defer stream.Close()

	fw := codec.NewFrameWriter(stream)
	fr := codec.NewFrameReader(stream, 0)

	req := &codec.TransferRequest{
		TransferID:   t.sess.ID,
		Filename:     filepath.Base(t.path),
		FileSize:     t.fileSize,
		SourceType:   t.sourceType,
		TargetFormat: t.opts.TargetFormat,
		ReturnResult: t.opts.ReturnResult,
		ChunkCount:   t.chunkCount,
		Metadata:     t.opts.Metadata,
	}
	if err := fw.WriteFrame(&codec.Message{Type: codec.MessageTransferRequest, TransferRequest: req}); err != nil {
		t.fail(session.NewFailure(session.KindTransportFailure, "writing TransferRequest failed", err))
		return
	}
	if err := t.sess.Transition(session.Negotiating, nil); err != nil {
		t.fail(session.NewFailure(session.KindProtocolViolation, "Idle->Negotiating", err))
		return
	}

	stream.SetReadDeadline(t.engine.clock.Now().Add(t.engine.cfg.AckDeadline))
	resp, err := fr.ReadFrame()
	if err != nil {
		t.fail(session.NewFailure(session.KindTransportFailure, "reading initial response failed", err))
		return
	}
	switch resp.Type {
	case codec.MessageReject:
		t.failProtocolClean(resp.Reject, log)
		return
	case codec.MessageAccept:
		accepted := int(resp.Accept.MaxChunkSize)
		if accepted > 0 && accepted < t.chunkSize {
			t.chunkSize = accepted
			t.chunkCount = flowcontrol.ChunkCount(t.fileSize, t.chunkSize)
			if t.chunkCount == 0 {
				t.chunkCount = 1
			}
		}
		t.sess.SetMaxChunkSize(uint32(t.chunkSize))
	default:
		t.fail(session.NewFailure(session.KindProtocolViolation, "unexpected message awaiting Accept/Reject", session.ErrProtocolViolation))
		return
	}

	if err := t.sess.Transition(session.Transferring, nil); err != nil {
		t.fail(session.NewFailure(session.KindProtocolViolation, "Negotiating->Transferring", err))
		return
	}

	if err := t.sendLoop(ctx, stream, fw, fr, log); err != nil {
		return // sendLoop has already recorded the terminal state
	}

	t.finalize(ctx, stream, fr, log)
}

func (t *transfer) failProtocolClean(rej *codec.Reject, log *logrus.Entry) {
	reason := "rejected"
	if rej != nil {
		reason = rej.Reason
	}
	log.WithField("reason", reason).Warn("transfer request rejected")
	t.fail(session.NewFailure(session.KindValidationFailure, reason, session.ErrAdmissionDenied))
}

// sendLoop streams chunks under the sliding window, processes acks, and
// retransmits on timeout, until every chunk has been acknowledged or the
// session fails/cancels (§4.3).
func (t *transfer) sendLoop(ctx context.Context, stream contracts.Stream, fw *codec.FrameWriter, fr *codec.FrameReader, log *logrus.Entry) error {
	window := t.engine.cfg.WindowSize
	outstanding := make(map[uint32]*outstandingChunk)
	var nextIndex uint32

	sendChunk := func(idx uint32) error {
		chunk, err := t.readChunk(idx)
		if err != nil {
			return err
		}
		oc := &outstandingChunk{
			index:    idx,
			payload:  chunk.payload,
			isFinal:  chunk.isFinal,
			checksum: chunk.checksum,
			sentAt:   t.engine.clock.Now(),
		}
		if existing, ok := outstanding[idx]; ok {
			oc.retryCount = existing.retryCount
		}
		outstanding[idx] = oc
		return fw.WriteFrame(&codec.Message{Type: codec.MessageFileChunk, FileChunk: &codec.FileChunk{
			TransferID: t.sess.ID,
			ChunkIndex: idx,
			Payload:    oc.payload,
			IsFinal:    oc.isFinal,
			Checksum:   oc.checksum,
		}})
	}

	for {
		select {
		case <-ctx.Done():
			t.cancel(stream)
			return ctx.Err()
		default:
		}

		if t.sess.State().IsTerminal() {
			return fmt.Errorf("sender: session already terminal")
		}

		for len(outstanding) < window && nextIndex < t.chunkCount {
			if err := sendChunk(nextIndex); err != nil {
				t.fail(session.NewFailure(session.KindTransportFailure, "sending chunk failed", err))
				return err
			}
			nextIndex++
		}

		t.maybeReportProgress()

		if len(outstanding) == 0 && nextIndex >= t.chunkCount {
			return nil
		}

		deadline := t.earliestDeadline(outstanding)
		stream.SetReadDeadline(deadline)
		msg, err := fr.ReadFrame()
		if err != nil {
			if isTimeout(err) {
				if retryErr := t.retransmitExpired(outstanding, sendChunk, log); retryErr != nil {
					return retryErr
				}
				continue
			}
			t.fail(session.NewFailure(session.KindTransportFailure, "reading ack failed", err))
			return err
		}

		if err := t.handleAck(msg, outstanding, &nextIndex, sendChunk, log); err != nil {
			return err
		}
	}
}

func (t *transfer) earliestDeadline(outstanding map[uint32]*outstandingChunk) time.Time {
	earliest := t.engine.clock.Now().Add(t.engine.cfg.AckDeadline)
	for _, oc := range outstanding {
		d := oc.sentAt.Add(t.engine.cfg.AckDeadline)
		if d.Before(earliest) {
			earliest = d
		}
	}
	return earliest
}

func (t *transfer) retransmitExpired(outstanding map[uint32]*outstandingChunk, sendChunk func(uint32) error, log *logrus.Entry) error {
	now := t.engine.clock.Now()
	for idx, oc := range outstanding {
		if now.Before(oc.sentAt.Add(t.engine.cfg.AckDeadline)) {
			continue
		}
		if oc.retryCount >= t.engine.cfg.MaxRetries {
			err := fmt.Errorf("%w: chunk %d exhausted retries", session.ErrChunkRejected, idx)
			t.fail(session.NewFailure(session.KindTimeout, "chunk retry budget exhausted", err))
			return err
		}
		delay := flowcontrol.RetryDelay(t.engine.cfg, oc.retryCount)
		log.WithFields(logrus.Fields{"chunk_index": idx, "retry_count": oc.retryCount + 1, "delay": delay}).Debug("retransmitting chunk after ack timeout")
		oc.retryCount++
		if err := sendChunk(idx); err != nil {
			t.fail(session.NewFailure(session.KindTransportFailure, "retransmit failed", err))
			return err
		}
	}
	return nil
}

func (t *transfer) handleAck(msg *codec.Message, outstanding map[uint32]*outstandingChunk, nextIndex *uint32, sendChunk func(uint32) error, log *logrus.Entry) error {
	switch msg.Type {
	case codec.MessageChunkAck:
		return t.applyAck(msg.ChunkAck, outstanding, sendChunk, log)
	case codec.MessageBatchedAck:
		for _, idx := range msg.BatchedAck.AckedIndices {
			if oc, ok := outstanding[idx]; ok {
				if _, err := t.sess.RecordAck(idx, len(oc.payload), oc.isFinal); err != nil {
					t.fail(session.NewFailure(session.KindValidationFailure, "chunk bookkeeping invariant violated", err))
					return err
				}
				delete(outstanding, idx)
			}
		}
		for idx, oc := range outstanding {
			if idx < msg.BatchedAck.NextExpected {
				if _, err := t.sess.RecordAck(idx, len(oc.payload), oc.isFinal); err != nil {
					t.fail(session.NewFailure(session.KindValidationFailure, "chunk bookkeeping invariant violated", err))
					return err
				}
				delete(outstanding, idx)
			}
		}
		return nil
	case codec.MessageReject:
		t.failProtocolClean(msg.Reject, log)
		return fmt.Errorf("sender: rejected mid-transfer")
	default:
		t.fail(session.NewFailure(session.KindProtocolViolation, "unexpected message during transfer", session.ErrProtocolViolation))
		return session.ErrProtocolViolation
	}
}

func (t *transfer) applyAck(ack *codec.ChunkAck, outstanding map[uint32]*outstandingChunk, sendChunk func(uint32) error, log *logrus.Entry) error {
	switch ack.Status {
	case codec.AckReceived:
		if oc, ok := outstanding[ack.ChunkIndex]; ok {
			if _, err := t.sess.RecordAck(ack.ChunkIndex, len(oc.payload), oc.isFinal); err != nil {
				t.fail(session.NewFailure(session.KindValidationFailure, "chunk bookkeeping invariant violated", err))
				return err
			}
			delete(outstanding, ack.ChunkIndex)
		}
		return nil
	case codec.AckInvalid:
		oc, ok := outstanding[ack.ChunkIndex]
		if !ok {
			return nil
		}
		if oc.retryCount >= t.engine.cfg.MaxRetries {
			err := fmt.Errorf("%w: chunk %d (%s)", session.ErrChunkRejected, ack.ChunkIndex, ack.Reason)
			t.fail(session.NewFailure(session.KindValidationFailure, "chunk rejected", err))
			return err
		}
		oc.retryCount++
		log.WithFields(logrus.Fields{"chunk_index": ack.ChunkIndex, "reason": ack.Reason}).Debug("chunk invalid, retransmitting")
		return sendChunk(ack.ChunkIndex)
	case codec.AckOutOfOrder:
		for idx := ack.ExpectedIndex; idx < ack.ChunkIndex; idx++ {
			if _, ok := outstanding[idx]; !ok {
				continue
			}
			if err := sendChunk(idx); err != nil {
				t.fail(session.NewFailure(session.KindTransportFailure, "retransmit on out-of-order ack failed", err))
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

type preparedChunk struct {
	payload  []byte
	isFinal  bool
	checksum string
}

func (t *transfer) readChunk(idx uint32) (preparedChunk, error) {
	offset := int64(idx) * int64(t.chunkSize)
	remaining := int64(t.fileSize) - offset
	if remaining < 0 {
		remaining = 0
	}
	size := int64(t.chunkSize)
	if size > remaining {
		size = remaining
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := t.file.ReadAt(buf, offset); err != nil {
			return preparedChunk{}, fmt.Errorf("sender: read chunk %d: %w", idx, err)
		}
	}
	pc := preparedChunk{payload: buf, isFinal: idx == t.chunkCount-1}
	if t.opts.IntegrityChecks {
		pc.checksum = codec.ChecksumHex(buf)
	}
	return pc, nil
}

func (t *transfer) maybeReportProgress() {
	now := t.engine.clock.Now()
	if !t.lastReport.IsZero() && now.Sub(t.lastReport) < flowcontrol.ProgressSnapshotInterval {
		return
	}
	sent := t.sess.AckedBytes()

	if t.lastReport.IsZero() {
		t.lastReport = now
		t.lastSentBytes = sent
		snap := snapshotProgress(t.sess.ID, sent, t.fileSize, 0)
		select {
		case t.progressCh <- snap:
		default:
		}
		return
	}

	delta := sent - t.lastSentBytes
	t.throughput.observe(int(delta), now.Sub(t.lastReport))
	t.lastReport = now
	t.lastSentBytes = sent

	snap := snapshotProgress(t.sess.ID, sent, t.fileSize, t.throughput.rate())
	select {
	case t.progressCh <- snap:
	default:
	}
}

func (t *transfer) finalize(ctx context.Context, stream contracts.Stream, fr *codec.FrameReader, log *logrus.Entry) {
	if err := t.sess.Transition(session.Finalizing, nil); err != nil {
		t.fail(session.NewFailure(session.KindProtocolViolation, "Transferring->Finalizing", err))
		return
	}

	stream.SetReadDeadline(t.sess.OverallDeadline())
	msg, err := fr.ReadFrame()
	if err != nil {
		t.fail(session.NewFailure(session.KindTimeout, "waiting for final response failed", err))
		return
	}
	if msg.Type != codec.MessageFinalResponse {
		t.fail(session.NewFailure(session.KindProtocolViolation, "expected FinalResponse", session.ErrProtocolViolation))
		return
	}

	final := msg.FinalResponse
	if !final.Success {
		t.fail(session.NewFailure(session.KindConversionFailure, final.ErrorMessage, nil))
		return
	}
	if err := t.sess.Transition(session.Completed, nil); err != nil {
		t.fail(session.NewFailure(session.KindProtocolViolation, "Finalizing->Completed", err))
		return
	}

	log.WithField("processing_time_ms", final.ProcessingTimeMS).Info("transfer completed")
	t.resultCh <- Result{TransferID: t.sess.ID, State: session.Completed, Final: final}
}

func (t *transfer) cancel(stream contracts.Stream) {
	_ = t.sess.Transition(session.Cancelled, nil)
	_ = codec.NewFrameWriter(stream).WriteFrame(&codec.Message{Type: codec.MessageReject, Reject: &codec.Reject{
		TransferID: t.sess.ID,
		Reason:     "cancelled by caller",
		ErrorCode:  0,
	}})
	t.resultCh <- Result{TransferID: t.sess.ID, State: session.Cancelled}
}

func (t *transfer) fail(reason *session.FailureReason) {
	if t.sess.State().IsTerminal() {
		t.resultCh <- Result{TransferID: t.sess.ID, State: t.sess.State(), Failure: t.sess.Failure()}
		return
	}
	_ = t.sess.Transition(session.Failed, reason)
	logrus.WithFields(logrus.Fields{
		"function":    "transfer.fail",
		"transfer_id": t.sess.ID.String(),
		"kind":        reason.Kind.String(),
	}).Warn(reason.Message)
	t.resultCh <- Result{TransferID: t.sess.ID, State: session.Failed, Failure: reason}
}

type timeouter interface{ Timeout() bool }

func isTimeout(err error) bool {
	var te timeouter
	return errors.As(err, &te) && te.Timeout()
}
