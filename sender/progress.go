package sender

import (
	"time"

	"github.com/opd-ai/p2pconvert/codec"
	"github.com/opd-ai/p2pconvert/flowcontrol"
)

// Progress is a point-in-time snapshot of an outbound transfer, published
// at most once per flowcontrol.ProgressSnapshotInterval (§4.3).
type Progress struct {
	TransferID    codec.TransferID
	BytesSent     uint64
	FileSize      uint64
	Percent       float64
	ThroughputBps float64
	ETA           time.Duration
}

// throughputTracker maintains an EWMA of the send rate, fed one sample per
// progress snapshot (acked bytes since the previous snapshot over the
// elapsed time) rather than one per chunk, with alpha =
// 2/(flowcontrol.ThroughputEWMAWindow+1), grounded on the teacher's
// updateTransferSpeed running-average but generalized to an exponential
// weighting so a recent stall is reflected quickly.
type throughputTracker struct {
	ewma float64
	has  bool
}

func (t *throughputTracker) observe(bytes int, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	rate := float64(bytes) / elapsed.Seconds()
	if !t.has {
		t.ewma = rate
		t.has = true
		return
	}
	alpha := 2.0 / float64(flowcontrol.ThroughputEWMAWindow+1)
	t.ewma = alpha*rate + (1-alpha)*t.ewma
}

func (t *throughputTracker) rate() float64 {
	return t.ewma
}

func snapshotProgress(id codec.TransferID, sent, fileSize uint64, throughput float64) Progress {
	p := Progress{
		TransferID:    id,
		BytesSent:     sent,
		FileSize:      fileSize,
		ThroughputBps: throughput,
	}
	if fileSize > 0 {
		p.Percent = 100 * float64(sent) / float64(fileSize)
	}
	if throughput > 0 && fileSize > sent {
		seconds := float64(fileSize-sent) / throughput
		p.ETA = time.Duration(seconds * float64(time.Second))
	}
	return p
}
