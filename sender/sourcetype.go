package sender

import "github.com/opd-ai/p2pconvert/codec"

// DetectSourceType classifies the leading bytes of a file per §4.3.
// Delegates to codec.DetectSourceType, the Sender and Receiver Engines'
// shared heuristic.
func DetectSourceType(sample []byte) string {
	return codec.DetectSourceType(sample)
}
