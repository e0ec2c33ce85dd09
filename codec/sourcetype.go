package codec

import "unicode/utf8"

// DetectSourceType classifies the leading bytes of a file per §4.3: a PDF
// magic number wins first, then a UTF-8-with-mostly-printable heuristic
// for text, else "unknown". sample should be the first 4 KiB or less of
// the file. Shared by the Sender Engine's initial detection and the
// Receiver Engine's Finalizing-stage re-detection (§4.4 step 2).
func DetectSourceType(sample []byte) string {
	if len(sample) >= 4 && sample[0] == '%' && sample[1] == 'P' && sample[2] == 'D' && sample[3] == 'F' {
		return "pdf"
	}
	if looksLikeText(sample) {
		return "txt"
	}
	return "unknown"
}

func looksLikeText(sample []byte) bool {
	if len(sample) == 0 {
		return true
	}
	if !utf8.Valid(sample) {
		return false
	}
	printable := 0
	for _, r := range string(sample) {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 0x20 && r != 0x7f) {
			printable++
		}
	}
	total := utf8.RuneCount(sample)
	return float64(printable)/float64(total) >= 0.95
}
