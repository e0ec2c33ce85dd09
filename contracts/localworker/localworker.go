// Package localworker provides a reference contracts.ConversionWorker
// exercising the §6 minimum accepted pairs (txt->pdf, pdf->txt, x->x
// pass-through) in-process, for tests and the cmd/p2pconvert demo. The
// concrete text-to-PDF and PDF-to-text conversion algorithms are out of
// scope for the core per §1; this worker produces a minimal, valid-enough
// rendering so callers can exercise the wire contract end to end.
package localworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/p2pconvert/contracts"
)

// ErrUnsupportedPair is returned when neither an identity conversion nor
// a known (source, target) pair matches the request.
var ErrUnsupportedPair = errors.New("localworker: unsupported conversion pair")

// pdfHeader is the magic-byte prefix the Sender Engine's source-type
// detector and the Receiver Engine's type re-validation both recognize
// (§4.3, §4.4).
var pdfHeader = []byte("%PDF-1.4\n")

// Worker implements contracts.ConversionWorker with pass-through and a
// minimal txt<->pdf stub pairing.
type Worker struct{}

// New returns a ready-to-use Worker.
func New() *Worker { return &Worker{} }

// SupportedFormats lists the target tags this worker accepts.
func (w *Worker) SupportedFormats() []string {
	return []string{"txt", "pdf"}
}

// Convert implements contracts.ConversionWorker.
func (w *Worker) Convert(ctx context.Context, sourceType, targetType string, data []byte) (contracts.ConversionResult, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "Convert",
		"source_type": sourceType,
		"target_type": targetType,
		"bytes":       len(data),
	}).Debug("worker converting payload")

	if sourceType == targetType {
		return contracts.ConversionResult{Bytes: data, FilenameHint: "converted." + targetType}, nil
	}

	select {
	case <-ctx.Done():
		return contracts.ConversionResult{}, ctx.Err()
	default:
	}

	switch {
	case sourceType == "txt" && targetType == "pdf":
		return contracts.ConversionResult{Bytes: textToPDF(data), FilenameHint: "converted.pdf"}, nil
	case sourceType == "pdf" && targetType == "txt":
		return contracts.ConversionResult{Bytes: pdfToText(data), FilenameHint: "converted.txt"}, nil
	default:
		return contracts.ConversionResult{}, fmt.Errorf("%w: %s -> %s", ErrUnsupportedPair, sourceType, targetType)
	}
}

// textToPDF wraps plaintext in a minimal single-page PDF document. It is
// not a general-purpose renderer — it escapes parentheses/backslashes and
// emits one content stream — sufficient to exercise the wire contract's
// "converted bytes begin with %PDF" assertion (§8 scenario 2).
func textToPDF(data []byte) []byte {
	escaped := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)").Replace(string(data))

	var buf bytes.Buffer
	buf.Write(pdfHeader)
	fmt.Fprintf(&buf, "1 0 obj<< /Type /Catalog /Pages 2 0 R >>endobj\n")
	fmt.Fprintf(&buf, "2 0 obj<< /Type /Pages /Kids [3 0 R] /Count 1 >>endobj\n")
	fmt.Fprintf(&buf, "3 0 obj<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>endobj\n")
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escaped)
	fmt.Fprintf(&buf, "4 0 obj<< /Length %d >>stream\n%s\nendstream endobj\n", len(content), content)
	buf.WriteString("trailer<< /Root 1 0 R >>\n%%EOF\n")
	return buf.Bytes()
}

// pdfToText extracts the literal bytes between the first "(" and the last ")" of a
// BT/ET content stream produced by textToPDF, undoing its escaping. Not a
// general-purpose PDF text extractor.
func pdfToText(data []byte) []byte {
	start := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if start < 0 || end <= start {
		return nil
	}
	escaped := string(data[start+1 : end])
	unescaped := strings.NewReplacer("\\(", "(", "\\)", ")", "\\\\", "\\").Replace(escaped)
	return []byte(unescaped)
}
