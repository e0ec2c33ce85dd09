package receiver

import (
	"github.com/opd-ai/p2pconvert/codec"
	"github.com/opd-ai/p2pconvert/limits"
)

// admissionError pairs a wire error_code (§6) with a human reason,
// returned by checkAdmission so the caller can build a Reject frame.
type admissionError struct {
	Code   uint16
	Reason string
}

func (e *admissionError) Error() string { return e.Reason }

// Error codes from §6's table.
const (
	codeMalformedRequest  uint16 = 400
	codeUnauthorizedPeer  uint16 = 401
	codePolicyRejection   uint16 = 403
	codeFileTooLarge      uint16 = 413
	codeUnsupportedSource uint16 = 415
	codeValidationFailed  uint16 = 422
	codeAdmissionDenied   uint16 = 429
	codeInternalError     uint16 = 500
	codeTemporarilyUnavailable uint16 = 503
	codeInsufficientStorage    uint16 = 507
)

// checkAdmission runs the §4.4(b)-(e) admission checks against req, given
// the engine's configured limits and accepted source types. It does not
// check registry capacity; the caller does that separately since it must
// hold the registry's own critical section.
func (e *Engine) checkAdmission(req *codec.TransferRequest) *admissionError {
	if err := codec.ValidateFilename(req.Filename); err != nil {
		return &admissionError{Code: codeValidationFailed, Reason: err.Error()}
	}
	if err := codec.ValidateMetadata(req.Metadata); err != nil {
		return &admissionError{Code: codeValidationFailed, Reason: err.Error()}
	}
	if err := limits.CheckFileSize(req.FileSize, e.cfg.MaxFileSize); err != nil {
		return &admissionError{Code: codeFileTooLarge, Reason: err.Error()}
	}
	if !e.acceptsAnySourceType() && !e.acceptedSourceTypes[req.SourceType] {
		return &admissionError{Code: codeUnsupportedSource, Reason: "source type not accepted"}
	}
	if req.TargetFormat != "" && !e.supportsFormat(req.TargetFormat) {
		return &admissionError{Code: codeUnsupportedSource, Reason: "target format not supported by conversion worker"}
	}
	return nil
}

func (e *Engine) supportsFormat(format string) bool {
	for _, f := range e.worker.SupportedFormats() {
		if f == format {
			return true
		}
	}
	return false
}
