package localworker

import (
	"bytes"
	"context"
	"testing"
)

func TestConvertPassThrough(t *testing.T) {
	w := New()
	data := []byte("hello world")
	result, err := w.Convert(context.Background(), "txt", "txt", data)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !bytes.Equal(result.Bytes, data) {
		t.Error("x->x pass-through must be bit-identical")
	}
}

func TestConvertTxtToPDF(t *testing.T) {
	w := New()
	result, err := w.Convert(context.Background(), "txt", "pdf", []byte("Hello, World!"))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !bytes.HasPrefix(result.Bytes, []byte("%PDF")) {
		t.Errorf("converted bytes must begin with %%PDF, got %q", result.Bytes[:4])
	}
	if result.FilenameHint == "" {
		t.Error("expected a non-empty filename hint")
	}
}

func TestConvertPDFToTxt(t *testing.T) {
	w := New()
	pdf, err := w.Convert(context.Background(), "txt", "pdf", []byte("round trip me"))
	if err != nil {
		t.Fatalf("Convert(txt->pdf) error = %v", err)
	}
	back, err := w.Convert(context.Background(), "pdf", "txt", pdf.Bytes)
	if err != nil {
		t.Fatalf("Convert(pdf->txt) error = %v", err)
	}
	if string(back.Bytes) != "round trip me" {
		t.Errorf("round trip = %q, want %q", back.Bytes, "round trip me")
	}
}

func TestConvertUnsupportedPair(t *testing.T) {
	w := New()
	_, err := w.Convert(context.Background(), "unknown", "pdf", []byte("x"))
	if err == nil {
		t.Error("expected an error for an unsupported conversion pair")
	}
}

func TestSupportedFormats(t *testing.T) {
	w := New()
	formats := w.SupportedFormats()
	if len(formats) == 0 {
		t.Error("expected at least one supported format")
	}
}
