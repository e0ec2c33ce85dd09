package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFilenameLength matches typical filesystem limits (§3).
	MaxFilenameLength = 255
	// MaxMetadataEncodedSize bounds the total encoded size of a request's
	// metadata map.
	MaxMetadataEncodedSize = 4 * 1024
	// MaxMetadataKeyLength bounds a single metadata key.
	MaxMetadataKeyLength = 64
	// MaxMetadataValueLength bounds a single metadata value.
	MaxMetadataValueLength = 256
)

// reservedFilenameChars mirrors the deny-list in §3: characters illegal on
// common filesystems plus NUL.
const reservedFilenameChars = "<>:\"|?*\x00"

// deniedMetadataKeys is the small deny-list of metadata keys §3 forbids.
var deniedMetadataKeys = map[string]struct{}{
	"__proto__": {},
	"password":  {},
	"secret":    {},
}

// ValidateFilename enforces §3's filename invariants: UTF-8, length <= 255,
// no path separators, no control bytes, no reserved characters. Grounded
// on the teacher's file.ValidatePath, generalized from "no traversal" to
// the wire protocol's full deny-list since this runs on an untrusted
// request before any file is opened.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty filename", ErrMalformedPayload)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: filename is not valid UTF-8", ErrMalformedPayload)
	}
	if len(name) > MaxFilenameLength {
		return fmt.Errorf("%w: filename length %d exceeds %d", ErrMalformedPayload, len(name), MaxFilenameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: filename contains a path separator", ErrMalformedPayload)
	}
	if strings.ContainsAny(name, reservedFilenameChars) {
		return fmt.Errorf("%w: filename contains a reserved character", ErrMalformedPayload)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("%w: filename contains a control byte", ErrMalformedPayload)
		}
	}
	return nil
}

// ValidateMetadata enforces §3's metadata invariants: total encoded size,
// per-key/value length bounds, and the key deny-list.
func ValidateMetadata(meta map[string]string) error {
	total := 0
	for k, v := range meta {
		if len(k) > MaxMetadataKeyLength {
			return fmt.Errorf("%w: metadata key %q exceeds %d bytes", ErrMalformedPayload, k, MaxMetadataKeyLength)
		}
		if len(v) > MaxMetadataValueLength {
			return fmt.Errorf("%w: metadata value for %q exceeds %d bytes", ErrMalformedPayload, k, MaxMetadataValueLength)
		}
		if _, denied := deniedMetadataKeys[strings.ToLower(k)]; denied {
			return fmt.Errorf("%w: metadata key %q is not allowed", ErrMalformedPayload, k)
		}
		total += len(k) + len(v)
	}
	if total > MaxMetadataEncodedSize {
		return fmt.Errorf("%w: metadata total size %d exceeds %d", ErrMalformedPayload, total, MaxMetadataEncodedSize)
	}
	return nil
}
