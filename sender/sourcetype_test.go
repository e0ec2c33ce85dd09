package sender

import "testing"

func TestDetectSourceType(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"pdf magic", []byte("%PDF-1.4\n..."), "pdf"},
		{"plain text", []byte("Hello, World!\n"), "txt"},
		{"binary", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, "unknown"},
		{"empty", nil, "txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectSourceType(tc.in); got != tc.want {
				t.Errorf("DetectSourceType(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
