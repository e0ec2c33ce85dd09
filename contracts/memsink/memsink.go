// Package memsink provides a reference contracts.StorageSink that writes
// accepted transfers beneath a configured output directory, used by tests
// and the cmd/p2pconvert demo in place of a production storage backend.
package memsink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPathTraversal is returned when sanitize rejects a filename: empty,
// absolute, containing a ".." component, or containing a deny-listed
// character (§4.4).
var ErrPathTraversal = errors.New("memsink: path traversal rejected")

// Sink writes files beneath Dir, sanitizing filenames and resolving name
// collisions by appending "-1", "-2", ... before the extension (§4.4).
// All writes are serialized by a single sink-wide mutex held around the
// exclusive-create-and-retry loop and the write, matching the
// teacher's "single critical section per call" discipline for shared
// resources (§5).
type Sink struct {
	Dir string

	mu sync.Mutex
}

// New returns a Sink rooted at dir, creating dir if it does not exist.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memsink: create output dir: %w", err)
	}
	return &Sink{Dir: dir}, nil
}

// Write sanitizes filename, resolves collisions, and writes data beneath
// s.Dir. It implements contracts.StorageSink.
func (s *Sink) Write(ctx context.Context, filename string, data []byte) (string, error) {
	clean, err := sanitize(filename)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, f, err := s.createWithSuffix(clean)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Write",
			"path":     path,
			"error":    err.Error(),
		}).Error("failed writing sink data")
		return "", fmt.Errorf("memsink: write: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Write",
		"path":     path,
		"bytes":    len(data),
	}).Info("wrote accepted transfer to sink")

	return path, nil
}

// createWithSuffix attempts exclusive creation of name under s.Dir,
// retrying with "-1", "-2", ... suffixes on collision (§4.4). Exclusive
// creation makes the collision check and the open atomic, avoiding a
// check-then-create race with a concurrent writer of the same name.
func (s *Sink) createWithSuffix(name string) (string, *os.File, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for attempt := 0; ; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, attempt, ext)
		}
		path := filepath.Join(s.Dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if !os.IsExist(err) {
			return "", nil, fmt.Errorf("memsink: create %q: %w", candidate, err)
		}
	}
}

// sanitize enforces §4.4's path-sanitization rule: no ".." component, no
// absolute path, no character from the filename deny-list. Grounded on
// the teacher's file.ValidatePath, generalized to also forbid absolute
// paths outright (the teacher's ToxConn-facing validator allows absolute
// paths if they clean to something traversal-free; this sink always
// writes under its own directory, so an absolute input is always wrong).
func sanitize(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: empty filename", ErrPathTraversal)
	}
	if filepath.IsAbs(filename) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, filename)
	}
	clean := filepath.Clean(filename)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, filename)
		}
	}
	if strings.ContainsAny(clean, "<>:\"|?*\x00") {
		return "", fmt.Errorf("%w: reserved character in %q", ErrPathTraversal, filename)
	}
	return clean, nil
}
