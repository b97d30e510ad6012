// Package source provides line-oriented input sources for the emitter.
//
// Every source yields one raw unit per non-blank line, without the line
// terminator. A source can be opened at most once; the returned reader is
// closed by the emitter exactly once.
package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/roach88/pacer/internal/emitter"
)

// MaxLineSize is the longest line a reader accepts.
const MaxLineSize = 16 * 1024 * 1024

// ErrAlreadyOpened is returned when a single-use source is opened twice.
var ErrAlreadyOpened = errors.New("source already opened")

// File reads lines from a file on disk. Files ending in ".gz" are
// transparently decompressed.
type File struct {
	path string
}

// NewFile creates a file source. The file is not touched until Open.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name returns the file path.
func (f *File) Name() string {
	return f.path
}

// Open opens the file for line reading.
func (f *File) Open() (emitter.Reader, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(f.path, ".gz") {
		return newLineReader(fh, fh), nil
	}

	gz, err := gzip.NewReader(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	return newLineReader(gz, multiCloser{gz, fh}), nil
}

// Stream reads lines from an io.Reader, such as stdin. It can be opened once.
// If the reader implements io.Closer it is closed on release.
type Stream struct {
	name   string
	r      io.Reader
	mu     sync.Mutex
	opened bool
}

// NewStream creates a single-use source over r.
func NewStream(name string, r io.Reader) *Stream {
	return &Stream{name: name, r: r}
}

// Name returns the configured name.
func (s *Stream) Name() string {
	return s.name
}

// Open returns a reader over the stream. A second call fails.
func (s *Stream) Open() (emitter.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil, ErrAlreadyOpened
	}
	s.opened = true

	var c io.Closer
	if rc, ok := s.r.(io.Closer); ok {
		c = rc
	}
	return newLineReader(s.r, c), nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lineReader yields non-blank lines. Next and Close may run on different
// goroutines: Close releases the resource underneath a blocked Next.
type lineReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

func newLineReader(r io.Reader, c io.Closer) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &lineReader{scanner: sc, closer: c}
}

// Next returns the next non-blank line, or io.EOF.
// The returned slice is owned by the caller.
func (r *lineReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimRight(r.scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *lineReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
