// Package framer turns a byte-oriented duplex stream into a sequence of
// discrete JSON values and back.
//
// Messages are newline-delimited: each value is serialized on a single line
// and terminated by '\n'. The stream may use any text encoding known to
// golang.org/x/text; values are transcoded to and from UTF-8 at the edge so
// the JSON layer only ever sees UTF-8.
//
// A line that does not hold exactly one JSON value produces a *FrameError.
// The decoder stays usable afterwards, so one corrupt message does not lose
// the ones that follow it.
package framer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrFraming classifies every decode failure caused by malformed input.
var ErrFraming = errors.New("framing error")

// readBufferSize is the initial buffer for the line reader. Lines longer
// than this still decode; the reader grows as needed.
const readBufferSize = 64 * 1024

// FrameError reports a line that could not be decoded as a JSON value.
type FrameError struct {
	// Index is the 1-based position of the offending message in the stream.
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("framing error at message %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFraming) hold for every FrameError.
func (e *FrameError) Is(target error) bool {
	return target == ErrFraming
}

// LookupEncoding resolves a WHATWG encoding label ("utf-8", "utf-16le",
// "iso-8859-1", ...). The empty string means UTF-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	return enc, nil
}

// passthrough reports whether bytes can be used without transcoding.
func passthrough(enc encoding.Encoding) bool {
	return enc == nil || enc == unicode.UTF8 || enc == encoding.Nop
}

// Decoder reads newline-delimited JSON values from a stream.
// A Decoder is bound to one stream and must not be shared between goroutines.
type Decoder struct {
	r     *bufio.Reader
	count int
}

// NewDecoder returns a decoder reading from r in the given text encoding.
// A nil encoding means UTF-8.
func NewDecoder(r io.Reader, enc encoding.Encoding) *Decoder {
	if !passthrough(enc) {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	return &Decoder{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Next returns the next JSON value in the stream.
//
// It returns io.EOF once the stream ends cleanly, the underlying read error
// if the transport fails, and a *FrameError for a line that is not valid
// JSON. After a *FrameError the caller may keep calling Next.
//
// Blank lines are skipped. A final line without a trailing newline is still
// decoded before io.EOF is reported.
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		d.count++
		var probe json.RawMessage
		if uerr := json.Unmarshal(line, &probe); uerr != nil {
			return nil, &FrameError{Index: d.count, Err: uerr}
		}
		return probe, nil
	}
}

// Encoder writes JSON values to a stream, one per line.
// Encode is safe for concurrent use; each value is written with a single
// Write call so concurrent values never interleave.
type Encoder struct {
	mu  sync.Mutex
	w   io.Writer
	enc encoding.Encoding
}

// NewEncoder returns an encoder writing to w in the given text encoding.
// A nil encoding means UTF-8.
func NewEncoder(w io.Writer, enc encoding.Encoding) *Encoder {
	return &Encoder{w: w, enc: enc}
}

// Encode serializes v as one line and writes it.
func (e *Encoder) Encode(v any) error {
	var buf bytes.Buffer
	je := json.NewEncoder(&buf)
	je.SetEscapeHTML(false)
	if err := je.Encode(v); err != nil {
		return fmt.Errorf("framer: marshal: %w", err)
	}

	data := buf.Bytes()
	if !passthrough(e.enc) {
		var err error
		data, err = e.enc.NewEncoder().Bytes(data)
		if err != nil {
			return fmt.Errorf("framer: transcode: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("framer: write: %w", err)
	}
	return nil
}
