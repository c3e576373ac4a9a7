package agent

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// maxLineBytes caps a buffered partial line; longer runs are emitted as a
// record of their own.
const maxLineBytes = 1 << 20

// SyncWriter serialises writes from concurrent workers so each record lands
// in one piece.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

// Write implements io.Writer.
func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// WriteRecord writes tag followed by line as a single write.
func (s *SyncWriter) WriteRecord(tag string, line []byte) error {
	buf := make([]byte, 0, len(tag)+len(line))
	buf = append(buf, tag...)
	buf = append(buf, line...)
	_, err := s.Write(buf)
	return err
}

// chanWriter copies each write into a bounded channel. A full channel
// blocks the writer, which in turn blocks the process's pipe.
type chanWriter chan<- []byte

func (c chanWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	c <- chunk
	return len(p), nil
}

// lineWriter splits a byte stream into newline-terminated records and
// writes each with its tag prepended. The raw copy receives exactly the
// bytes the process wrote. In the tagged sink, a fragment that does not end
// in a newline (an oversized partial line, or the last line at exit) is
// closed with one so the next record from another worker starts on its own
// line.
type lineWriter struct {
	tag    string
	sink   *SyncWriter
	raw    *SyncWriter
	onLine func(string)
	buf    []byte
}

func newLineWriter(tag string, sink, raw *SyncWriter, onLine func(string)) *lineWriter {
	return &lineWriter{tag: tag, sink: sink, raw: raw, onLine: onLine}
}

func (l *lineWriter) write(chunk []byte) {
	l.buf = append(l.buf, chunk...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i+1])
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) >= maxLineBytes {
		l.flush()
	}
	if len(l.buf) == 0 {
		l.buf = nil
	}
}

func (l *lineWriter) flush() {
	if len(l.buf) == 0 {
		return
	}
	fragment := l.buf
	l.buf = nil
	l.emit(fragment)
}

func (l *lineWriter) emit(line []byte) {
	if l.raw != nil {
		_, _ = l.raw.Write(line)
	}
	record := line
	if !bytes.HasSuffix(line, []byte{'\n'}) {
		record = make([]byte, len(line)+1)
		copy(record, line)
		record[len(line)] = '\n'
	}
	_ = l.sink.WriteRecord(l.tag, record)
	if l.onLine != nil {
		l.onLine(strings.TrimRight(string(line), "\r\n"))
	}
}

// consume is the single reader of one stream channel.
func consume(ch <-chan []byte, lw *lineWriter) {
	for chunk := range ch {
		lw.write(chunk)
	}
	lw.flush()
}

// tailBuffer keeps the last n lines it was given.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	ring []string
	next int
	full bool
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{max: n, ring: make([]string, n)}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = line
	t.next = (t.next + 1) % t.max
	if t.next == 0 {
		t.full = true
	}
}

func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.ring[:t.next]...)
	}
	out := make([]string, 0, t.max)
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}

// resultTracker remembers the last stream-json "result" event seen on
// stdout. Lines that are not JSON are ignored.
type resultTracker struct {
	mu      sync.Mutex
	summary string
}

type streamResult struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

func (r *resultTracker) observe(line string) {
	if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"result"`) {
		return
	}
	var ev streamResult
	if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type != "result" {
		return
	}
	text := strings.TrimSpace(ev.Result)
	if ev.IsError && text != "" {
		text = "error: " + text
	}
	r.mu.Lock()
	r.summary = text
	r.mu.Unlock()
}

func (r *resultTracker) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}
