// Package rfbio implements the client's receive queue: a growable byte
// buffer fed from the transport and consumed by length-prefixed decoders
// that can abort a partial read and retry once more data arrives.
//
// A Queue is owned by the protocol goroutine and is not safe for
// concurrent use.
package rfbio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	defaultCapacity = 256 * 1024
	readChunkSize   = 64 * 1024
)

// Stats captures receive-side counters, exposed for diagnostics.
type Stats struct {
	BytesReceived int64 `json:"bytesReceived"`
	ReadCount     int64 `json:"readCount"`
	Starved       int64 `json:"starved"`
	Buffered      int   `json:"buffered"`
	UptimeMs      int64 `json:"uptimeMs"`
}

// Queue buffers received bytes. Reads advance an index into the buffer;
// Wait can rewind it so a decoder that finds too little data leaves the
// queue exactly as it found it.
type Queue struct {
	log   *slog.Logger
	buf   []byte
	index int
	start time.Time

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	starved       atomic.Int64
	buffered      atomic.Int64
}

// NewQueue creates an empty receive queue. If log is nil, slog.Default()
// is used.
func NewQueue(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		log:   log.With("component", "receive-queue"),
		buf:   make([]byte, 0, defaultCapacity),
		start: time.Now(),
	}
}

// Push appends received bytes to the queue.
func (q *Queue) Push(data []byte) {
	q.compact()
	q.buf = append(q.buf, data...)
	q.bytesReceived.Add(int64(len(data)))
	q.readCount.Add(1)
	q.buffered.Store(int64(q.Len()))
}

// ReadFrom performs a single read from r into the queue and returns the
// number of bytes added. It returns io.EOF once r is exhausted.
func (q *Queue) ReadFrom(r io.Reader) (int64, error) {
	q.compact()
	if cap(q.buf)-len(q.buf) < readChunkSize {
		grown := make([]byte, len(q.buf), 2*cap(q.buf)+readChunkSize)
		copy(grown, q.buf)
		q.buf = grown
	}
	n, err := r.Read(q.buf[len(q.buf) : len(q.buf)+readChunkSize])
	if n > 0 {
		q.buf = q.buf[:len(q.buf)+n]
		q.bytesReceived.Add(int64(n))
		q.readCount.Add(1)
		q.buffered.Store(int64(q.Len()))
	}
	return int64(n), err
}

// compact drops consumed bytes once they make up more than half of the
// buffer.
func (q *Queue) compact() {
	if q.index == 0 || q.index < len(q.buf)/2 {
		return
	}
	n := copy(q.buf, q.buf[q.index:])
	q.buf = q.buf[:n]
	q.index = 0
}

// Len returns the number of unread bytes.
func (q *Queue) Len() int {
	return len(q.buf) - q.index
}

// Wait reports whether fewer than n bytes are available. When it returns
// true the read index is first moved back by goback bytes, undoing a
// header the caller already consumed, so the caller can abort and retry
// the same read later. label names the caller in debug logs.
func (q *Queue) Wait(label string, n, goback int) bool {
	if q.Len() >= n {
		return false
	}
	if goback > 0 {
		if goback > q.index {
			panic("rfbio: Wait rewound past the start of the queue")
		}
		q.index -= goback
	}
	q.starved.Add(1)
	q.log.Debug("waiting for data", "label", label, "need", n, "have", q.Len()+goback)
	return true
}

// ReadU8 consumes one byte.
func (q *Queue) ReadU8() uint8 {
	v := q.buf[q.index]
	q.index++
	return v
}

// ReadU16 consumes a big-endian uint16.
func (q *Queue) ReadU16() uint16 {
	v := binary.BigEndian.Uint16(q.buf[q.index:])
	q.index += 2
	return v
}

// ReadU32 consumes a big-endian uint32.
func (q *Queue) ReadU32() uint32 {
	v := binary.BigEndian.Uint32(q.buf[q.index:])
	q.index += 4
	return v
}

// ReadBytes consumes n bytes and returns them as a copy that stays valid
// after further pushes.
func (q *Queue) ReadBytes(n int) []byte {
	out := make([]byte, n)
	copy(out, q.buf[q.index:q.index+n])
	q.index += n
	q.buffered.Store(int64(q.Len()))
	return out
}

// Skip discards n bytes.
func (q *Queue) Skip(n int) {
	q.index += n
	q.buffered.Store(int64(q.Len()))
}

// Peek returns the next n unread bytes without consuming them. The slice
// aliases the queue's storage.
func (q *Queue) Peek(n int) []byte {
	return q.buf[q.index : q.index+n]
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	return Stats{
		BytesReceived: q.bytesReceived.Load(),
		ReadCount:     q.readCount.Load(),
		Starved:       q.starved.Load(),
		Buffered:      int(q.buffered.Load()),
		UptimeMs:      time.Since(q.start).Milliseconds(),
	}
}
