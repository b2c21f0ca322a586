// Package session runs one viewing session: it reads length-prefixed
// video chunks from a transport, feeds them to the decoder adapter and
// commits each consumed chunk to the display with a flip.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rfbview/internal/decoder"
	"github.com/zsiec/rfbview/internal/display"
	"github.com/zsiec/rfbview/internal/encoding"
	"github.com/zsiec/rfbview/internal/rfbio"
)

const (
	readBufferSize = 64 * 1024
	readBacklog    = 32
	statsInterval  = 10 * time.Second
	flushTimeout   = 2 * time.Second
)

// Decoder is the part of decoder.Adapter the session drives.
type Decoder interface {
	DecodeChunk(r decoder.Reader) bool
	Reset()
	Stats() decoder.Stats
}

// Presenter is the part of display.Display the session drives.
type Presenter interface {
	PushFlip()
	FlushContext(ctx context.Context) error
	Stats() display.Stats
}

// Stats is a point-in-time snapshot of the whole session.
type Stats struct {
	ID       string        `json:"id"`
	Source   string        `json:"source,omitempty"`
	Encoding string        `json:"encoding"`
	UptimeMs int64         `json:"uptimeMs"`
	Commits  int64         `json:"commits"`
	Receive  rfbio.Stats   `json:"receive"`
	Decoder  decoder.Stats `json:"decoder"`
	Display  display.Stats `json:"display"`
}

// Session connects a byte source to a decoder and a display.
type Session struct {
	id     string
	log    *slog.Logger
	src    io.Reader
	source string
	queue  *rfbio.Queue
	dec    Decoder
	disp   Presenter
	start  time.Time

	commits  atomic.Int64
	received atomic.Pointer[rfbio.Stats]
}

// New creates a session reading from src. source names the transport
// address for logs and stats.
func New(src io.Reader, source string, dec Decoder, disp Presenter, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.New().String()
	log = log.With("session", id)
	return &Session{
		id:     id,
		log:    log,
		src:    src,
		source: source,
		queue:  rfbio.NewQueue(log),
		dec:    dec,
		disp:   disp,
		start:  time.Now(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		ID:       s.id,
		Source:   s.source,
		Encoding: encoding.H264.String(),
		UptimeMs: time.Since(s.start).Milliseconds(),
		Commits:  s.commits.Load(),
		Decoder:  s.dec.Stats(),
		Display:  s.disp.Stats(),
	}
	if r := s.received.Load(); r != nil {
		st.Receive = *r
	}
	return st
}

// Run pumps the source until it ends or ctx is cancelled. On exit the
// decoder is reset, a final flip is queued and queued display work is
// flushed. Reaching the end of
// the source is not an error.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("session started", "source", s.source, "encoding", encoding.H264)

	g, gctx := errgroup.WithContext(ctx)
	data := make(chan []byte, readBacklog)
	g.Go(func() error {
		defer close(data)
		return s.read(gctx, data)
	})
	g.Go(func() error {
		return s.process(gctx, data)
	})
	err := g.Wait()

	// Reset waits for the decoder to finish its queued units; the flip
	// presents the frames that produced.
	s.dec.Reset()
	s.disp.PushFlip()
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if ferr := s.disp.FlushContext(fctx); ferr != nil {
		s.log.Warn("display flush incomplete", "error", ferr)
	}

	st := s.Stats()
	s.log.Info("session ended",
		"commits", st.Commits,
		"chunks", st.Decoder.Chunks,
		"frames", st.Decoder.Frames,
		"decode_errors", st.Decoder.Errors,
		"bytes", st.Receive.BytesReceived,
		"uptime_ms", st.UptimeMs,
		"error", err)
	return err
}

// read copies the source into data. Cancelling ctx closes the source when
// it is an io.Closer so a blocked Read returns.
func (s *Session) read(ctx context.Context, data chan<- []byte) error {
	if c, ok := s.src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case data <- chunk:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading %s: %w", s.source, err)
		}
	}
}

// process owns the receive queue. Every chunk the decoder consumes is
// followed by a flip so the display commits in protocol order.
func (s *Session) process(ctx context.Context, data <-chan []byte) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := s.Stats()
			s.log.Debug("session stats",
				"commits", st.Commits,
				"frames", st.Decoder.Frames,
				"buffered", st.Receive.Buffered,
				"display_pending", st.Display.Pending,
				"max_queue_depth", st.Display.MaxQueueDepth)
		case b, ok := <-data:
			if !ok {
				if n := s.queue.Len(); n > 0 {
					s.log.Debug("source ended mid-chunk", "buffered", n)
				}
				return nil
			}
			s.queue.Push(b)
			for s.dec.DecodeChunk(s.queue) {
				s.disp.PushFlip()
				s.commits.Add(1)
			}
			rs := s.queue.Stats()
			s.received.Store(&rs)
		}
	}
}
