package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const defaultStreamID = "live/rfbview"

type srtDialResult struct {
	conn *srtgo.Conn
	err  error
}

func dialSRT(ctx context.Context, opts DialOptions) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = opts.StreamID
	if cfg.StreamID == "" {
		cfg.StreamID = defaultStreamID
	}

	ch := make(chan srtDialResult, 1)
	go func() {
		conn, err := srtgo.Dial(opts.Address, cfg)
		ch <- srtDialResult{conn, err}
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		go closeLateSRT(ch)
		return nil, fmt.Errorf("SRT dial timed out after %s", opts.Timeout)
	case <-ctx.Done():
		go closeLateSRT(ch)
		return nil, ctx.Err()
	}
}

// closeLateSRT closes a connection that completes after the dial gave up.
func closeLateSRT(ch <-chan srtDialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

type srtListener struct {
	log    *slog.Logger
	accept func() (*srtgo.Conn, error)
	close  func()
	addr   string
}

func listenSRT(opts ListenOptions, log *slog.Logger) (*srtListener, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(opts.Address, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", opts.Address, err)
	}
	log.Info("listening", "addr", opts.Address)
	return &srtListener{
		log:    log,
		accept: l.Accept,
		close:  func() { l.Close() },
		addr:   opts.Address,
	}, nil
}

func (s *srtListener) Accept(ctx context.Context) (io.WriteCloser, string, error) {
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	conn, err := s.accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", err
	}
	s.log.Info("viewer connected", "stream_id", conn.StreamID(), "remote", conn.RemoteAddr())
	return &messageWriter{w: conn, max: srtPayloadSize}, conn.RemoteAddr().String(), nil
}

func (s *srtListener) Addr() string { return s.addr }

func (s *srtListener) Close() error {
	s.close()
	return nil
}

// messageWriter splits writes into live-mode sized messages.
type messageWriter struct {
	w   io.WriteCloser
	max int
}

func (m *messageWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		n := min(len(p), m.max)
		k, err := m.w.Write(p[:n])
		written += k
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func (m *messageWriter) Close() error { return m.w.Close() }
