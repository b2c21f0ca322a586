package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/rfbview/internal/certs"
)

// TLSProvider supplies the server certificate for QUIC listeners.
// *certs.CertInfo implements it.
type TLSProvider interface {
	ServerConfig() *tls.Config
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// quicStream reads the server's unidirectional stream and owns the
// connection it arrived on.
type quicStream struct {
	quic.ReceiveStream
	conn quic.Connection
}

func (q *quicStream) Close() error {
	q.CancelRead(0)
	return q.conn.CloseWithError(0, "viewer closed")
}

func dialQUIC(ctx context.Context, opts DialOptions) (io.ReadCloser, error) {
	if opts.Fingerprint == "" {
		return nil, ErrNoFingerprint
	}
	fp, err := certs.ParseFingerprint(opts.Fingerprint)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, opts.Address, certs.PinnedClientConfig(fp), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC dial failed: %w", err)
	}
	str, err := conn.AcceptUniStream(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("QUIC accept stream: %w", err)
	}
	return &quicStream{ReceiveStream: str, conn: conn}, nil
}

type quicListener struct {
	log *slog.Logger
	l   *quic.Listener
}

func listenQUIC(opts ListenOptions, tlsConf TLSProvider, log *slog.Logger) (*quicListener, error) {
	l, err := quic.ListenAddr(opts.Address, tlsConf.ServerConfig(), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC listen on %s: %w", opts.Address, err)
	}
	log.Info("listening", "addr", l.Addr().String())
	return &quicListener{log: log, l: l}, nil
}

// quicSender writes to a unidirectional stream and owns its connection.
type quicSender struct {
	quic.SendStream
	conn quic.Connection
}

func (q *quicSender) Close() error {
	q.SendStream.Close()
	return q.conn.CloseWithError(0, "server closed")
}

func (q *quicListener) Accept(ctx context.Context) (io.WriteCloser, string, error) {
	conn, err := q.l.Accept(ctx)
	if err != nil {
		return nil, "", err
	}
	str, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, "", fmt.Errorf("QUIC open stream: %w", err)
	}
	return &quicSender{SendStream: str, conn: conn}, conn.RemoteAddr().String(), nil
}

func (q *quicListener) Addr() string { return q.l.Addr().String() }

func (q *quicListener) Close() error { return q.l.Close() }
