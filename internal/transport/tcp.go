package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
)

func dialTCP(ctx context.Context, opts DialOptions) (io.ReadCloser, error) {
	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("TCP dial failed: %w", err)
	}
	return conn, nil
}

type tcpListener struct {
	log *slog.Logger
	l   net.Listener
}

func listenTCP(opts ListenOptions, log *slog.Logger) (*tcpListener, error) {
	l, err := net.Listen("tcp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("TCP listen on %s: %w", opts.Address, err)
	}
	log.Info("listening", "addr", l.Addr().String())
	return &tcpListener{log: log, l: l}, nil
}

func (t *tcpListener) Accept(ctx context.Context) (io.WriteCloser, string, error) {
	stop := context.AfterFunc(ctx, func() { t.l.Close() })
	defer stop()

	conn, err := t.l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", err
	}
	return conn, conn.RemoteAddr().String(), nil
}

func (t *tcpListener) Addr() string { return t.l.Addr().String() }

func (t *tcpListener) Close() error { return t.l.Close() }
