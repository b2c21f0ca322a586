// Package transport opens the byte stream chunks arrive on. A viewer dials
// a chunk server over TCP, SRT or QUIC and reads an ordered byte stream;
// the server side accepts viewers and writes to them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Scheme selects the transport.
type Scheme string

const (
	SchemeTCP  Scheme = "tcp"
	SchemeSRT  Scheme = "srt"
	SchemeQUIC Scheme = "quic"
)

var (
	ErrUnknownScheme = errors.New("transport: unknown scheme")
	ErrNoAddress     = errors.New("transport: address is required")
	ErrNoFingerprint = errors.New("transport: quic requires a certificate fingerprint")
)

const (
	defaultDialTimeout = 10 * time.Second

	// srtLatencyNs is the SRT receiver latency (120ms).
	srtLatencyNs = 120_000_000

	// srtPayloadSize is the largest payload written in one SRT message.
	srtPayloadSize = 1316

	// srtReadBufferSize holds several SRT messages per read.
	srtReadBufferSize = srtPayloadSize * 10
)

// ParseScheme validates a scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch sc := Scheme(strings.ToLower(s)); sc {
	case SchemeTCP, SchemeSRT, SchemeQUIC:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

// ParseURL splits "srt://host:port" into scheme and address. A bare
// host:port means TCP.
func ParseURL(raw string) (Scheme, string, error) {
	if !strings.Contains(raw, "://") {
		if raw == "" {
			return "", "", ErrNoAddress
		}
		return SchemeTCP, raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("transport: parse %q: %w", raw, err)
	}
	sc, err := ParseScheme(u.Scheme)
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", ErrNoAddress
	}
	return sc, u.Host, nil
}

// DialOptions describe the server to read from.
type DialOptions struct {
	Scheme  Scheme
	Address string
	// StreamID is sent as the SRT stream ID.
	StreamID string
	// Fingerprint pins the QUIC server certificate (hex or base64 SHA-256).
	Fingerprint string
	Timeout     time.Duration
}

// Dial connects to a chunk server and returns the byte stream.
func Dial(ctx context.Context, opts DialOptions, log *slog.Logger) (io.ReadCloser, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "transport", "scheme", string(opts.Scheme))
	if opts.Address == "" {
		return nil, ErrNoAddress
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDialTimeout
	}

	log.Info("dialing", "address", opts.Address)
	var (
		rc  io.ReadCloser
		err error
	)
	switch opts.Scheme {
	case SchemeTCP, "":
		rc, err = dialTCP(ctx, opts)
	case SchemeSRT:
		rc, err = dialSRT(ctx, opts)
	case SchemeQUIC:
		rc, err = dialQUIC(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, opts.Scheme)
	}
	if err != nil {
		return nil, err
	}
	log.Info("connected", "address", opts.Address)
	return rc, nil
}

// Listener accepts viewers on the server side.
type Listener interface {
	// Accept waits for the next viewer and returns a stream to write to
	// and the viewer's address.
	Accept(ctx context.Context) (io.WriteCloser, string, error)
	Addr() string
	Close() error
}

// ListenOptions describe a chunk server endpoint.
type ListenOptions struct {
	Scheme  Scheme
	Address string
}

// Listen opens a server endpoint. QUIC listeners need tlsConf.
func Listen(opts ListenOptions, tlsConf TLSProvider, log *slog.Logger) (Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "transport-listener", "scheme", string(opts.Scheme))
	switch opts.Scheme {
	case SchemeTCP, "":
		return listenTCP(opts, log)
	case SchemeSRT:
		return listenSRT(opts, log)
	case SchemeQUIC:
		if tlsConf == nil {
			return nil, errors.New("transport: quic listener requires a certificate")
		}
		return listenQUIC(opts, tlsConf, log)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, opts.Scheme)
}
