// Command chunk-serve serves an H.264 Annex B file as length-prefixed
// chunks for rfbview to connect to. Each client gets its own paced,
// looping copy of the stream.
//
// Produce a suitable file with:
//
//	ffmpeg -i in.mp4 -c:v libx264 -profile:v baseline -bf 0 -g 30 -f h264 out.h264
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rfbview/internal/certs"
	"github.com/zsiec/rfbview/internal/transport"
)

const logInterval = 10 * time.Second

func main() {
	fileFlag := flag.String("file", "", "H.264 Annex B file to serve")
	addrFlag := flag.String("addr", "tcp://127.0.0.1:5900", "listen URL: tcp://, srt:// or quic:// host:port")
	fpsFlag := flag.Float64("fps", 30, "access units per second")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	filePath := *fileFlag
	if filePath == "" && flag.NArg() > 0 {
		filePath = flag.Arg(0)
	}
	if filePath == "" || *fpsFlag <= 0 {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  chunk-serve --file clip.h264 [--addr quic://:5901] [--fps 30]\n")
		os.Exit(1)
	}

	if err := run(filePath, *addrFlag, *fpsFlag); err != nil {
		slog.Error("chunk-serve failed", "error", err)
		os.Exit(1)
	}
}

func run(filePath, addr string, fps float64) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	units, err := accessUnits(data)
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	chunks := encodeLoop(units)

	scheme, hostport, err := transport.ParseURL(addr)
	if err != nil {
		return err
	}
	var tlsConf transport.TLSProvider
	if scheme == transport.SchemeQUIC {
		cert, err := certs.Generate(14*24*time.Hour, "localhost")
		if err != nil {
			return fmt.Errorf("generating certificate: %w", err)
		}
		tlsConf = cert
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintHex(),
			"expires", cert.NotAfter.Format(time.RFC3339))
	}

	ln, err := transport.Listen(transport.ListenOptions{Scheme: scheme, Address: hostport}, tlsConf, slog.Default())
	if err != nil {
		return err
	}
	defer ln.Close()
	slog.Info("serving",
		"file", filePath,
		"access_units", len(units),
		"fps", fps,
		"scheme", string(scheme),
		"addr", ln.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var g errgroup.Group
	for {
		w, remote, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			g.Wait()
			return fmt.Errorf("accept: %w", err)
		}
		log := slog.With("remote", remote)
		log.Info("client connected")
		g.Go(func() error {
			defer w.Close()
			err := streamLoop(ctx, w, chunks, fps, log)
			log.Info("client disconnected", "error", err)
			return nil
		})
	}
	return g.Wait()
}

// streamLoop writes chunks to w at fps, looping until ctx is done or a
// write fails. Pacing follows a single clock so loop seams do not burst.
func streamLoop(ctx context.Context, w io.Writer, chunks [][]byte, fps float64, log *slog.Logger) error {
	start := time.Now()
	interval := time.Duration(float64(time.Second) / fps)
	lastLog := start
	var sent, bytesSent int64

	for loop := 1; ; loop++ {
		for _, c := range chunks {
			if _, err := w.Write(c); err != nil {
				return err
			}
			sent++
			bytesSent += int64(len(c))

			due := start.Add(time.Duration(sent) * interval)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			} else if ctx.Err() != nil {
				return nil
			}

			if time.Since(lastLog) >= logInterval {
				log.Info("streaming",
					"loop", loop,
					"chunks", sent,
					"mb", float64(bytesSent)/(1024*1024),
					"rate_fps", float64(sent)/time.Since(start).Seconds())
				lastLog = time.Now()
			}
		}
		log.Debug("loop complete", "loop", loop, "chunks", sent)
	}
}
