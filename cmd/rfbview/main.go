package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rfbview/internal/config"
	"github.com/zsiec/rfbview/internal/decoder"
	"github.com/zsiec/rfbview/internal/display"
	"github.com/zsiec/rfbview/internal/encoding"
	"github.com/zsiec/rfbview/internal/hwdecode"
	"github.com/zsiec/rfbview/internal/session"
	"github.com/zsiec/rfbview/internal/surface"
	"github.com/zsiec/rfbview/internal/surface/sdlview"
	"github.com/zsiec/rfbview/internal/surface/termview"
	"github.com/zsiec/rfbview/internal/transport"
)

var version = "dev"

// presenter is a visible surface's event loop. It runs on the main thread.
type presenter interface {
	Run(ctx context.Context) error
	Size() (int, int)
	Close()
}

func main() {
	// SDL requires every call to come from the main thread.
	runtime.LockOSThread()

	configPath := flag.String("config", "", "path to a YAML config file")
	server := flag.String("server", "", "server URL: tcp://, srt:// or quic:// host:port")
	surfaceKind := flag.String("surface", "", "visible surface: sdl, term or none")
	snapshot := flag.String("snapshot", "", "write the final framebuffer to this PNG file")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setenv("RFBVIEW_SERVER", *server)
	setenv("RFBVIEW_SURFACE", *surfaceKind)
	setenv("RFBVIEW_SNAPSHOT", *snapshot)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, closeLog, err := logOutput(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level()})))

	if err := run(cfg); err != nil {
		slog.Error("rfbview failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	scheme, addr, err := transport.ParseURL(cfg.Server.URL)
	if err != nil {
		return err
	}
	pref, err := decoder.ParseHWPreference(cfg.Decoder.Hardware)
	if err != nil {
		return err
	}
	if err := hwdecode.Load(cfg.Decoder.Library); err != nil {
		return fmt.Errorf("loading h264 decoder: %w", err)
	}

	slog.Info("rfbview starting",
		"version", version,
		"server", cfg.Server.URL,
		"surface", cfg.Display.Surface,
		"hw", pref.String(),
	)
	slog.Debug("advertised encodings", "encodings", fmt.Sprint(encoding.Preferred(6, 2)))

	scaler := newAutoscaler(cfg.Display)
	canvas := surface.NewCanvas(0, 0)
	var (
		target display.Surface = canvas
		view   presenter
	)
	switch cfg.Display.Surface {
	case config.SurfaceSDL:
		w, h := cfg.Display.ViewportWidth, cfg.Display.ViewportHeight
		v, err := sdlview.New(canvas, sdlview.Options{
			Title:    cfg.Display.Title,
			Width:    w,
			Height:   h,
			OnResize: scaler.containerResized,
		}, slog.Default())
		if err != nil {
			return err
		}
		view = v
	case config.SurfaceTerm:
		v, err := termview.New(canvas, termview.Options{OnResize: scaler.containerResized}, slog.Default())
		if err != nil {
			return err
		}
		view = v
	default:
		target = display.NewImageSurface(0, 0)
	}
	if view != nil {
		defer view.Close()
		scaler.containerResized(view.Size())
	}

	disp, err := display.New(target, slog.Default())
	if err != nil {
		return err
	}
	disp.SetClipViewport(cfg.Display.Clip)
	scaler.disp = disp

	factory := hwdecode.NewFactory(hwdecode.Options{
		LibPath:   cfg.Decoder.Library,
		Threads:   cfg.Decoder.Threads,
		QueueSize: cfg.Decoder.QueueSize,
	}, slog.Default())
	adapter, err := decoder.New(factory, disp, decoder.Options{
		LowLatency:   cfg.Decoder.LowLatency,
		HWPreference: pref,
		FlipFrames:   true,
	}, slog.Default())
	if err != nil {
		return err
	}
	defer adapter.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src, err := transport.Dial(gctx, transport.DialOptions{
			Scheme:      scheme,
			Address:     addr,
			StreamID:    cfg.Server.StreamID,
			Fingerprint: cfg.Server.Fingerprint,
			Timeout:     cfg.DialTimeout(),
		}, slog.Default())
		if err != nil {
			return err
		}
		defer src.Close()
		s := session.New(src, cfg.Server.URL, adapter, disp, slog.Default())
		err = s.Run(gctx)
		if view == nil {
			// Nothing left to show once a headless session ends.
			cancel()
		}
		return err
	})
	g.Go(func() error {
		scaler.run(gctx)
		return nil
	})

	var viewErr error
	if view != nil {
		viewErr = view.Run(gctx)
		cancel()
	}
	err = g.Wait()

	if cfg.Snapshot != "" {
		if serr := writeSnapshot(cfg.Snapshot, disp); serr != nil {
			slog.Error("snapshot failed", "error", serr)
		} else {
			slog.Info("snapshot written", "path", cfg.Snapshot, "width", disp.Width(), "height", disp.Height())
		}
	}

	if errors.Is(viewErr, surface.ErrClosed) {
		viewErr = nil
	}
	return errors.Join(err, viewErr)
}

func writeSnapshot(path string, disp *display.Display) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, disp.Snapshot()); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}

// logOutput keeps logs off the terminal when the terminal is the surface.
func logOutput(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Display.Surface != config.SurfaceTerm {
		return os.Stderr, func() {}, nil
	}
	path := filepath.Join(os.TempDir(), "rfbview.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func setenv(key, value string) {
	if value != "" {
		os.Setenv(key, value)
	}
}
