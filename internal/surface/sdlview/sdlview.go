//go:build !nosdl

// Package sdlview presents a surface.Canvas in an SDL2 window.
//
// SDL must be driven from the main OS thread: callers lock it with
// runtime.LockOSThread in main and call Run from there.
package sdlview

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/zsiec/rfbview/internal/surface"
)

// Available reports whether this build includes SDL support.
const Available = true

const pollInterval = time.Second / 120

// Options configures the window.
type Options struct {
	Title  string
	Width  int
	Height int
	// OnResize is called with the new window size after the user resizes
	// the window. It runs on the main thread.
	OnResize func(width, height int)
}

// View owns the SDL window, renderer and streaming texture.
type View struct {
	log    *slog.Logger
	opts   Options
	canvas *surface.Canvas

	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	texSize  image.Point
}

// New initialises SDL and opens a resizable window presenting canvas.
func New(canvas *surface.Canvas, opts Options, log *slog.Logger) (*View, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}
	sdl.SetHint(sdl.HINT_RENDER_SCALE_QUALITY, "1")

	window, err := sdl.CreateWindow(opts.Title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(opts.Width), int32(opts.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("creating window: %w", err)
	}

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		log.Warn("accelerated renderer unavailable, using software", "error", err)
		renderer, err = sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE)
		if err != nil {
			window.Destroy()
			sdl.Quit()
			return nil, fmt.Errorf("creating renderer: %w", err)
		}
	}

	log = log.With("component", "sdlview")
	if driver, err := sdl.GetCurrentVideoDriver(); err == nil {
		log.Info("window opened", "driver", driver, "width", opts.Width, "height", opts.Height)
	}
	return &View{
		log:      log,
		opts:     opts,
		canvas:   canvas,
		window:   window,
		renderer: renderer,
	}, nil
}

// Size returns the window's current size.
func (v *View) Size() (int, int) {
	w, h := v.window.GetSize()
	return int(w), int(h)
}

// Run presents the canvas until ctx is done or the window is closed, in
// which case it returns surface.ErrClosed.
func (v *View) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	redraw := true
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				return surface.ErrClosed
			case *sdl.KeyboardEvent:
				if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
					return surface.ErrClosed
				}
			case *sdl.WindowEvent:
				if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
					if v.opts.OnResize != nil {
						v.opts.OnResize(int(e.Data1), int(e.Data2))
					}
					redraw = true
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-v.canvas.Dirty():
			redraw = true
		case <-ticker.C:
		}

		if redraw {
			if err := v.present(); err != nil {
				return err
			}
			redraw = false
		}
	}
}

func (v *View) present() error {
	img, out := v.canvas.Frame()
	size := img.Bounds().Size()

	if err := v.renderer.SetDrawColor(0, 0, 0, 255); err != nil {
		return fmt.Errorf("set draw color: %w", err)
	}
	if err := v.renderer.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if size.X > 0 && size.Y > 0 {
		if err := v.upload(img); err != nil {
			return err
		}
		ww, wh := v.Size()
		dr := surface.Place(out, image.Rect(0, 0, ww, wh))
		dst := sdl.Rect{X: int32(dr.Min.X), Y: int32(dr.Min.Y), W: int32(dr.Dx()), H: int32(dr.Dy())}
		if err := v.renderer.Copy(v.texture, nil, &dst); err != nil {
			return fmt.Errorf("copy texture: %w", err)
		}
	}
	v.renderer.Present()
	return nil
}

// upload copies img into the streaming texture, recreating it when the
// canvas size changed.
func (v *View) upload(img *image.RGBA) error {
	size := img.Bounds().Size()
	if v.texture == nil || v.texSize != size {
		if v.texture != nil {
			v.texture.Destroy()
		}
		tex, err := v.renderer.CreateTexture(uint32(sdl.PIXELFORMAT_RGBA32), sdl.TEXTUREACCESS_STREAMING,
			int32(size.X), int32(size.Y))
		if err != nil {
			v.texture = nil
			return fmt.Errorf("creating texture: %w", err)
		}
		v.texture, v.texSize = tex, size
		v.log.Debug("texture created", "width", size.X, "height", size.Y)
	}

	pixels, pitch, err := v.texture.Lock(nil)
	if err != nil {
		return fmt.Errorf("locking texture: %w", err)
	}
	defer v.texture.Unlock()

	row := size.X * 4
	for y := 0; y < size.Y; y++ {
		copy(pixels[y*pitch:y*pitch+row], img.Pix[y*img.Stride:y*img.Stride+row])
	}
	return nil
}

// Close releases SDL resources.
func (v *View) Close() {
	if v.texture != nil {
		v.texture.Destroy()
	}
	v.renderer.Destroy()
	v.window.Destroy()
	sdl.Quit()
}
