// Package termview presents a surface.Canvas in a terminal. Each cell
// shows two vertically stacked pixels using the upper half block with
// the top pixel as foreground and the bottom pixel as background.
package termview

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/zsiec/rfbview/internal/surface"
)

const (
	halfBlock   = '▀'
	minInterval = time.Second / 30
)

// Options configures the terminal view.
type Options struct {
	// OnResize is called with the new pixel size (columns, rows*2) after
	// the terminal is resized.
	OnResize func(width, height int)
}

// View draws a canvas onto a tcell screen.
type View struct {
	log    *slog.Logger
	screen tcell.Screen
	canvas *surface.Canvas
	opts   Options
}

// New initialises the terminal and takes it over until Close.
func New(canvas *surface.Canvas, opts Options, log *slog.Logger) (*View, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("creating screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("initialising screen: %w", err)
	}
	return newView(screen, canvas, opts, log), nil
}

func newView(screen tcell.Screen, canvas *surface.Canvas, opts Options, log *slog.Logger) *View {
	if log == nil {
		log = slog.Default()
	}
	return &View{
		log:    log.With("component", "termview"),
		screen: screen,
		canvas: canvas,
		opts:   opts,
	}
}

// Size returns the terminal size in half-block pixels.
func (v *View) Size() (int, int) {
	cols, rows := v.screen.Size()
	return cols, rows * 2
}

// Run draws the canvas whenever it changes until ctx is done or the user
// presses Escape or Ctrl-C, in which case it returns surface.ErrClosed.
func (v *View) Run(ctx context.Context) error {
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	throttle := time.NewTicker(minInterval)
	defer throttle.Stop()

	v.draw()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return surface.ErrClosed
			}
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
					return surface.ErrClosed
				}
			case *tcell.EventResize:
				v.screen.Sync()
				if v.opts.OnResize != nil {
					v.opts.OnResize(v.Size())
				}
				dirty = true
			}
		case <-v.canvas.Dirty():
			dirty = true
		case <-throttle.C:
			if dirty {
				v.draw()
				dirty = false
			}
		}
	}
}

func (v *View) draw() {
	img, out := v.canvas.Frame()
	cols, rows := v.screen.Size()
	v.screen.Clear()
	Render(img, out, cols, rows, v.screen.SetContent)
	v.screen.Show()
}

// Close restores the terminal.
func (v *View) Close() {
	v.screen.Fini()
}

// SetFunc matches tcell.Screen.SetContent.
type SetFunc func(x, y int, mainc rune, combc []rune, style tcell.Style)

// Render samples img into a cols x rows grid of half-block cells. The
// output size is placed inside the grid's pixel area (cols x rows*2) and
// sampled nearest-neighbour. Cells outside the placed image are left
// untouched.
func Render(img *image.RGBA, out image.Point, cols, rows int, set SetFunc) image.Rectangle {
	src := img.Bounds()
	if src.Empty() || cols <= 0 || rows <= 0 {
		return image.Rectangle{}
	}
	dst := surface.Place(out, image.Rect(0, 0, cols, rows*2))
	if dst.Empty() {
		return dst
	}
	// Keep cell alignment: a placed image always starts on a top half.
	if dst.Min.Y%2 == 1 {
		dst = dst.Sub(image.Pt(0, 1))
	}

	for py := dst.Min.Y; py < dst.Max.Y; py += 2 {
		for px := dst.Min.X; px < dst.Max.X; px++ {
			top := Sample(img, dst, px, py)
			bottom := color.RGBA{}
			if py+1 < dst.Max.Y {
				bottom = Sample(img, dst, px, py+1)
			}
			style := tcell.StyleDefault.
				Foreground(rgb(top)).
				Background(rgb(bottom))
			set(px, py/2, halfBlock, nil, style)
		}
	}
	return dst
}

// Sample returns the pixel of img that output pixel (x, y) maps to when
// img is stretched over dst.
func Sample(img *image.RGBA, dst image.Rectangle, x, y int) color.RGBA {
	src := img.Bounds()
	sx := src.Min.X + (x-dst.Min.X)*src.Dx()/dst.Dx()
	sy := src.Min.Y + (y-dst.Min.Y)*src.Dy()/dst.Dy()
	return img.RGBAAt(sx, sy)
}

func rgb(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}
