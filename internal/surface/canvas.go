// Package surface holds the pieces shared by the visible surfaces: a
// CPU-side canvas that the compositor blits into and a presenter loop
// reads from.
package surface

import (
	"errors"
	"image"
	"math"
	"sync"

	"github.com/zsiec/rfbview/internal/display"
)

// ErrClosed is returned by a presenter loop when the user closed it.
var ErrClosed = errors.New("surface: closed by user")

// Canvas is a display.Surface that remembers its pixels in memory and
// signals a presenter whenever they change. Signals coalesce: a presenter
// that falls behind sees one pending notification, not one per blit.
type Canvas struct {
	*display.ImageSurface

	dirty chan struct{}

	mu     sync.Mutex
	output image.Point
}

// NewCanvas creates a canvas of the given size at scale 1.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		ImageSurface: display.NewImageSurface(width, height),
		dirty:        make(chan struct{}, 1),
		output:       image.Pt(width, height),
	}
}

// Dirty returns a channel that receives after the canvas changed.
func (c *Canvas) Dirty() <-chan struct{} { return c.dirty }

// SetSize implements display.Surface.
func (c *Canvas) SetSize(width, height int) {
	c.ImageSurface.SetSize(width, height)
	c.mu.Lock()
	f := c.ImageSurface.Scale()
	c.output = scaled(width, height, f)
	c.mu.Unlock()
	c.mark()
}

// Blit implements display.Surface.
func (c *Canvas) Blit(src image.Image, sr image.Rectangle, dp image.Point) {
	c.ImageSurface.Blit(src, sr, dp)
	c.mark()
}

// SetScale implements display.Scaler. width and height are the on-screen
// size the presenter should stretch the canvas to.
func (c *Canvas) SetScale(factor float64, width, height int) {
	c.ImageSurface.SetScale(factor, width, height)
	c.mu.Lock()
	c.output = image.Pt(width, height)
	c.mu.Unlock()
	c.mark()
}

// OutputSize returns the on-screen size of the canvas after scaling.
func (c *Canvas) OutputSize() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Frame returns a copy of the current pixels together with the output size.
func (c *Canvas) Frame() (*image.RGBA, image.Point) {
	return c.ImageSurface.Image(), c.OutputSize()
}

func (c *Canvas) mark() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func scaled(width, height int, factor float64) image.Point {
	if factor <= 0 {
		return image.Point{}
	}
	return image.Pt(int(math.Round(float64(width)*factor)), int(math.Round(float64(height)*factor)))
}

// Fit returns the largest rectangle with the aspect ratio of size that
// fits in bounds, centred. It returns an empty rectangle when either side
// has no area.
func Fit(size image.Point, bounds image.Rectangle) image.Rectangle {
	bw, bh := bounds.Dx(), bounds.Dy()
	if size.X <= 0 || size.Y <= 0 || bw <= 0 || bh <= 0 {
		return image.Rectangle{}
	}
	w, h := bw, bw*size.Y/size.X
	if h > bh {
		w, h = bh*size.X/size.Y, bh
	}
	off := image.Pt(bounds.Min.X+(bw-w)/2, bounds.Min.Y+(bh-h)/2)
	return image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}
}

// Place positions an output of the given size inside a window. Outputs
// that fit are centred at their own size; larger ones are shrunk with Fit.
func Place(out image.Point, window image.Rectangle) image.Rectangle {
	if out.X <= window.Dx() && out.Y <= window.Dy() {
		if out.X <= 0 || out.Y <= 0 {
			return image.Rectangle{}
		}
		off := image.Pt(window.Min.X+(window.Dx()-out.X)/2, window.Min.Y+(window.Dy()-out.Y)/2)
		return image.Rectangle{Min: off, Max: off.Add(out)}
	}
	return Fit(out, window)
}
