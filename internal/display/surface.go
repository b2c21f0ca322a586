package display

import (
	"image"
	"image/draw"
	"sync"
)

// Surface is the visible drawing target. The compositor renders into its
// own backing buffer and copies damaged regions here on flip.
type Surface interface {
	// Size returns the surface's pixel dimensions.
	Size() (width, height int)
	// SetSize changes the surface's pixel dimensions to the viewport size.
	SetSize(width, height int)
	// Blit copies the sr rectangle of src to dp on the surface.
	Blit(src image.Image, sr image.Rectangle, dp image.Point)
}

// Scaler is implemented by surfaces that can present their pixels at a
// different on-screen size. width and height are the scaled dimensions.
type Scaler interface {
	SetScale(factor float64, width, height int)
}

// ImageSurface is an in-memory Surface backed by an RGBA image. It is the
// headless target and the basis for snapshots.
type ImageSurface struct {
	mu    sync.Mutex
	img   *image.RGBA
	scale float64
	blits int
	last  image.Rectangle
}

// NewImageSurface creates an in-memory surface of the given size.
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{
		img:   image.NewRGBA(image.Rect(0, 0, width, height)),
		scale: 1,
	}
}

// Size implements Surface.
func (s *ImageSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// SetSize implements Surface. Like a canvas, resizing clears the pixels.
func (s *ImageSurface) SetSize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Blit implements Surface.
func (s *ImageSurface) Blit(src image.Image, sr image.Rectangle, dp image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dr := image.Rectangle{Min: dp, Max: dp.Add(sr.Size())}
	draw.Draw(s.img, dr, src, sr.Min, draw.Src)
	s.blits++
	s.last = dr
}

// SetScale implements Scaler. The in-memory surface only records it.
func (s *ImageSurface) SetScale(factor float64, _, _ int) {
	s.mu.Lock()
	s.scale = factor
	s.mu.Unlock()
}

// Scale returns the last scale factor applied.
func (s *ImageSurface) Scale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// Image returns a copy of the surface's current pixels.
func (s *ImageSurface) Image() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRGBA(s.img)
}

// Blits returns how many blits the surface has received and the
// destination rectangle of the most recent one.
func (s *ImageSurface) Blits() (int, image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blits, s.last
}

// ResetBlits clears the blit counters.
func (s *ImageSurface) ResetBlits() {
	s.mu.Lock()
	s.blits = 0
	s.last = image.Rectangle{}
	s.mu.Unlock()
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// copyImage copies the top-left w x h pixels of src into a new RGBA image
// anchored at the origin.
func copyImage(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
