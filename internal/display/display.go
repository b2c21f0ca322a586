package display

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// ErrNoSurface is returned by New when no visible surface is given.
var ErrNoSurface = errors.New("display: target surface is required")

// Display is the compositor. It owns the logical framebuffer and presents
// it on a Surface through the viewport.
//
// Two locks guard it. mu protects the render queue and the pending flush
// channel and is never held while painting. paint protects the
// framebuffer, damage, viewport and surface and is held by the drain loop
// for one entry at a time and by the immediate operations.
type Display struct {
	log    *slog.Logger
	target Surface

	mu      sync.Mutex
	queue   []entry
	flushed chan struct{}

	paint     sync.Mutex
	fb        *image.RGBA
	damage    damageTracker
	vp        Viewport
	clip      bool
	scale     float64
	fillStyle *image.Uniform

	frames   atomic.Int64
	flips    atomic.Int64
	fills    atomic.Int64
	blits    atomic.Int64
	maxDepth atomic.Int64
}

// Stats is a point-in-time snapshot of compositor counters.
type Stats struct {
	Frames        int64 `json:"frames"`
	Flips         int64 `json:"flips"`
	Fills         int64 `json:"fills"`
	SurfaceBlits  int64 `json:"surfaceBlits"`
	MaxQueueDepth int64 `json:"maxQueueDepth"`
	Pending       int   `json:"pending"`
}

// New creates a compositor that presents onto target. The framebuffer
// starts empty; the first Resize gives it dimensions.
func New(target Surface, log *slog.Logger) (*Display, error) {
	if target == nil {
		return nil, ErrNoSurface
	}
	if log == nil {
		log = slog.Default()
	}
	return &Display{
		log:    log.With("component", "display"),
		target: target,
		fb:     image.NewRGBA(image.Rectangle{}),
		damage: newDamageTracker(),
		scale:  1,
	}, nil
}

// Width returns the logical framebuffer width.
func (d *Display) Width() int {
	d.paint.Lock()
	defer d.paint.Unlock()
	return d.fb.Rect.Dx()
}

// Height returns the logical framebuffer height.
func (d *Display) Height() int {
	d.paint.Lock()
	defer d.paint.Unlock()
	return d.fb.Rect.Dy()
}

// Damage returns the current damage region. After a flip it is the empty
// sentinel until something new is drawn.
func (d *Display) Damage() Region {
	d.paint.Lock()
	defer d.paint.Unlock()
	return d.damage.bounds
}

// MarkDamaged merges a framebuffer rectangle into the damage region.
func (d *Display) MarkDamaged(x, y, w, h int) {
	d.paint.Lock()
	d.damage.add(x, y, w, h)
	d.paint.Unlock()
}

// Resize replaces the framebuffer dimensions. Content that fits in the new
// size is kept. The viewport is re-clamped and the whole viewport is
// flipped to the surface before Resize returns.
func (d *Display) Resize(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}

	d.paint.Lock()
	defer d.paint.Unlock()

	d.fillStyle = nil
	if old := d.fb.Rect; old.Dx() != width || old.Dy() != height {
		fb := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(fb, old, d.fb, image.Point{}, draw.Src)
		d.fb = fb
		d.log.Debug("framebuffer resized",
			"from", old.Size().String(), "to", fb.Rect.Size().String())
	}

	w, h := d.vp.W, d.vp.H
	if w == 0 || h == 0 {
		w, h = width, height
	}
	d.changeSize(w, h)
	d.changePos(0, 0)

	d.damage.add(d.vp.X, d.vp.Y, d.vp.W, d.vp.H)
	d.flip()
}

// Snapshot returns a copy of the logical framebuffer.
func (d *Display) Snapshot() *image.RGBA {
	d.paint.Lock()
	defer d.paint.Unlock()
	return cloneRGBA(d.fb)
}

// Stats returns the compositor counters.
func (d *Display) Stats() Stats {
	d.mu.Lock()
	pending := len(d.queue)
	d.mu.Unlock()
	return Stats{
		Frames:        d.frames.Load(),
		Flips:         d.flips.Load(),
		Fills:         d.fills.Load(),
		SurfaceBlits:  d.blits.Load(),
		MaxQueueDepth: d.maxDepth.Load(),
		Pending:       pending,
	}
}

// Scale returns the current scale factor.
func (d *Display) Scale() float64 {
	d.paint.Lock()
	defer d.paint.Unlock()
	return d.scale
}

// SetScale sets the factor between viewport pixels and on-screen pixels.
// Negative factors are treated as zero.
func (d *Display) SetScale(factor float64) {
	d.paint.Lock()
	d.rescale(factor)
	d.paint.Unlock()
}

// Autoscale picks the largest factor at which the viewport fits in a
// container of the given size without changing its aspect ratio, applies
// it and returns it. A container or viewport without area gives 0.
func (d *Display) Autoscale(containerW, containerH int) float64 {
	d.paint.Lock()
	defer d.paint.Unlock()

	var factor float64
	if containerW > 0 && containerH > 0 && d.vp.W > 0 && d.vp.H > 0 {
		target := float64(containerW) / float64(containerH)
		fb := float64(d.vp.W) / float64(d.vp.H)
		if fb >= target {
			factor = float64(containerW) / float64(d.vp.W)
		} else {
			factor = float64(containerH) / float64(d.vp.H)
		}
	}
	d.rescale(factor)
	return factor
}

func (d *Display) rescale(factor float64) {
	if factor < 0 || math.IsNaN(factor) {
		factor = 0
	}
	d.scale = factor
	if s, ok := d.target.(Scaler); ok {
		s.SetScale(factor,
			int(factor*float64(d.vp.W)), int(factor*float64(d.vp.H)))
	}
}

// AbsX maps a surface x coordinate to the framebuffer.
func (d *Display) AbsX(x float64) int32 {
	d.paint.Lock()
	defer d.paint.Unlock()
	if d.scale == 0 {
		return 0
	}
	return toSigned32(x/d.scale + float64(d.vp.X))
}

// AbsY maps a surface y coordinate to the framebuffer.
func (d *Display) AbsY(y float64) int32 {
	d.paint.Lock()
	defer d.paint.Unlock()
	if d.scale == 0 {
		return 0
	}
	return toSigned32(y/d.scale + float64(d.vp.Y))
}

// ToLogical maps a point on the surface to framebuffer coordinates. With a
// zero scale every point maps to the origin.
func (d *Display) ToLogical(x, y float64) (int32, int32) {
	return d.AbsX(x), d.AbsY(y)
}

// toSigned32 truncates v and wraps it into the signed 32-bit range.
// Values that are not finite become 0.
func toSigned32(v float64) int32 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(v), 1<<32)
	return int32(uint32(int64(m)))
}

// flip copies the damaged part of the viewport to the surface and resets
// the damage. Callers hold paint.
func (d *Display) flip() {
	b := d.damage.bounds
	x, y := b.Left, b.Top
	w, h := b.Right-x, b.Bottom-y

	vx, vy := x-d.vp.X, y-d.vp.Y
	if vx < 0 {
		w += vx
		x -= vx
		vx = 0
	}
	if vy < 0 {
		h += vy
		y -= vy
		vy = 0
	}
	if vx+w > d.vp.W {
		w = d.vp.W - vx
	}
	if vy+h > d.vp.H {
		h = d.vp.H - vy
	}

	if w > 0 && h > 0 {
		d.target.Blit(d.fb, image.Rect(x, y, x+w, y+h), image.Pt(vx, vy))
		d.blits.Add(1)
	}
	d.damage.reset()
	d.flips.Add(1)
}

func (d *Display) drawFrame(e *entry) {
	if b := e.pixels.Bounds(); b.Dx() < e.w || b.Dy() < e.h {
		d.log.Warn("decoded frame does not cover its rectangle",
			"want", image.Pt(e.w, e.h).String(), "got", b.Size().String())
	}
	dr := image.Rect(0, 0, e.w, e.h).Intersect(d.fb.Rect)
	draw.Draw(d.fb, dr, e.pixels, e.pixels.Bounds().Min, draw.Src)
	d.damage.add(0, 0, e.w, e.h)
	d.frames.Add(1)
}

func (d *Display) drawFill(e *entry) {
	if d.fillStyle == nil || !sameColor(d.fillStyle.C, e.color) {
		d.fillStyle = image.NewUniform(e.color)
	}
	dr := e.rect.Intersect(d.fb.Rect)
	draw.Draw(d.fb, dr, d.fillStyle, image.Point{}, draw.Src)
	d.damage.add(e.rect.Min.X, e.rect.Min.Y, e.rect.Dx(), e.rect.Dy())
	d.fills.Add(1)
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}
