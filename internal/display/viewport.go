package display

// Viewport is the framebuffer rectangle shown on the surface.
type Viewport struct {
	X, Y, W, H int
}

// Viewport returns the current viewport.
func (d *Display) Viewport() Viewport {
	d.paint.Lock()
	defer d.paint.Unlock()
	return d.vp
}

// ClipViewport reports whether the viewport is client-managed.
func (d *Display) ClipViewport() bool {
	d.paint.Lock()
	defer d.paint.Unlock()
	return d.clip
}

// SetClipViewport switches between a client-managed viewport and one that
// always covers the whole framebuffer.
func (d *Display) SetClipViewport(clip bool) {
	d.paint.Lock()
	defer d.paint.Unlock()
	d.clip = clip
	d.changeSize(d.vp.W, d.vp.H)
	d.changePos(0, 0)
}

// ViewportChangePos pans the viewport by (dx, dy), clamped to the
// framebuffer. Without clipping the viewport stays at the origin.
func (d *Display) ViewportChangePos(dx, dy int) {
	d.paint.Lock()
	d.changePos(dx, dy)
	d.paint.Unlock()
}

// ViewportChangeSize resizes the viewport and the surface, clamped to the
// framebuffer. Without clipping the viewport is the full framebuffer.
func (d *Display) ViewportChangeSize(w, h int) {
	d.paint.Lock()
	d.changeSize(w, h)
	d.paint.Unlock()
}

// changePos and changeSize flip immediately, bypassing the render queue.
// Callers hold paint.
func (d *Display) changePos(dx, dy int) {
	fbW, fbH := d.fb.Rect.Dx(), d.fb.Rect.Dy()
	x, y := d.vp.X+dx, d.vp.Y+dy
	if !d.clip {
		x, y = 0, 0
	}
	x = clamp(x, 0, fbW-d.vp.W)
	y = clamp(y, 0, fbH-d.vp.H)
	if x == d.vp.X && y == d.vp.Y {
		return
	}

	d.damage.add(d.vp.X, d.vp.Y, d.vp.W, d.vp.H)
	d.vp.X, d.vp.Y = x, y
	d.damage.add(d.vp.X, d.vp.Y, d.vp.W, d.vp.H)
	d.flip()
}

func (d *Display) changeSize(w, h int) {
	fbW, fbH := d.fb.Rect.Dx(), d.fb.Rect.Dy()
	if !d.clip {
		w, h = fbW, fbH
	}
	w = clamp(w, 0, fbW)
	h = clamp(h, 0, fbH)
	if w == d.vp.W && h == d.vp.H {
		return
	}

	d.damage.add(d.vp.X, d.vp.Y, d.vp.W, d.vp.H)
	d.vp.W, d.vp.H = w, h
	d.target.SetSize(w, h)

	// Growing may push the viewport past the framebuffer edge.
	d.changePos(0, 0)
	d.damage.add(d.vp.X, d.vp.Y, d.vp.W, d.vp.H)
	d.flip()
	d.rescale(d.scale)
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
