package display

import "image"

// maxCoord is the largest coordinate an RFB framebuffer can have. It is
// the left/top sentinel of an empty damage region.
const maxCoord = 65535

// Region is a rectangle in framebuffer coordinates given by its edges.
// Right and Bottom are exclusive.
type Region struct {
	Left, Top, Right, Bottom int
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.Left >= r.Right || r.Top >= r.Bottom
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// damageTracker holds the bounding box of framebuffer pixels that differ
// from the visible surface. It only grows until reset.
type damageTracker struct {
	bounds Region
}

func newDamageTracker() damageTracker {
	var d damageTracker
	d.reset()
	return d
}

func (d *damageTracker) add(x, y, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	if x < d.bounds.Left {
		d.bounds.Left = x
	}
	if y < d.bounds.Top {
		d.bounds.Top = y
	}
	if x+w > d.bounds.Right {
		d.bounds.Right = x + w
	}
	if y+h > d.bounds.Bottom {
		d.bounds.Bottom = y + h
	}
}

func (d *damageTracker) reset() {
	d.bounds = Region{Left: maxCoord, Top: maxCoord, Right: 0, Bottom: 0}
}
