// Package media defines the frame types that flow between the decoder
// adapter and the display compositor.
package media

import (
	"image"
	"sync"
)

// UnitType tags an encoded unit for the decode capability.
type UnitType uint8

// Encoded unit kinds. Every unit submitted by the adapter is a keyframe;
// delta units exist so capabilities can describe their own input.
const (
	UnitKey UnitType = iota
	UnitDelta
)

func (t UnitType) String() string {
	if t == UnitKey {
		return "key"
	}
	return "delta"
}

// EncodedUnit is one length-prefixed payload read from the bitstream,
// handed to a decode capability as a single independently decodable unit.
type EncodedUnit struct {
	Type      UnitType
	Timestamp int64
	Data      []byte // Annex B byte stream
}

// VideoFrame is a decoded picture delivered by a decode capability. The
// pixel store may be backed by capability-owned memory; Release returns
// it. The compositor copies pixels synchronously, so a frame may be
// released as soon as it has been pushed.
type VideoFrame struct {
	Pixels    image.Image
	Width     int // display width
	Height    int // display height
	Timestamp int64

	releaseOnce sync.Once
	release     func()
}

// NewVideoFrame wraps pixels with their display dimensions. release may be
// nil when the pixels are ordinary Go memory.
func NewVideoFrame(pixels image.Image, width, height int, release func()) *VideoFrame {
	return &VideoFrame{
		Pixels:  pixels,
		Width:   width,
		Height:  height,
		release: release,
	}
}

// Release frees the frame's underlying resource. It is safe to call more
// than once.
func (f *VideoFrame) Release() {
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
		f.Pixels = nil
	})
}

// Bounds returns the frame's display rectangle anchored at the origin.
func (f *VideoFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}
