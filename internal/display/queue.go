package display

import (
	"context"
	"image"
	"image/color"

	"github.com/zsiec/rfbview/internal/media"
)

type entryKind uint8

const (
	entryFlip entryKind = iota
	entryFrame
	entryFill
)

func (k entryKind) String() string {
	switch k {
	case entryFlip:
		return "flip"
	case entryFrame:
		return "frame"
	case entryFill:
		return "fill"
	default:
		return "unknown"
	}
}

// entry is one render queue item. Frames carry their pixels and display
// size; fills carry a rectangle and colour.
type entry struct {
	kind   entryKind
	pixels image.Image
	w, h   int
	rect   image.Rectangle
	color  color.Color
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// PushFrame queues a decoded frame to be drawn at the framebuffer origin
// at its display size. When the queue is empty the frame is drawn before
// PushFrame returns. Otherwise its pixels are copied so the caller may
// release the frame as soon as PushFrame returns.
func (d *Display) PushFrame(f *media.VideoFrame) {
	if f == nil || f.Pixels == nil || f.Width <= 0 || f.Height <= 0 {
		d.log.Debug("dropping empty frame")
		return
	}
	d.push(entry{kind: entryFrame, pixels: f.Pixels, w: f.Width, h: f.Height})
}

// PushFlip queues a flip: everything queued before it becomes visible
// when it is processed.
func (d *Display) PushFlip() {
	d.push(entry{kind: entryFlip})
}

// FillRect queues a solid fill of the given framebuffer rectangle.
func (d *Display) FillRect(x, y, w, h int, c color.Color) {
	if w <= 0 || h <= 0 {
		return
	}
	d.push(entry{kind: entryFill, rect: image.Rect(x, y, x+w, y+h), color: c})
}

// Flip presents the current damage. It goes through the render queue like
// PushFlip: on an empty queue it is processed before Flip returns,
// otherwise it runs after the entries already queued. While it is being
// presented, concurrent pushes queue behind it.
func (d *Display) Flip() {
	d.push(entry{kind: entryFlip})
}

// Pending reports whether the render queue has entries.
func (d *Display) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) != 0
}

// Flush returns a channel that is closed once the render queue is empty.
// If it is empty now the channel is already closed. All callers waiting on
// the same drain share one channel.
func (d *Display) Flush() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return closedChan
	}
	if d.flushed == nil {
		d.flushed = make(chan struct{})
	}
	return d.flushed
}

// FlushContext waits for the render queue to empty or for ctx to end.
func (d *Display) FlushContext(ctx context.Context) error {
	select {
	case <-d.Flush():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// push appends e and, if the queue was empty, drains it on the calling
// goroutine.
func (d *Display) push(e entry) {
	d.mu.Lock()
	if len(d.queue) != 0 {
		if e.kind == entryFrame {
			e.pixels = copyImage(e.pixels, e.w, e.h)
		}
		d.enqueue(e)
		d.mu.Unlock()
		return
	}
	d.enqueue(e)
	d.mu.Unlock()

	d.drain()
}

// enqueue appends e. Callers hold mu.
func (d *Display) enqueue(e entry) {
	d.queue = append(d.queue, e)
	if n := int64(len(d.queue)); n > d.maxDepth.Load() {
		d.maxDepth.Store(n)
	}
}

// drain processes the head of the queue until the queue is empty. The head
// stays in place while it is processed so concurrent pushes see a busy
// queue and append behind it.
func (d *Display) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.mu.Unlock()

		d.paint.Lock()
		switch e.kind {
		case entryFlip:
			d.flip()
		case entryFrame:
			d.drawFrame(&e)
		case entryFill:
			d.drawFill(&e)
		}
		d.paint.Unlock()

		d.mu.Lock()
		d.queue[0] = entry{}
		d.queue = d.queue[1:]
		empty := len(d.queue) == 0
		if empty {
			d.queue = nil
			if d.flushed != nil {
				close(d.flushed)
				d.flushed = nil
			}
		}
		d.mu.Unlock()

		if empty {
			return
		}
	}
}
