// Package display is the client's compositor. It owns the logical
// framebuffer, tracks which part of it is stale relative to the visible
// surface, maps the framebuffer onto the surface through a clipped and
// scaled viewport, and serializes decoded frames and explicit flips
// through an ordered render queue.
//
// Frames may be pushed from a decoder's own goroutine while the protocol
// goroutine pushes flips. The render queue turns that into a strict FIFO:
// whichever caller pushes onto an empty queue drains it, including
// entries appended by other goroutines while it runs. Callers that find
// the queue busy return immediately. [Display.Flush] exposes the moment
// the queue next becomes empty.
package display
