package main

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/rfbview/internal/config"
	"github.com/zsiec/rfbview/internal/display"
)

const scaleInterval = 100 * time.Millisecond

// autoscaler keeps the display's scale matched to the window. It applies
// the configured viewport size once the framebuffer first has pixels and
// refits whenever the viewport or the window changes size.
type autoscaler struct {
	cfg  config.DisplayConfig
	disp *display.Display

	mu        sync.Mutex
	container image.Point
}

func newAutoscaler(cfg config.DisplayConfig) *autoscaler {
	return &autoscaler{cfg: cfg}
}

// containerResized records the window size. It is called from the
// presenter's thread.
func (a *autoscaler) containerResized(w, h int) {
	a.mu.Lock()
	a.container = image.Pt(w, h)
	a.mu.Unlock()
}

func (a *autoscaler) run(ctx context.Context) {
	ticker := time.NewTicker(scaleInterval)
	defer ticker.Stop()

	var (
		lastVP        display.Viewport
		lastContainer image.Point
		sized         bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !sized && a.cfg.Clip && a.disp.Width() > 0 {
			if a.cfg.ViewportWidth > 0 && a.cfg.ViewportHeight > 0 {
				a.disp.ViewportChangeSize(a.cfg.ViewportWidth, a.cfg.ViewportHeight)
			}
			sized = true
		}

		a.mu.Lock()
		container := a.container
		a.mu.Unlock()
		if !a.cfg.Autoscale || container == (image.Point{}) {
			continue
		}
		vp := a.disp.Viewport()
		if vp == lastVP && container == lastContainer {
			continue
		}
		lastVP, lastContainer = vp, container
		factor := a.disp.Autoscale(container.X, container.Y)
		slog.Debug("autoscale", "factor", factor,
			"viewport_w", vp.W, "viewport_h", vp.H,
			"container_w", container.X, "container_h", container.Y)
	}
}
