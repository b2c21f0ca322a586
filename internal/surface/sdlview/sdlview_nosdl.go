//go:build nosdl

package sdlview

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zsiec/rfbview/internal/surface"
)

// Available reports whether this build includes SDL support.
const Available = false

// ErrUnavailable is returned by New in builds without SDL.
var ErrUnavailable = errors.New("sdlview: built with nosdl")

// Options configures the window.
type Options struct {
	Title    string
	Width    int
	Height   int
	OnResize func(width, height int)
}

// View is a placeholder in builds without SDL.
type View struct{}

// New always fails in builds without SDL.
func New(*surface.Canvas, Options, *slog.Logger) (*View, error) {
	return nil, ErrUnavailable
}

// Size returns zero.
func (*View) Size() (int, int) { return 0, 0 }

// Run returns immediately.
func (*View) Run(context.Context) error { return ErrUnavailable }

// Close does nothing.
func (*View) Close() {}
