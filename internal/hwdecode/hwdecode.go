// Package hwdecode is the native H.264 decode capability. It loads the
// libstream_h264 shim at runtime with purego, so the binary builds without
// cgo and runs without the library (the capability then reports itself
// unavailable).
//
// Units are decoded on a worker goroutine owned by the Decoder; frames are
// delivered through the decoder.Output it was created with.
package hwdecode

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/zsiec/rfbview/internal/decoder"
	"github.com/zsiec/rfbview/internal/media"
)

var (
	ErrUnavailable        = errors.New("hwdecode: native H.264 decoder not available")
	ErrUnsupportedProfile = errors.New("hwdecode: unsupported H.264 profile")
	ErrNotConfigured      = errors.New("hwdecode: decoder not configured")
	ErrClosed             = errors.New("hwdecode: decoder closed")
)

const defaultQueueSize = 8

// Options configure the native decoder.
type Options struct {
	// LibPath is tried before the standard library locations.
	LibPath string
	// Threads is the decoder thread count. Zero lets the library decide.
	Threads int
	// QueueSize bounds the units waiting for the worker. Submit blocks
	// while the queue is full.
	QueueSize int
}

// backend is one native decoder instance. decode returns a nil image when
// the unit produced no picture.
type backend interface {
	decode(data []byte) (*image.YCbCr, func(), error)
	close()
}

type backendFactory func(opts Options) (backend, error)

// supportedProfiles are the profile_idc values the shim decodes.
var supportedProfiles = map[byte]bool{
	66:  true, // Baseline
	77:  true, // Main
	88:  true, // Extended
	100: true, // High
}

// Decoder implements decoder.Capability on top of the native library.
type Decoder struct {
	log        *slog.Logger
	opts       Options
	out        decoder.Output
	onErr      decoder.ErrorFunc
	newBackend backendFactory

	mu     sync.Mutex
	be     backend
	units  chan media.EncodedUnit
	closed bool
	wg     sync.WaitGroup
}

// NewFactory returns a decoder.Factory that creates native decoders.
func NewFactory(opts Options, log *slog.Logger) decoder.Factory {
	return func(out decoder.Output, onErr decoder.ErrorFunc) (decoder.Capability, error) {
		return New(out, onErr, opts, log)
	}
}

// New loads the native library and returns an unconfigured decoder.
func New(out decoder.Output, onErr decoder.ErrorFunc, opts Options, log *slog.Logger) (*Decoder, error) {
	if err := Load(opts.LibPath); err != nil {
		return nil, err
	}
	return newDecoder(out, onErr, opts, log, newNativeBackend), nil
}

func newDecoder(out decoder.Output, onErr decoder.ErrorFunc, opts Options, log *slog.Logger, nb backendFactory) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Decoder{
		log:        log.With("component", "hwdecode"),
		opts:       opts,
		out:        out,
		onErr:      onErr,
		newBackend: nb,
	}
}

// Configure creates the native instance and starts the worker.
func (d *Decoder) Configure(cfg decoder.Config) error {
	if !supportedProfiles[cfg.Profile.ProfileIDC] {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedProfile, cfg.Codec, cfg.Profile.Name())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.be != nil {
		// The native decoder follows in-band parameter sets, so a second
		// configure only needs to be accepted.
		return nil
	}

	be, err := d.newBackend(d.opts)
	if err != nil {
		return err
	}
	if cfg.HWPreference == decoder.PreferHardware {
		d.log.Debug("native decoder has no hardware path, decoding in software")
	}
	d.be = be
	d.units = make(chan media.EncodedUnit, d.opts.QueueSize)
	d.wg.Add(1)
	go d.run(be, d.units)

	d.log.Debug("native decoder configured",
		"codec", cfg.Codec, "queue", d.opts.QueueSize, "low_latency", cfg.LowLatency)
	return nil
}

// Submit queues a unit for decoding, blocking until the worker has room
// for it. Units are never dropped; a burst stalls the caller instead.
func (d *Decoder) Submit(unit media.EncodedUnit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.be == nil {
		return ErrNotConfigured
	}
	// The worker never takes mu, so it keeps draining while we wait and
	// Close cannot close units under us.
	d.units <- unit
	return nil
}

// Close stops the worker after it finishes the queued units and destroys
// the native instance.
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	be := d.be
	if d.units != nil {
		close(d.units)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if be != nil {
		be.close()
	}
	return nil
}

func (d *Decoder) run(be backend, units <-chan media.EncodedUnit) {
	defer d.wg.Done()
	for unit := range units {
		img, release, err := be.decode(unit.Data)
		if err != nil {
			d.onErr(err)
			continue
		}
		if img == nil {
			continue
		}
		b := img.Bounds()
		f := media.NewVideoFrame(img, b.Dx(), b.Dy(), release)
		f.Timestamp = unit.Timestamp
		d.out(f)
	}
}
