package decoder

import (
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/rfbview/internal/h264"
	"github.com/zsiec/rfbview/internal/media"
)

// Chunk flag bits.
const (
	FlagResetContext     uint32 = 1 << 0
	FlagResetAllContexts uint32 = 1 << 1
)

// MaxChunkLength bounds a chunk's declared payload length. Longer chunks
// are reported and skipped.
const MaxChunkLength = 64 << 20

var (
	ErrNoFactory     = errors.New("decoder: capability factory is required")
	ErrNoCompositor  = errors.New("decoder: compositor is required")
	ErrChunkTooLarge = errors.New("decoder: chunk exceeds maximum length")
)

// State is the adapter's decoder lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reader is the buffered byte source chunks are read from. Wait reports
// true when fewer than n bytes are buffered, after moving the read
// position back by goback bytes.
type Reader interface {
	Len() int
	ReadU32() uint32
	Wait(label string, n, goback int) bool
	ReadBytes(n int) []byte
	Skip(n int)
}

// Compositor is the part of the display the adapter drives.
type Compositor interface {
	Width() int
	Height() int
	Resize(width, height int)
	FillRect(x, y, w, h int, c color.Color)
	PushFrame(f *media.VideoFrame)
	PushFlip()
}

// Options tune how capabilities are configured.
type Options struct {
	LowLatency   bool
	HWPreference HWPreference
	// FlipFrames queues a flip behind every decoded frame. Capabilities
	// that decode on their own goroutine deliver frames after the chunk's
	// commit flip; without this such a frame waits for the next commit.
	FlipFrames bool
	// OnError receives every failure. Nil logs at warn level.
	OnError ErrorFunc
}

// DefaultOptions asks for a low-latency hardware decoder whose frames are
// shown as they are decoded.
func DefaultOptions() Options {
	return Options{LowLatency: true, HWPreference: PreferHardware, FlipFrames: true}
}

// Stats is a point-in-time snapshot of adapter counters.
type Stats struct {
	State      string `json:"state"`
	Codec      string `json:"codec,omitempty"`
	Chunks     int64  `json:"chunks"`
	Bytes      int64  `json:"bytes"`
	Configures int64  `json:"configures"`
	Resets     int64  `json:"resets"`
	Errors     int64  `json:"errors"`
	Frames     int64  `json:"frames"`
	Skipped    int64  `json:"skipped"`
}

// Adapter owns the decode capability for one session.
type Adapter struct {
	log     *slog.Logger
	factory Factory
	target  Compositor
	opts    Options

	mu      sync.Mutex
	state   State
	cap     Capability
	profile h264.Profile

	// broken is set from the capability's goroutine when it reports an
	// unrecoverable error; the next chunk tears the instance down.
	broken atomic.Bool

	// discard is what is left to skip of an oversized chunk. Only
	// DecodeChunk touches it.
	discard int64

	chunks     atomic.Int64
	bytes      atomic.Int64
	configures atomic.Int64
	resets     atomic.Int64
	failures   atomic.Int64
	frames     atomic.Int64
	skipped    atomic.Int64
}

// New creates an adapter that decodes with capabilities from factory and
// presents on target.
func New(factory Factory, target Compositor, opts Options, log *slog.Logger) (*Adapter, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}
	if target == nil {
		return nil, ErrNoCompositor
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		log:     log.With("component", "decoder"),
		factory: factory,
		target:  target,
		opts:    opts,
	}, nil
}

// State returns the lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Profile returns the negotiated profile. It is zero until configured.
func (a *Adapter) Profile() h264.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile
}

// DecodeChunk reads one chunk from r and submits it. It returns false,
// consuming nothing, when r does not yet hold the whole chunk; call it
// again once more data has arrived. Decode and configuration failures are
// reported to the error sink and the chunk counts as consumed.
//
// A chunk longer than MaxChunkLength is reported with ErrChunkTooLarge,
// the decoder is reset, and its bytes are skipped as they arrive.
func (a *Adapter) DecodeChunk(r Reader) bool {
	if a.discard > 0 {
		n := int64(r.Len())
		if n > a.discard {
			n = a.discard
		}
		r.Skip(int(n))
		a.discard -= n
		return a.discard == 0
	}

	if r.Wait("h264 length", 4, 0) {
		return false
	}
	declared := r.ReadU32()
	if declared > MaxChunkLength {
		a.chunks.Add(1)
		a.skipped.Add(1)
		a.report(StageRead, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, declared))
		a.Reset()
		a.discard = int64(declared) + 4
		return a.DecodeChunk(r)
	}
	length := int(declared)
	if r.Wait("h264 data", length+4, 4) {
		return false
	}
	flags := r.ReadU32()
	payload := r.ReadBytes(length)

	a.chunks.Add(1)
	a.bytes.Add(int64(8 + length))

	if a.broken.Swap(false) {
		a.log.Info("dropping decoder after unrecoverable error")
		a.Reset()
	}
	if flags&(FlagResetContext|FlagResetAllContexts) != 0 {
		a.Reset()
	}
	if length == 0 {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateConfigured && !a.configure(payload) {
		return true
	}
	err := a.cap.Submit(media.EncodedUnit{Type: media.UnitKey, Data: payload})
	if err != nil {
		a.report(StageSubmit, err)
		if errors.Is(err, ErrUnrecoverable) {
			a.broken.Store(false)
			a.teardown()
		}
	}
	return true
}

// configure negotiates the profile from the chunk and creates and
// configures a capability. On failure nothing is kept. Callers hold mu.
func (a *Adapter) configure(payload []byte) bool {
	profile, err := h264.ProfileFromChunk(payload)
	if err != nil {
		a.report(StageNegotiate, err)
		return false
	}

	c, err := a.factory(a.output, a.asyncError)
	if err != nil {
		a.report(StageCreate, err)
		return false
	}
	cfg := Config{
		Codec:        profile.String(),
		Profile:      profile,
		LowLatency:   a.opts.LowLatency,
		HWPreference: a.opts.HWPreference,
	}
	if err := c.Configure(cfg); err != nil {
		a.report(StageConfigure, err)
		if cerr := c.Close(); cerr != nil {
			a.report(StageClose, cerr)
		}
		return false
	}

	a.cap = c
	a.profile = profile
	a.state = StateConfigured
	a.configures.Add(1)

	attrs := []any{"codec", cfg.Codec, "profile", profile.Name(), "level", profile.Level()}
	if w, h, ok := spsSize(payload); ok {
		attrs = append(attrs, "width", w, "height", h)
		a.presize(w, h)
	}
	a.log.Info("decoder configured", attrs...)
	return true
}

// spsSize returns the cropped picture size the chunk's first SPS declares.
func spsSize(payload []byte) (int, int, bool) {
	sps, ok := h264.FirstSPS(payload)
	if !ok {
		return 0, 0, false
	}
	info, err := h264.ParseSPS(sps)
	if err != nil || info.Width <= 0 || info.Height <= 0 {
		return 0, 0, false
	}
	return info.Width, info.Height, true
}

// presize sizes the framebuffer for a new stream before its first frame
// and clears it, so nothing of a previous stream at another size shows.
func (a *Adapter) presize(w, h int) {
	if w == a.target.Width() && h == a.target.Height() {
		return
	}
	a.log.Debug("sizing framebuffer from SPS", "width", w, "height", h)
	a.target.Resize(w, h)
	a.target.FillRect(0, 0, w, h, color.Black)
}

// Reset releases the decoder instance if there is one. The next chunk
// negotiates and configures a new instance.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cap == nil {
		return
	}
	a.teardown()
	a.resets.Add(1)
}

// teardown closes the instance. Callers hold mu.
func (a *Adapter) teardown() {
	if a.cap != nil {
		if err := a.cap.Close(); err != nil {
			a.report(StageClose, err)
		}
		a.cap = nil
	}
	a.profile = h264.Profile{}
	a.state = StateClosed
}

// Close releases the decoder instance. The adapter can still be used.
func (a *Adapter) Close() error {
	a.Reset()
	return nil
}

// output hands a decoded frame to the compositor, resizing it first when
// the frame size changes, and releases the frame.
func (a *Adapter) output(f *media.VideoFrame) {
	if f == nil {
		return
	}
	defer f.Release()
	if f.Width != a.target.Width() || f.Height != a.target.Height() {
		a.log.Debug("frame size changed", "width", f.Width, "height", f.Height)
		a.target.Resize(f.Width, f.Height)
	}
	a.target.PushFrame(f)
	if a.opts.FlipFrames {
		a.target.PushFlip()
	}
	a.frames.Add(1)
}

func (a *Adapter) asyncError(err error) {
	a.report(StageDecode, err)
	if errors.Is(err, ErrUnrecoverable) {
		a.broken.Store(true)
	}
}

func (a *Adapter) report(stage Stage, err error) {
	a.failures.Add(1)
	derr := &DecodeError{Stage: stage, Err: err}
	if a.opts.OnError != nil {
		a.opts.OnError(derr)
		return
	}
	a.log.Warn("decode error", "stage", string(stage), "error", err)
}

// Stats returns the adapter counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	state, profile := a.state, a.profile
	a.mu.Unlock()

	st := Stats{
		State:      state.String(),
		Chunks:     a.chunks.Load(),
		Bytes:      a.bytes.Load(),
		Configures: a.configures.Load(),
		Resets:     a.resets.Load(),
		Errors:     a.failures.Load(),
		Frames:     a.frames.Load(),
		Skipped:    a.skipped.Load(),
	}
	if state == StateConfigured {
		st.Codec = profile.String()
	}
	return st
}
