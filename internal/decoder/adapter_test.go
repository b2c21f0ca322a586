package decoder

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/zsiec/rfbview/internal/media"
	"github.com/zsiec/rfbview/internal/rfbio"
)

// baselineAU opens with an SPS whose profile bytes are 42 00 1e.
var baselineAU = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, 0xab, 0x40,
	0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x38, 0x80,
	0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00,
}

var sliceAU = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x02, 0x04}

func chunk(flags uint32, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(b[4:8], flags)
	copy(b[8:], payload)
	return b
}

type fakeCapability struct {
	out     Output
	onErr   ErrorFunc
	w, h    int
	cfgErr  error
	subErr  error
	configs []Config
	units   []media.EncodedUnit
	closed  int
}

func (c *fakeCapability) Configure(cfg Config) error {
	c.configs = append(c.configs, cfg)
	return c.cfgErr
}

func (c *fakeCapability) Submit(u media.EncodedUnit) error {
	c.units = append(c.units, u)
	if c.subErr != nil {
		return c.subErr
	}
	if c.w > 0 {
		img := image.NewRGBA(image.Rect(0, 0, c.w, c.h))
		c.out(media.NewVideoFrame(img, c.w, c.h, nil))
	}
	return nil
}

func (c *fakeCapability) Close() error {
	c.closed++
	return nil
}

type fakeCompositor struct {
	mu       sync.Mutex
	w, h     int
	resizes  int
	fills    []image.Rectangle
	frames   []*media.VideoFrame
	released []bool
	flips    int
}

func (f *fakeCompositor) Width() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w
}

func (f *fakeCompositor) Height() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

func (f *fakeCompositor) Resize(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w, f.h = w, h
	f.resizes++
}

func (f *fakeCompositor) FillRect(x, y, w, h int, _ color.Color) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, image.Rect(x, y, x+w, y+h))
}

func (f *fakeCompositor) PushFlip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flips++
}

func (f *fakeCompositor) PushFrame(fr *media.VideoFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	f.released = append(f.released, fr.Pixels == nil)
}

type harness struct {
	a       *Adapter
	comp    *fakeCompositor
	caps    []*fakeCapability
	errs    []error
	newCap  func() *fakeCapability
	factErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{comp: &fakeCompositor{}}
	h.newCap = func() *fakeCapability { return &fakeCapability{w: 64, h: 48} }
	factory := func(out Output, onErr ErrorFunc) (Capability, error) {
		if h.factErr != nil {
			return nil, h.factErr
		}
		c := h.newCap()
		c.out, c.onErr = out, onErr
		h.caps = append(h.caps, c)
		return c, nil
	}
	opts := DefaultOptions()
	opts.OnError = func(err error) { h.errs = append(h.errs, err) }
	a, err := New(factory, h.comp, opts, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.a = a
	return h
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	factory := func(Output, ErrorFunc) (Capability, error) { return nil, nil }

	if _, err := New(nil, &fakeCompositor{}, Options{}, nil); !errors.Is(err, ErrNoFactory) {
		t.Errorf("nil factory: err = %v, want ErrNoFactory", err)
	}
	if _, err := New(factory, nil, Options{}, nil); !errors.Is(err, ErrNoCompositor) {
		t.Errorf("nil compositor: err = %v, want ErrNoCompositor", err)
	}
}

func TestDecodeChunkPartial(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	payload := make([]byte, 100)
	copy(payload, baselineAU)
	full := chunk(0, payload)

	q.Push(full[:50])
	if h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk with 50 of 108 bytes returned true")
	}
	if q.Len() != 50 {
		t.Errorf("buffered after not-ready = %d, want 50", q.Len())
	}
	if h.a.State() != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", h.a.State())
	}
	if len(h.caps) != 0 {
		t.Errorf("capabilities created = %d, want 0", len(h.caps))
	}

	q.Push(full[50:])
	q.Push([]byte{0xde, 0xad})
	if !h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk with the whole chunk returned false")
	}
	if q.Len() != 2 {
		t.Errorf("buffered after chunk = %d, want 2 (exactly 108 consumed)", q.Len())
	}
	if st := h.a.Stats(); st.Chunks != 1 || st.Bytes != 108 {
		t.Errorf("stats = %+v, want 1 chunk of 108 bytes", st)
	}
}

func TestDecodeChunkNeedsLength(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push([]byte{0, 0})
	if h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk without a full length field returned true")
	}
	if q.Len() != 2 {
		t.Errorf("buffered = %d, want 2", q.Len())
	}
}

func TestFirstChunkConfigures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	q.Push(chunk(0, sliceAU))
	for i := 0; i < 2; i++ {
		if !h.a.DecodeChunk(q) {
			t.Fatalf("chunk %d: DecodeChunk returned false", i)
		}
	}

	if len(h.caps) != 1 {
		t.Fatalf("capabilities created = %d, want 1", len(h.caps))
	}
	c := h.caps[0]
	if len(c.configs) != 1 {
		t.Fatalf("configures = %d, want 1", len(c.configs))
	}
	cfg := c.configs[0]
	if cfg.Codec != "avc1.42001e" {
		t.Errorf("codec = %q, want %q", cfg.Codec, "avc1.42001e")
	}
	if !cfg.LowLatency || cfg.HWPreference != PreferHardware {
		t.Errorf("config = %+v, want low latency and prefer-hardware", cfg)
	}
	if h.a.State() != StateConfigured {
		t.Errorf("state = %v, want configured", h.a.State())
	}

	if len(c.units) != 2 {
		t.Fatalf("units submitted = %d, want 2", len(c.units))
	}
	for i, u := range c.units {
		if u.Type != media.UnitKey || u.Timestamp != 0 {
			t.Errorf("unit %d = %v ts %d, want key ts 0", i, u.Type, u.Timestamp)
		}
	}
	if string(c.units[1].Data) != string(sliceAU) {
		t.Errorf("unit 1 data = % x, want % x", c.units[1].Data, sliceAU)
	}
	if len(h.errs) != 0 {
		t.Errorf("errors = %v, want none", h.errs)
	}
}

func TestOutputResizesAndReleases(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	q.Push(chunk(0, sliceAU))
	h.a.DecodeChunk(q)
	h.a.DecodeChunk(q)

	if h.comp.resizes != 1 {
		t.Errorf("resizes = %d, want 1", h.comp.resizes)
	}
	if h.comp.w != 64 || h.comp.h != 48 {
		t.Errorf("compositor = %dx%d, want 64x48", h.comp.w, h.comp.h)
	}
	if len(h.comp.frames) != 2 {
		t.Fatalf("frames pushed = %d, want 2", len(h.comp.frames))
	}
	for i, f := range h.comp.frames {
		if h.comp.released[i] {
			t.Errorf("frame %d released before PushFrame", i)
		}
		if f.Pixels != nil {
			t.Errorf("frame %d not released after PushFrame", i)
		}
	}
	if st := h.a.Stats(); st.Frames != 2 {
		t.Errorf("frames = %d, want 2", st.Frames)
	}
	if h.comp.flips != 2 {
		t.Errorf("flips = %d, want one per frame", h.comp.flips)
	}
	if len(h.comp.fills) != 0 {
		t.Errorf("fills = %v, want none without a parseable SPS", h.comp.fills)
	}
}

func TestFramesNotFlippedWhenDisabled(t *testing.T) {
	t.Parallel()
	comp := &fakeCompositor{}
	factory := func(out Output, onErr ErrorFunc) (Capability, error) {
		return &fakeCapability{out: out, onErr: onErr, w: 16, h: 16}, nil
	}
	a, err := New(factory, comp, Options{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q := rfbio.NewQueue(nil)
	q.Push(chunk(0, baselineAU))
	a.DecodeChunk(q)

	if len(comp.frames) != 1 {
		t.Fatalf("frames pushed = %d, want 1", len(comp.frames))
	}
	if comp.flips != 0 {
		t.Errorf("flips = %d, want 0 when frames are not flipped", comp.flips)
	}
}

// main256x192 is a Main profile SPS for a 256x192 picture.
var main256x192 = []byte{
	0x00, 0x00, 0x00, 0x01,
	0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
	0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
	0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
	0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
	0x3a, 0x8e, 0x18, 0xc9,
	0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00,
}

func TestConfigureSizesFramebufferFromSPS(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.newCap = func() *fakeCapability { return &fakeCapability{} }
	h.comp.w, h.comp.h = 64, 48
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, main256x192))
	if !h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk returned false for a complete chunk")
	}

	if got := h.caps[0].configs[0].Codec; got != "avc1.4d401f" {
		t.Errorf("codec = %q, want avc1.4d401f", got)
	}
	if h.comp.w != 256 || h.comp.h != 192 || h.comp.resizes != 1 {
		t.Errorf("compositor = %dx%d after %d resizes, want 256x192 after 1",
			h.comp.w, h.comp.h, h.comp.resizes)
	}
	if want := image.Rect(0, 0, 256, 192); len(h.comp.fills) != 1 || h.comp.fills[0] != want {
		t.Errorf("fills = %v, want one clear of %v", h.comp.fills, want)
	}

	// A second stream at the same size leaves the framebuffer alone.
	h.a.Reset()
	q.Push(chunk(0, main256x192))
	h.a.DecodeChunk(q)
	if h.comp.resizes != 1 || len(h.comp.fills) != 1 {
		t.Errorf("resizes = %d fills = %d, want 1 and 1", h.comp.resizes, len(h.comp.fills))
	}
}

func TestOversizedChunkSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)

	const length = MaxChunkLength + 1
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], length)
	q.Push(header)
	if h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk returned true before the oversized chunk was skipped")
	}
	if len(h.errs) != 1 {
		t.Fatalf("errors = %v, want 1", h.errs)
	}
	var derr *DecodeError
	if !errors.As(h.errs[0], &derr) || derr.Stage != StageRead || !errors.Is(derr, ErrChunkTooLarge) {
		t.Errorf("error = %v, want ErrChunkTooLarge at stage read", h.errs[0])
	}
	if h.a.State() != StateClosed {
		t.Errorf("state = %v, want closed after an oversized chunk", h.a.State())
	}

	piece := make([]byte, 1<<20)
	for left := length; left > 0; left -= len(piece) {
		if left < len(piece) {
			piece = piece[:left]
		}
		q.Push(piece)
		done := h.a.DecodeChunk(q)
		if done != (left == len(piece)) {
			t.Fatalf("DecodeChunk = %v with %d bytes left to skip", done, left-len(piece))
		}
	}
	if q.Len() != 0 {
		t.Errorf("buffered = %d, want the oversized chunk skipped", q.Len())
	}

	q.Push(chunk(0, baselineAU))
	if !h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk after the skipped chunk returned false")
	}
	if len(h.caps) != 2 || h.a.State() != StateConfigured {
		t.Errorf("caps = %d state = %v, want a new configured instance", len(h.caps), h.a.State())
	}
	if st := h.a.Stats(); st.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", st.Skipped)
	}
}

func TestResetReconfigures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)

	h.a.Reset()
	if h.a.State() != StateClosed {
		t.Fatalf("state after reset = %v, want closed", h.a.State())
	}
	if h.caps[0].closed != 1 {
		t.Errorf("first capability closed %d times, want 1", h.caps[0].closed)
	}

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)
	if len(h.caps) != 2 {
		t.Fatalf("capabilities created = %d, want 2", len(h.caps))
	}
	if got := h.caps[1].configs; len(got) != 1 || got[0].Codec != "avc1.42001e" {
		t.Errorf("second configure = %+v, want one avc1.42001e", got)
	}
	if st := h.a.Stats(); st.Configures != 2 || st.Resets != 1 {
		t.Errorf("stats = %+v, want 2 configures and 1 reset", st)
	}
}

func TestResetWithoutInstance(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.a.Reset()
	if h.a.State() != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", h.a.State())
	}
}

func TestResetFlags(t *testing.T) {
	t.Parallel()

	for _, flag := range []uint32{FlagResetContext, FlagResetAllContexts} {
		h := newHarness(t)
		q := rfbio.NewQueue(nil)

		q.Push(chunk(0, baselineAU))
		q.Push(chunk(flag, baselineAU))
		h.a.DecodeChunk(q)
		h.a.DecodeChunk(q)

		if len(h.caps) != 2 {
			t.Errorf("flag %#x: capabilities = %d, want 2", flag, len(h.caps))
			continue
		}
		if h.caps[0].closed != 1 {
			t.Errorf("flag %#x: first capability closed %d times, want 1", flag, h.caps[0].closed)
		}
		if len(h.caps[1].units) != 1 {
			t.Errorf("flag %#x: units on new capability = %d, want 1", flag, len(h.caps[1].units))
		}
	}
}

func TestConfigureFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		factErr error
		cfgErr  error
		stage   Stage
	}{
		{"short payload", []byte{0, 0, 0, 1, 0x67}, nil, nil, StageNegotiate},
		{"not an SPS", sliceAU, nil, nil, StageNegotiate},
		{"factory fails", baselineAU, errors.New("no decoder"), nil, StageCreate},
		{"configure rejects", baselineAU, nil, errors.New("unsupported profile"), StageConfigure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.factErr = tt.factErr
			h.newCap = func() *fakeCapability { return &fakeCapability{cfgErr: tt.cfgErr} }
			q := rfbio.NewQueue(nil)

			q.Push(chunk(0, tt.payload))
			if !h.a.DecodeChunk(q) {
				t.Fatal("DecodeChunk returned false for a complete chunk")
			}
			if q.Len() != 0 {
				t.Errorf("buffered = %d, want the chunk consumed", q.Len())
			}
			if h.a.State() == StateConfigured {
				t.Error("state = configured after a failed configuration")
			}
			if len(h.errs) != 1 {
				t.Fatalf("errors = %v, want 1", h.errs)
			}
			var derr *DecodeError
			if !errors.As(h.errs[0], &derr) || derr.Stage != tt.stage {
				t.Errorf("error = %v, want stage %s", h.errs[0], tt.stage)
			}
			for _, c := range h.caps {
				if c.closed != 1 {
					t.Errorf("rejected capability closed %d times, want 1", c.closed)
				}
				if len(c.units) != 0 {
					t.Errorf("units submitted to rejected capability = %d, want 0", len(c.units))
				}
			}
		})
	}
}

func TestDecodeErrorKeepsInstance(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)

	h.caps[0].onErr(errors.New("corrupt slice"))
	q.Push(chunk(0, sliceAU))
	h.a.DecodeChunk(q)

	if len(h.caps) != 1 || len(h.caps[0].units) != 2 {
		t.Errorf("caps = %d units = %d, want the same instance to get both units",
			len(h.caps), len(h.caps[0].units))
	}
	if h.caps[0].closed != 0 {
		t.Error("instance closed after a recoverable error")
	}
	if len(h.errs) != 1 {
		t.Errorf("errors = %d, want 1", len(h.errs))
	}
}

func TestUnrecoverableErrorDropsInstance(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)

	h.caps[0].onErr(errors.Join(ErrUnrecoverable, errors.New("gpu lost")))
	if h.caps[0].closed != 0 {
		t.Fatal("instance closed from inside the error callback")
	}

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)
	if h.caps[0].closed != 1 {
		t.Errorf("broken instance closed %d times, want 1", h.caps[0].closed)
	}
	if len(h.caps) != 2 || len(h.caps[1].units) != 1 {
		t.Errorf("want a fresh instance to receive the next chunk")
	}
}

func TestSubmitUnrecoverable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.newCap = func() *fakeCapability {
		return &fakeCapability{subErr: &DecodeError{Stage: StageSubmit, Err: ErrUnrecoverable}}
	}
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, baselineAU))
	h.a.DecodeChunk(q)
	if h.a.State() != StateClosed {
		t.Errorf("state = %v, want closed", h.a.State())
	}
	if h.caps[0].closed != 1 {
		t.Errorf("closed = %d, want 1", h.caps[0].closed)
	}
}

func TestEmptyChunk(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	q := rfbio.NewQueue(nil)

	q.Push(chunk(0, nil))
	if !h.a.DecodeChunk(q) {
		t.Fatal("DecodeChunk returned false for an empty chunk")
	}
	if len(h.caps) != 0 || len(h.errs) != 0 {
		t.Errorf("empty chunk created %d capabilities and %d errors, want none", len(h.caps), len(h.errs))
	}
}

func TestStateStrings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{StateUninitialized, "uninitialized"},
		{StateConfigured, "configured"},
		{StateClosed, "closed"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestParseHWPreference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    HWPreference
		wantErr bool
	}{
		{"", NoPreference, false},
		{"hardware", PreferHardware, false},
		{"prefer-software", PreferSoftware, false},
		{"gpu", NoPreference, true},
	}
	for _, tt := range tests {
		got, err := ParseHWPreference(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseHWPreference(%q) = %v, %v; want %v, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
