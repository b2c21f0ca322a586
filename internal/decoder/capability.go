package decoder

import (
	"errors"
	"fmt"

	"github.com/zsiec/rfbview/internal/h264"
	"github.com/zsiec/rfbview/internal/media"
)

// ErrUnrecoverable marks a capability error after which the decoder
// instance cannot be used. The adapter drops the instance and configures a
// fresh one on the next chunk.
var ErrUnrecoverable = errors.New("decoder: unrecoverable")

// HWPreference asks the capability for a hardware or software decoder.
type HWPreference int

const (
	NoPreference HWPreference = iota
	PreferHardware
	PreferSoftware
)

func (p HWPreference) String() string {
	switch p {
	case PreferHardware:
		return "prefer-hardware"
	case PreferSoftware:
		return "prefer-software"
	default:
		return "no-preference"
	}
}

// ParseHWPreference maps a configuration string to a preference.
func ParseHWPreference(s string) (HWPreference, error) {
	switch s {
	case "", "no-preference":
		return NoPreference, nil
	case "hardware", "prefer-hardware":
		return PreferHardware, nil
	case "software", "prefer-software":
		return PreferSoftware, nil
	}
	return NoPreference, fmt.Errorf("decoder: unknown hardware preference %q", s)
}

// Config is what a capability is configured with once per session.
type Config struct {
	Codec        string // RFC 6381 codec string, e.g. "avc1.42001e"
	Profile      h264.Profile
	LowLatency   bool
	HWPreference HWPreference
}

// Capability is a platform decoder. Submit may return before the unit is
// decoded, and may block while the decoder is busy; results are delivered
// through the Output given to the Factory. Close returns once every
// submitted unit has been delivered or failed.
type Capability interface {
	Configure(cfg Config) error
	Submit(unit media.EncodedUnit) error
	Close() error
}

// Output receives decoded frames. It is called on the capability's
// goroutine and owns the frame.
type Output func(frame *media.VideoFrame)

// ErrorFunc receives asynchronous decode errors from a capability.
type ErrorFunc func(err error)

// Factory creates a capability that reports frames to out and errors to
// onErr.
type Factory func(out Output, onErr ErrorFunc) (Capability, error)

// Stage names where in the adapter a failure happened.
type Stage string

const (
	StageRead      Stage = "read"
	StageCreate    Stage = "create"
	StageNegotiate Stage = "negotiate"
	StageConfigure Stage = "configure"
	StageSubmit    Stage = "submit"
	StageDecode    Stage = "decode"
	StageClose     Stage = "close"
)

// DecodeError is reported to the error sink for every failure.
type DecodeError struct {
	Stage Stage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoder: %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
