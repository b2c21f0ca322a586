package h264

import (
	"errors"
	"fmt"
)

// ProfileOffset is the payload offset of the profile_idc byte in a chunk
// that opens with a 4-byte start code followed by the SPS NAL header.
// constraint flags and level_idc follow it.
const ProfileOffset = 5

// Negotiation errors.
var (
	ErrShortHeader     = errors.New("h264: chunk too short for profile bytes")
	ErrNotParameterSet = errors.New("h264: chunk does not open with a sequence parameter set")
)

// Profile is the (profile_idc, constraint flags, level_idc) triple carried
// in an SPS, which is all a decoder needs to pick a configuration.
type Profile struct {
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// String returns the RFC 6381 codec string, e.g. "avc1.42001e".
func (p Profile) String() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", p.ProfileIDC, p.ConstraintFlags, p.LevelIDC)
}

// Name returns the common profile name for logging.
func (p Profile) Name() string {
	switch p.ProfileIDC {
	case 66:
		if p.ConstraintFlags&0x40 != 0 {
			return "Constrained Baseline"
		}
		return "Baseline"
	case 77:
		return "Main"
	case 88:
		return "Extended"
	case 100:
		return "High"
	case 110:
		return "High 10"
	case 122:
		return "High 4:2:2"
	case 244:
		return "High 4:4:4 Predictive"
	}
	return fmt.Sprintf("profile %d", p.ProfileIDC)
}

// Level returns level_idc as the conventional dotted level, e.g. 3.0.
func (p Profile) Level() float64 {
	return float64(p.LevelIDC) / 10
}

// ProfileFromChunk derives the codec profile from the header bytes of a
// stream's first encoded chunk.
func ProfileFromChunk(payload []byte) (Profile, error) {
	if len(payload) < ProfileOffset+3 {
		return Profile{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(payload))
	}
	if payload[ProfileOffset-1]&0x1F != NALTypeSPS {
		return Profile{}, fmt.Errorf("%w: NAL type %d", ErrNotParameterSet, payload[ProfileOffset-1]&0x1F)
	}
	return Profile{
		ProfileIDC:      payload[ProfileOffset],
		ConstraintFlags: payload[ProfileOffset+1],
		LevelIDC:        payload[ProfileOffset+2],
	}, nil
}

// FirstSPS returns the first SPS NAL unit in an Annex B payload.
func FirstSPS(payload []byte) ([]byte, bool) {
	for _, nal := range ParseAnnexB(payload) {
		if nal.Type == NALTypeSPS {
			return nal.Data, true
		}
	}
	return nil, false
}
