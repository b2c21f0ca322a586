// Package encoding maps RFB encoding numbers, including the pseudo-encodings
// used for capability negotiation, to their names.
package encoding

import "fmt"

// Code is a signed 32-bit RFB encoding number as it appears on the wire.
type Code int32

// Video codecs.
const (
	H264     Code = 0x14
	OpenH264 Code = 0x32
)

// Pseudo-encodings advertised during negotiation.
const (
	QualityLevel9        Code = -23
	QualityLevel0        Code = -32
	DesktopSize          Code = -223
	LastRect             Code = -224
	Cursor               Code = -239
	CompressLevel9       Code = -247
	CompressLevel0       Code = -256
	QEMUExtendedKeyEvent Code = -258
	DesktopName          Code = -307
	ExtendedDesktopSize  Code = -308
	Xvp                  Code = -309
	Fence                Code = -312
	ContinuousUpdates    Code = -313
	VMwareCursor         Code = 0x574d5664
	ExtendedClipboard    Code = -1063131698 // 0xc0a1e5ce
)

var names = map[Code]string{
	H264:                 "H.264",
	OpenH264:             "Open H.264",
	DesktopSize:          "DesktopSize",
	LastRect:             "LastRect",
	Cursor:               "Cursor",
	QEMUExtendedKeyEvent: "QEMUExtendedKeyEvent",
	DesktopName:          "DesktopName",
	ExtendedDesktopSize:  "ExtendedDesktopSize",
	Xvp:                  "XVP",
	Fence:                "Fence",
	ContinuousUpdates:    "ContinuousUpdates",
	VMwareCursor:         "VMwareCursor",
	ExtendedClipboard:    "ExtendedClipboard",
}

// Name returns a human-readable name for c. Unknown codes render as
// "[unknown encoding <n>]" rather than failing.
func Name(c Code) string {
	if n, ok := names[c]; ok {
		return n
	}
	if c >= QualityLevel0 && c <= QualityLevel9 {
		return fmt.Sprintf("QualityLevel%d", int(c-QualityLevel0))
	}
	if c >= CompressLevel0 && c <= CompressLevel9 {
		return fmt.Sprintf("CompressLevel%d", int(c-CompressLevel0))
	}
	return fmt.Sprintf("[unknown encoding %d]", int32(c))
}

// String implements fmt.Stringer.
func (c Code) String() string {
	return Name(c)
}

// IsVideo reports whether c selects one of the video codec paths.
func IsVideo(c Code) bool {
	return c == H264 || c == OpenH264
}

// Preferred returns the encoding list a client advertises, most preferred
// first: the primary and alternate video codecs, then the given quality
// and compression levels, then the capability pseudo-encodings.
func Preferred(quality, compression int) []Code {
	quality = clampLevel(quality)
	compression = clampLevel(compression)
	return []Code{
		H264,
		OpenH264,
		QualityLevel0 + Code(quality),
		CompressLevel0 + Code(compression),
		DesktopSize,
		LastRect,
		Cursor,
		ExtendedDesktopSize,
		Fence,
		ContinuousUpdates,
		ExtendedClipboard,
	}
}

func clampLevel(l int) int {
	switch {
	case l < 0:
		return 0
	case l > 9:
		return 9
	}
	return l
}
