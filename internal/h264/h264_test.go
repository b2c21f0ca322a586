package h264

import (
	"bytes"
	"testing"
)

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		// 4-byte start code + SPS (NAL type 7)
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		// 4-byte start code + PPS (NAL type 8)
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		// 4-byte start code + IDR (NAL type 5)
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nalus))
	}

	wantTypes := []byte{NALTypeSPS, NALTypePPS, NALTypeIDR}
	for i, want := range wantTypes {
		if nalus[i].Type != want {
			t.Errorf("NALU[%d]: got type %d, want %d", i, nalus[i].Type, want)
		}
	}
	if !IsKeyframe(nalus[2].Type) {
		t.Error("IsKeyframe returned false for IDR")
	}
}

func TestParseAnnexB3ByteStartCode(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x01, 0x67, 0x42, 0xE0,
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if nalus[0].Type != NALTypeSPS {
		t.Errorf("expected SPS, got %d", nalus[0].Type)
	}
	if nalus[1].Type != NALTypeIDR {
		t.Errorf("expected IDR, got %d", nalus[1].Type)
	}
}

func TestParseAnnexBEmpty(t *testing.T) {
	t.Parallel()
	if nalus := ParseAnnexB(nil); nalus != nil {
		t.Errorf("expected nil for empty input, got %d units", len(nalus))
	}
	if nalus := ParseAnnexB([]byte{0x00, 0x01}); nalus != nil {
		t.Errorf("expected nil for short input, got %d units", len(nalus))
	}
}

func TestParseSPS720p(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}

	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS error: %v", err)
	}
	if info.Width != 1280 {
		t.Errorf("width: got %d, want 1280", info.Width)
	}
	if info.Height != 720 {
		t.Errorf("height: got %d, want 720", info.Height)
	}
	if got := info.CodecString(); got != "avc1.64001f" {
		t.Errorf("CodecString: got %q, want %q", got, "avc1.64001f")
	}
}

func TestParseSPS256x192(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}

	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS error: %v", err)
	}
	if info.Width != 256 || info.Height != 192 {
		t.Errorf("size: got %dx%d, want 256x192", info.Width, info.Height)
	}
}

func TestParseSPSErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"too short", []byte{0x67, 0x64, 0x00}},
		{"not an SPS", []byte{0x68, 0xCE, 0x38, 0x80}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseSPS(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSplitAccessUnits(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, // SPS
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80, // PPS
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, // IDR, first_mb_in_slice = 0
		0x00, 0x00, 0x01, 0x65, 0x24, 0x11, // IDR, second slice of same picture
		0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x02, // P slice, new picture
		0x00, 0x00, 0x00, 0x01, 0x09, 0xf0, // AUD
		0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x04, // P slice
	}

	aus := SplitAccessUnits(data)
	if len(aus) != 3 {
		t.Fatalf("access units = %d, want 3", len(aus))
	}

	first := ParseAnnexB(aus[0])
	if len(first) != 4 {
		t.Fatalf("first AU NAL count = %d, want 4", len(first))
	}
	if first[0].Type != NALTypeSPS || first[3].Type != NALTypeIDR {
		t.Errorf("first AU types = %d..%d, want SPS..IDR", first[0].Type, first[3].Type)
	}
	if !bytes.HasPrefix(aus[1], startCode) {
		t.Error("access unit does not begin with a 4-byte start code")
	}
	last := ParseAnnexB(aus[2])
	if len(last) != 2 || last[0].Type != NALTypeAUD {
		t.Errorf("last AU = %+v, want AUD + slice", last)
	}
}

func TestSplitAccessUnitsEmpty(t *testing.T) {
	t.Parallel()
	if aus := SplitAccessUnits(nil); len(aus) != 0 {
		t.Errorf("access units = %d, want 0", len(aus))
	}
}
