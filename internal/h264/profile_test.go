package h264

import (
	"errors"
	"testing"
)

func TestProfileFromChunk(t *testing.T) {
	t.Parallel()
	payload := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, 0xab, 0x40}

	p, err := ProfileFromChunk(payload)
	if err != nil {
		t.Fatalf("ProfileFromChunk: %v", err)
	}
	if got := p.String(); got != "avc1.42001e" {
		t.Errorf("profile = %q, want %q", got, "avc1.42001e")
	}
	if p.Name() != "Baseline" {
		t.Errorf("Name = %q, want Baseline", p.Name())
	}
	if p.Level() != 3.0 {
		t.Errorf("Level = %v, want 3.0", p.Level())
	}
}

func TestProfileFromChunkErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrShortHeader},
		{"seven bytes", []byte{0, 0, 0, 1, 0x67, 0x42, 0x00}, ErrShortHeader},
		{"IDR first", []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00}, ErrNotParameterSet},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ProfileFromChunk(tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProfileNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p    Profile
		want string
	}{
		{Profile{66, 0xc0, 31}, "Constrained Baseline"},
		{Profile{77, 0x40, 31}, "Main"},
		{Profile{100, 0, 40}, "High"},
		{Profile{9, 0, 10}, "profile 9"},
	}
	for _, tt := range tests {
		if got := tt.p.Name(); got != tt.want {
			t.Errorf("Name(%s) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestFirstSPS(t *testing.T) {
	t.Parallel()
	payload := []byte{
		0x00, 0x00, 0x00, 0x01, 0x09, 0xf0,
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e,
	}
	sps, ok := FirstSPS(payload)
	if !ok {
		t.Fatal("FirstSPS found nothing")
	}
	if sps[0] != 0x67 {
		t.Errorf("sps header = 0x%02x, want 0x67", sps[0])
	}
	if _, ok := FirstSPS([]byte{0, 0, 0, 1, 0x65, 0x88}); ok {
		t.Error("FirstSPS found an SPS in an IDR-only payload")
	}
}
