//go:build darwin || linux

package hwdecode

import (
	"errors"
	"testing"

	"github.com/zsiec/rfbview/internal/decoder"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res           int32
		unrecoverable bool
	}{
		{resultErrorCodec, false},
		{resultError, true},
		{resultErrorNoMem, true},
		{resultErrorInvalid, true},
		{-9, false},
	}
	for _, tt := range tests {
		err := classify(tt.res, "boom")
		if got := errors.Is(err, decoder.ErrUnrecoverable); got != tt.unrecoverable {
			t.Errorf("classify(%d) unrecoverable = %v, want %v", tt.res, got, tt.unrecoverable)
		}
	}
}

func TestLibraryPathsPreferExplicit(t *testing.T) {
	t.Setenv("STREAM_H264_LIB_PATH", "/env/libstream_h264.so")
	paths := libraryPaths("/opt/custom.so")
	if len(paths) < 2 || paths[0] != "/opt/custom.so" || paths[1] != "/env/libstream_h264.so" {
		t.Errorf("paths = %v, want explicit path then env path first", paths)
	}
}
