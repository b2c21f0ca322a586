//go:build darwin || linux

package hwdecode

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/zsiec/rfbview/internal/decoder"
)

var (
	loadOnce sync.Once
	loadErr  error
)

// libstream_h264 decoder entry points.
var (
	streamH264DecoderCreate    func(threads int32) uint64
	streamH264DecoderDecode    func(dec uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	streamH264DecoderReset     func(dec uint64) int32
	streamH264DecoderDestroy   func(dec uint64)
	streamH264DecoderAvailable func() int32
	streamH264GetError         func() uintptr
)

// Result codes from stream_h264.h.
const (
	resultOK           = 0
	resultError        = -1
	resultErrorNoMem   = -2
	resultErrorInvalid = -3
	resultErrorCodec   = -4
)

// Load opens libstream_h264 once per process. path, if set, is tried
// first. Later calls return the first result.
func Load(path string) error {
	loadOnce.Do(func() {
		loadErr = loadLibrary(path)
	})
	return loadErr
}

// Available reports whether the native decoder can be used.
func Available() bool {
	return Load("") == nil && streamH264DecoderAvailable() != 0
}

func loadLibrary(path string) error {
	var lastErr error
	for _, p := range libraryPaths(path) {
		handle, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		purego.RegisterLibFunc(&streamH264DecoderCreate, handle, "stream_h264_decoder_create")
		purego.RegisterLibFunc(&streamH264DecoderDecode, handle, "stream_h264_decoder_decode")
		purego.RegisterLibFunc(&streamH264DecoderReset, handle, "stream_h264_decoder_reset")
		purego.RegisterLibFunc(&streamH264DecoderDestroy, handle, "stream_h264_decoder_destroy")
		purego.RegisterLibFunc(&streamH264DecoderAvailable, handle, "stream_h264_decoder_available")
		purego.RegisterLibFunc(&streamH264GetError, handle, "stream_h264_get_error")
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate paths")
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func libraryPaths(path string) []string {
	libName := "libstream_h264.so"
	if runtime.GOOS == "darwin" {
		libName = "libstream_h264.dylib"
	}

	var paths []string
	if path != "" {
		paths = append(paths, path)
	}
	if env := os.Getenv("STREAM_H264_LIB_PATH"); env != "" {
		paths = append(paths, env)
	}
	if env := os.Getenv("STREAM_SDK_LIB_PATH"); env != "" {
		paths = append(paths, filepath.Join(env, libName))
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(dir, libName),
			filepath.Join(dir, "..", "lib", libName),
		)
	}
	paths = append(paths, filepath.Join("build", libName), libName)

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, "/usr/local/lib/"+libName, "/opt/homebrew/lib/"+libName)
	case "linux":
		paths = append(paths, "/usr/local/lib/"+libName, "/usr/lib/"+libName)
	}
	return paths
}

func lastError() string {
	p := streamH264GetError()
	if p == 0 {
		return "unknown error"
	}
	var n int
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

type nativeBackend struct {
	handle uint64
	pool   sync.Pool
}

func newNativeBackend(opts Options) (backend, error) {
	if streamH264DecoderAvailable() == 0 {
		return nil, ErrUnavailable
	}
	handle := streamH264DecoderCreate(int32(opts.Threads))
	if handle == 0 {
		return nil, fmt.Errorf("hwdecode: create decoder: %s", lastError())
	}
	return &nativeBackend{handle: handle}, nil
}

func (b *nativeBackend) decode(data []byte) (*image.YCbCr, func(), error) {
	if len(data) == 0 {
		return nil, nil, nil
	}

	var outY, outU, outV uintptr
	var yStride, uvStride, width, height int32
	res := streamH264DecoderDecode(
		b.handle,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(&outY)),
		uintptr(unsafe.Pointer(&outU)),
		uintptr(unsafe.Pointer(&outV)),
		uintptr(unsafe.Pointer(&yStride)),
		uintptr(unsafe.Pointer(&uvStride)),
		uintptr(unsafe.Pointer(&width)),
		uintptr(unsafe.Pointer(&height)),
	)
	runtime.KeepAlive(data)

	switch {
	case res == resultOK:
		return nil, nil, nil
	case res < 0:
		return nil, nil, classify(res, lastError())
	}

	w, h := int(width), int(height)
	img := b.get(w, h)
	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(img.Y, img.YStride, outY, int(yStride), w, h)
	copyPlane(img.Cb, img.CStride, outU, int(uvStride), cw, ch)
	copyPlane(img.Cr, img.CStride, outV, int(uvStride), cw, ch)
	return img, func() { b.pool.Put(img) }, nil
}

// get returns a pooled I420 image of the given size.
func (b *nativeBackend) get(w, h int) *image.YCbCr {
	if v, ok := b.pool.Get().(*image.YCbCr); ok && v.Rect.Dx() == w && v.Rect.Dy() == h {
		return v
	}
	return image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
}

func copyPlane(dst []byte, dstStride int, src uintptr, srcStride, w, h int) {
	for row := 0; row < h; row++ {
		s := unsafe.Slice((*byte)(unsafe.Pointer(src+uintptr(row*srcStride))), w)
		copy(dst[row*dstStride:row*dstStride+w], s)
	}
}

func (b *nativeBackend) close() {
	if b.handle != 0 {
		streamH264DecoderDestroy(b.handle)
		b.handle = 0
	}
}

// classify wraps a library result code. Codec errors affect one unit;
// anything else leaves the instance unusable.
func classify(res int32, msg string) error {
	switch res {
	case resultErrorCodec:
		return fmt.Errorf("hwdecode: decode: %s", msg)
	case resultErrorNoMem, resultErrorInvalid, resultError:
		return fmt.Errorf("hwdecode: decode (code %d): %s: %w", res, msg, decoder.ErrUnrecoverable)
	default:
		return fmt.Errorf("hwdecode: decode (code %d): %s", res, msg)
	}
}
