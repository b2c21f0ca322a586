//go:build !darwin && !linux

package hwdecode

// Load always fails on platforms without purego dlopen support.
func Load(string) error { return ErrUnavailable }

// Available reports whether the native decoder can be used.
func Available() bool { return false }

func newNativeBackend(Options) (backend, error) { return nil, ErrUnavailable }
