//go:build !linux

package dcgm

// New reports ErrUnsupported; libdcgm only exists on Linux.
func New(Options) (*Client, error) {
	return nil, ErrUnsupported
}
