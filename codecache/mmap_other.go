//go:build !(linux && amd64)

package codecache

// New returns a cache whose Initialize fails; use NewMemory on this platform.
func New(cfg Config) Cache {
	return newCodeCache(cfg, unsupportedMapper{})
}

type unsupportedMapper struct{}

func (unsupportedMapper) mapCode(int) ([]byte, uint64, error)  { return nil, 0, ErrUnsupported }
func (unsupportedMapper) reserveTable(int) error               { return ErrUnsupported }
func (unsupportedMapper) commitTable(int, int) ([]byte, error) { return nil, ErrUnsupported }
func (unsupportedMapper) release() error                       { return nil }
func (unsupportedMapper) executable() bool                     { return false }
