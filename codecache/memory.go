package codecache

// heapMapper keeps everything on the Go heap. Placed code is addressable through View but cannot
// run; addresses start at Config.CodeBase.
type heapMapper struct {
	base uint64
}

// NewMemory returns a cache for inspection and tests: thunks can be emitted, listed and patched.
func NewMemory(cfg Config) Cache {
	return newCodeCache(cfg, &heapMapper{base: cfg.CodeBase})
}

func (m *heapMapper) mapCode(size int) ([]byte, uint64, error) {
	return make([]byte, size), m.base, nil
}

func (m *heapMapper) reserveTable(int) error { return nil }

func (m *heapMapper) commitTable(_, length int) ([]byte, error) {
	return make([]byte, length), nil
}

func (m *heapMapper) release() error { return nil }

func (m *heapMapper) executable() bool { return false }
