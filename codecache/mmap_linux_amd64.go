//go:build linux && amd64

package codecache

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapMapper backs the cache with anonymous mappings. The code region is mapped below 2GiB so
// entry points fit in 32-bit indirection slots.
type mmapMapper struct {
	code  []byte
	table []byte
}

// New returns a cache backed by executable memory.
func New(cfg Config) Cache {
	return newCodeCache(cfg, &mmapMapper{})
}

func (m *mmapMapper) mapCode(size int) ([]byte, uint64, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_32BIT)
	if err != nil {
		return nil, 0, err
	}
	m.code = mem
	return mem, uint64(uintptr(unsafe.Pointer(&mem[0]))), nil
}

func (m *mmapMapper) reserveTable(size int) error {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return err
	}
	m.table = mem
	return nil
}

func (m *mmapMapper) commitTable(offset, length int) ([]byte, error) {
	view := m.table[offset : offset+length : offset+length]
	if err := unix.Mprotect(view, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return nil, err
	}
	return view, nil
}

func (m *mmapMapper) release() error {
	var firstErr error
	if m.code != nil {
		if err := unix.Munmap(m.code); err != nil {
			firstErr = err
		}
		m.code = nil
	}
	if m.table != nil {
		if err := unix.Munmap(m.table); err != nil && firstErr == nil {
			firstErr = err
		}
		m.table = nil
	}
	return firstErr
}

func (m *mmapMapper) executable() bool { return true }
