//go:build linux && amd64

package backend

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocScratch maps read/write memory below 2GiB so generated code can use 32-bit displacements.
func allocScratch(size int) ([]byte, uint64, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_32BIT)
	if err != nil {
		return nil, 0, nil, err
	}
	free := func() error { return unix.Munmap(mem) }
	return mem, uint64(uintptr(unsafe.Pointer(&mem[0]))), free, nil
}
