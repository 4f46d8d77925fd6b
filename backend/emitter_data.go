package backend

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// XmmConst names a 16-byte constant generated code loads from EmitterData.
type XmmConst int

const (
	XMMZero XmmConst = iota
	XMMOne
	XMMNegativeOne
	XMMSignMaskPS
	XMMAbsMaskPS
	XMMSignMaskPD
	XMMAbsMaskPD
	XMMByteSwapMask
	XMMAllOnes
	xmmConstCount
)

func splat32(v uint32) (out [16]byte) {
	for i := 0; i < 16; i += 4 {
		binary.LittleEndian.PutUint32(out[i:], v)
	}
	return out
}

func splat64(v uint64) (out [16]byte) {
	binary.LittleEndian.PutUint64(out[0:], v)
	binary.LittleEndian.PutUint64(out[8:], v)
	return out
}

var xmmConstValues = [xmmConstCount][16]byte{
	XMMZero:         {},
	XMMOne:          splat32(math.Float32bits(1)),
	XMMNegativeOne:  splat32(math.Float32bits(-1)),
	XMMSignMaskPS:   splat32(0x80000000),
	XMMAbsMaskPS:    splat32(0x7FFFFFFF),
	XMMSignMaskPD:   splat64(0x8000000000000000),
	XMMAbsMaskPD:    splat64(0x7FFFFFFFFFFFFFFF),
	XMMByteSwapMask: {3, 2, 1, 0, 7, 6, 5, 4, 11, 10, 9, 8, 15, 14, 13, 12},
	XMMAllOnes:      splat32(0xFFFFFFFF),
}

// EmitterData is the constant pool translated code addresses directly. It lives in
// backend-owned scratch memory for the lifetime of the backend.
type EmitterData struct {
	mem  []byte
	base uint64
	free func() error
}

func newEmitterData() (*EmitterData, error) {
	size := int(xmmConstCount) * 16
	mem, base, free, err := allocScratch(size)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d bytes of emitter data", size)
	}
	for i, v := range xmmConstValues {
		copy(mem[i*16:], v[:])
	}
	return &EmitterData{mem: mem, base: base, free: free}, nil
}

// Address returns where constant c is stored.
func (d *EmitterData) Address(c XmmConst) uint64 {
	if c < 0 || c >= xmmConstCount {
		fatalf("unknown xmm constant %d", c)
	}
	return d.base + uint64(c)*16
}

// Value returns the bytes stored for c.
func (d *EmitterData) Value(c XmmConst) [16]byte {
	var out [16]byte
	off := int(d.Address(c) - d.base)
	copy(out[:], d.mem[off:off+16])
	return out
}

func (d *EmitterData) Free() error {
	if d == nil || d.free == nil {
		return nil
	}
	err := d.free()
	d.free, d.mem = nil, nil
	return err
}
