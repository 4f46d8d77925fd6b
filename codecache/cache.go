// Package codecache manages the executable memory translated code and thunks live in, plus the
// guest-address indirection table used for not-yet-linked calls.
package codecache

import (
	"encoding/binary"
	"sync"

	"github.com/colorfulnotion/x64backend/log"
	"github.com/pkg/errors"
)

const (
	pageSize = 0x1000

	// DefaultIndirection fills entries no one has linked or defaulted yet.
	DefaultIndirection uint32 = 0xFEEDF00D

	codeAlignment = 16
)

var (
	ErrNotInitialized = errors.New("codecache: not initialized")
	ErrOutOfSpace     = errors.New("codecache: code region exhausted")
	ErrOutOfRange     = errors.New("codecache: address outside committed memory")
	ErrUnsupported    = errors.New("codecache: executable memory not supported on this platform")
)

// Cache is the narrow contract the backend consumes.
type Cache interface {
	Initialize() error
	// CommitExecutableRange makes the indirection entries for [guestLow, guestHigh] usable. Idempotent.
	CommitExecutableRange(guestLow, guestHigh uint32) error
	SetIndirectionDefault(hostAddress uint32)
	AddIndirection(guestAddress uint32, hostAddress uint32) error
	Indirection(guestAddress uint32) (uint32, bool)
	// PlaceCode copies code into the executable region and returns its host address.
	PlaceCode(code []byte) (uint64, error)
	// View returns a writable window onto placed code at [hostAddress, hostAddress+n).
	View(hostAddress uint64, n int) ([]byte, error)
	Contains(hostAddress uint64, n int) bool
	// Executable reports whether placed code can actually run.
	Executable() bool
	Close() error
}

type Config struct {
	CodeSize             int
	IndirectionGuestBase uint32
	IndirectionSize      uint32
	// CodeBase is the address reported for the first code byte by heap-backed caches.
	CodeBase uint64
}

func DefaultConfig() Config {
	return Config{
		CodeSize:             16 * 1024 * 1024,
		IndirectionGuestBase: 0x80000000,
		IndirectionSize:      0x20000000,
		CodeBase:             0x10000000,
	}
}

// mapper supplies the memory behind a cache.
type mapper interface {
	// mapCode returns the code region and the address of its first byte.
	mapCode(size int) ([]byte, uint64, error)
	reserveTable(size int) error
	// commitTable makes [offset, offset+length) of the table accessible and returns it.
	commitTable(offset, length int) ([]byte, error)
	release() error
	executable() bool
}

type codeCache struct {
	mu     sync.Mutex
	cfg    Config
	mapper mapper

	code     []byte
	codeBase uint64
	used     int

	tablePages         map[int][]byte
	indirectionDefault uint32
	initialized        bool
}

func newCodeCache(cfg Config, m mapper) *codeCache {
	return &codeCache{
		cfg:                cfg,
		mapper:             m,
		tablePages:         make(map[int][]byte),
		indirectionDefault: DefaultIndirection,
	}
}

func (c *codeCache) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	code, base, err := c.mapper.mapCode(c.cfg.CodeSize)
	if err != nil {
		return errors.Wrapf(err, "map %d byte code region", c.cfg.CodeSize)
	}
	if err := c.mapper.reserveTable(int(c.cfg.IndirectionSize)); err != nil {
		c.mapper.release()
		return errors.Wrapf(err, "reserve %#x byte indirection table", c.cfg.IndirectionSize)
	}
	c.code, c.codeBase = code, base
	c.initialized = true
	log.Debug(log.CacheMonitoring, "code cache initialized", "codeBase", base, "codeSize", len(code))
	return nil
}

func (c *codeCache) tableOffset(guestAddress uint32) (int, bool) {
	if guestAddress < c.cfg.IndirectionGuestBase {
		return 0, false
	}
	off := uint64(guestAddress - c.cfg.IndirectionGuestBase)
	if off >= uint64(c.cfg.IndirectionSize) {
		return 0, false
	}
	return int(off), true
}

func (c *codeCache) CommitExecutableRange(guestLow, guestHigh uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	if guestHigh < guestLow {
		return errors.Errorf("codecache: inverted range %08X-%08X", guestLow, guestHigh)
	}
	lo, okLo := c.tableOffset(guestLow)
	hi, okHi := c.tableOffset(guestHigh)
	if !okLo || !okHi {
		return errors.Wrapf(ErrOutOfRange, "commit %08X-%08X", guestLow, guestHigh)
	}
	committed := 0
	for page := lo / pageSize; page <= hi/pageSize; page++ {
		if _, ok := c.tablePages[page]; ok {
			continue
		}
		view, err := c.mapper.commitTable(page*pageSize, pageSize)
		if err != nil {
			return errors.Wrapf(err, "commit indirection page %d", page)
		}
		for i := 0; i+4 <= len(view); i += 4 {
			binary.LittleEndian.PutUint32(view[i:], c.indirectionDefault)
		}
		c.tablePages[page] = view
		committed++
	}
	log.Debug(log.CacheMonitoring, "committed executable range", "low", guestLow, "high", guestHigh, "newPages", committed)
	return nil
}

// SetIndirectionDefault also rewrites committed entries that still hold the previous default.
func (c *codeCache) SetIndirectionDefault(hostAddress uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.indirectionDefault
	c.indirectionDefault = hostAddress
	for _, view := range c.tablePages {
		for i := 0; i+4 <= len(view); i += 4 {
			if binary.LittleEndian.Uint32(view[i:]) == prev {
				binary.LittleEndian.PutUint32(view[i:], hostAddress)
			}
		}
	}
}

func (c *codeCache) entry(guestAddress uint32) ([]byte, bool) {
	off, ok := c.tableOffset(guestAddress &^ 3)
	if !ok {
		return nil, false
	}
	view, ok := c.tablePages[off/pageSize]
	if !ok {
		return nil, false
	}
	return view[off%pageSize : off%pageSize+4], true
}

func (c *codeCache) AddIndirection(guestAddress uint32, hostAddress uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entry(guestAddress)
	if !ok {
		return errors.Wrapf(ErrOutOfRange, "indirection for %08X", guestAddress)
	}
	binary.LittleEndian.PutUint32(e, hostAddress)
	return nil
}

func (c *codeCache) Indirection(guestAddress uint32) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entry(guestAddress)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(e), true
}

func (c *codeCache) PlaceCode(code []byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	start := (c.used + codeAlignment - 1) &^ (codeAlignment - 1)
	if start+len(code) > len(c.code) {
		return 0, errors.Wrapf(ErrOutOfSpace, "place %d bytes at offset %d", len(code), start)
	}
	copy(c.code[start:], code)
	c.used = start + len(code)
	return c.codeBase + uint64(start), nil
}

func (c *codeCache) Contains(hostAddress uint64, n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containsLocked(hostAddress, n)
}

func (c *codeCache) containsLocked(hostAddress uint64, n int) bool {
	if !c.initialized || n < 0 || hostAddress < c.codeBase {
		return false
	}
	off := hostAddress - c.codeBase
	return off+uint64(n) <= uint64(c.used)
}

func (c *codeCache) View(hostAddress uint64, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.containsLocked(hostAddress, n) {
		return nil, errors.Wrapf(ErrOutOfRange, "view %#x+%d", hostAddress, n)
	}
	off := int(hostAddress - c.codeBase)
	return c.code[off : off+n : off+n], nil
}

func (c *codeCache) Executable() bool {
	return c.mapper.executable()
}

func (c *codeCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil
	}
	c.initialized = false
	c.code = nil
	c.tablePages = make(map[int][]byte)
	return c.mapper.release()
}
