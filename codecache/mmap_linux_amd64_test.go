//go:build linux && amd64

package codecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CodeSize = 1 << 20
	c := New(cfg)
	require.NoError(t, c.Initialize())
	defer c.Close()

	addr, err := c.PlaceCode([]byte{0xC3})
	require.NoError(t, err)
	assert.Zero(t, addr>>32, "code must be reachable through 32-bit indirections")

	require.NoError(t, c.CommitExecutableRange(0x9FFF0000, 0x9FFFFFFF))
	c.SetIndirectionDefault(uint32(addr))
	v, ok := c.Indirection(0x9FFFFFFC)
	require.True(t, ok)
	assert.Equal(t, uint32(addr), v)
}
