package backend

import (
	"testing"

	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExceptionDispatch(t *testing.T) {
	b, rt := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 8)
	bp := cpu.NewHostBreakpoint(code + 2)
	require.True(t, b.InstallBreakpoint(bp))

	ctx := &cpu.HostContext{RIP: code + 2}
	assert.False(t, cpu.DispatchException(&cpu.Exception{Code: cpu.ExceptionAccessViolation, PC: code + 2, Context: ctx}),
		"only illegal instructions are claimed")
	assert.False(t, cpu.DispatchException(&cpu.Exception{Code: cpu.ExceptionBreakpoint, PC: code + 2, Context: ctx}))
	assert.False(t, cpu.DispatchException(&cpu.Exception{Code: cpu.ExceptionIllegalInstruction, PC: code, Context: ctx}),
		"no trap signature at pc")
	assert.Zero(t, rt.hitCount())

	ex := &cpu.Exception{Code: cpu.ExceptionIllegalInstruction, PC: code + 2, Context: ctx}
	assert.True(t, cpu.DispatchException(ex))
	require.Equal(t, 1, rt.hitCount())
	assert.Same(t, ex, rt.hits[0])

	rt.handled = false
	assert.False(t, cpu.DispatchException(ex), "runtime decision is returned")
	assert.Equal(t, 2, rt.hitCount())

	require.True(t, b.UninstallBreakpoint(bp))
	rt.handled = true
	assert.False(t, cpu.DispatchException(ex), "bytes restored, trap no longer ours")
	assert.Equal(t, 2, rt.hitCount())
}

func TestExceptionDispatcherRemovedOnClose(t *testing.T) {
	b, rt := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 8)
	require.True(t, b.InstallBreakpoint(cpu.NewHostBreakpoint(code)))
	ex := &cpu.Exception{Code: cpu.ExceptionIllegalInstruction, PC: code}
	require.True(t, cpu.DispatchException(ex))

	require.NoError(t, b.Close())
	assert.False(t, cpu.DispatchException(ex))
	assert.Equal(t, 1, rt.hitCount())
}

func TestExceptionsOverChannel(t *testing.T) {
	b, rt := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 8)
	require.True(t, b.InstallBreakpoint(cpu.NewHostBreakpoint(code)))

	ch := make(chan cpu.ExceptionMessage)
	done := make(chan struct{})
	go func() {
		cpu.ServeExceptions(ch)
		close(done)
	}()

	reply := make(chan bool, 1)
	ch <- cpu.ExceptionMessage{Exception: &cpu.Exception{Code: cpu.ExceptionIllegalInstruction, PC: code}, Reply: reply}
	assert.True(t, <-reply)
	ch <- cpu.ExceptionMessage{Exception: &cpu.Exception{Code: cpu.ExceptionIllegalInstruction, PC: code + 4}, Reply: reply}
	assert.False(t, <-reply)
	close(ch)
	<-done
	assert.Equal(t, 1, rt.hitCount())
}

func TestDispatcherInstalledOnce(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	assert.Panics(t, func() { b.installExceptionDispatcher() })
	require.NoError(t, b.Close())
	assert.Panics(t, func() { b.uninstallExceptionDispatcher() })
}
