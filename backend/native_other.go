//go:build !(linux && amd64)

package backend

import "github.com/colorfulnotion/x64backend/cpu"

func nativeResolverCallback(cpu.Runtime) (uint64, error) {
	return 0, ErrNativeUnsupported
}

func (b *Backend) CallHostToGuest(target, arg0, arg1 uint64) (uint64, error) {
	return 0, ErrNativeUnsupported
}
