package backend

import (
	"fmt"

	"github.com/colorfulnotion/x64backend/log"
)

// fatalf reports a broken invariant. These indicate a programming error, never a runtime condition.
func fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf("backend: "+format, args...)
	log.Error(log.BackendMonitoring, msg)
	panic(msg)
}

// assertion reports a gap with a defined fallback; it only stops the process in strict mode.
func assertion(strict bool, module string, format string, args ...interface{}) {
	msg := fmt.Sprintf("backend: "+format, args...)
	if strict {
		panic(msg)
	}
	log.Error(module, msg)
}
