package cpu

import "sync"

// ExceptionHandlerFunc returns true if it handled the exception.
type ExceptionHandlerFunc func(ex *Exception, data any) bool

// HandlerRegistration is the token returned by InstallExceptionHandler.
type HandlerRegistration struct {
	fn   ExceptionHandlerFunc
	data any
}

// ExceptionMessage is one exception delivered over a channel; Reply receives the handled result.
type ExceptionMessage struct {
	Exception *Exception
	Reply     chan<- bool
}

// process-wide handler chain, most recently installed first
var exceptionHandlers struct {
	sync.Mutex
	chain []*HandlerRegistration
}

// InstallExceptionHandler puts fn at the front of the process-wide handler chain.
func InstallExceptionHandler(fn ExceptionHandlerFunc, data any) *HandlerRegistration {
	reg := &HandlerRegistration{fn: fn, data: data}
	exceptionHandlers.Lock()
	exceptionHandlers.chain = append([]*HandlerRegistration{reg}, exceptionHandlers.chain...)
	exceptionHandlers.Unlock()
	return reg
}

// UninstallExceptionHandler removes reg. It reports false if reg was not installed.
func UninstallExceptionHandler(reg *HandlerRegistration) bool {
	exceptionHandlers.Lock()
	defer exceptionHandlers.Unlock()
	for i, r := range exceptionHandlers.chain {
		if r == reg {
			exceptionHandlers.chain = append(exceptionHandlers.chain[:i:i], exceptionHandlers.chain[i+1:]...)
			return true
		}
	}
	return false
}

// DispatchException walks the chain until a handler accepts ex.
// Returning false means the platform default path should run.
func DispatchException(ex *Exception) bool {
	exceptionHandlers.Lock()
	chain := append([]*HandlerRegistration(nil), exceptionHandlers.chain...)
	exceptionHandlers.Unlock()
	for _, reg := range chain {
		if reg.fn(ex, reg.data) {
			return true
		}
	}
	return false
}

// ServeExceptions delivers messages from a platform trap source until ch is closed.
func ServeExceptions(ch <-chan ExceptionMessage) {
	for msg := range ch {
		handled := DispatchException(msg.Exception)
		if msg.Reply != nil {
			msg.Reply <- handled
		}
	}
}
