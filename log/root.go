package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Module names. Trace and Debug records are dropped unless their module is enabled.
const (
	BackendMonitoring   = "x64_mod"   // backend lifecycle
	ThunkMonitoring     = "thunk_mod" // thunk emission
	BreakpointMonitor   = "bp_mod"    // breakpoint patching
	ExceptionMonitoring = "exc_mod"   // exception dispatch
	StepMonitoring      = "step_mod"  // next-instruction resolution
	CacheMonitoring     = "cache_mod" // code cache commits
)

var knownModules = []string{BackendMonitoring, ThunkMonitoring, BreakpointMonitor, ExceptionMonitoring, StepMonitoring, CacheMonitoring}

var root atomic.Pointer[Logger]

func init() {
	root.Store(NewLogger(discardHandler()))
}

var levelByName = map[string]slog.Level{
	"MAX": levelMaxVerbosity, "MAXVERBOSITY": levelMaxVerbosity,
	"TRACE": LevelTrace,
	"DEBUG": LevelDebug,
	"INFO":  LevelInfo,
	"WARN":  LevelWarn, "WARNING": LevelWarn,
	"ERROR": LevelError,
	"CRIT":  LevelCrit, "CRITICAL": LevelCrit,
}

func ParseLevel(lvl string) (slog.Level, error) {
	if l, ok := levelByName[strings.ToUpper(strings.TrimSpace(lvl))]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("invalid level: %s", lvl)
}

// InitLogger installs a stderr text logger at the named level.
func InitLogger(logLevel string) error {
	lvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, lvl)))
	return nil
}

func SetDefault(l *Logger) {
	root.Store(l)
	slog.SetDefault(l.inner)
}

func Root() *Logger {
	return root.Load()
}

var modules sync.Map // string -> bool

func EnableModule(module string)  { modules.Store(module, true) }
func DisableModule(module string) { modules.Delete(module) }

// EnableModules takes a comma separated list of module names; "all" enables every known module.
func EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		switch m = strings.TrimSpace(m); m {
		case "":
		case "all":
			for _, k := range knownModules {
				EnableModule(k)
			}
		default:
			EnableModule(m)
		}
	}
}

func KnownModules() []string {
	return append([]string(nil), knownModules...)
}

func moduleEnabled(module string) bool {
	_, ok := modules.Load(module)
	return ok
}

func Trace(module string, msg string, ctx ...any) {
	if moduleEnabled(module) {
		Root().Write(LevelTrace, module, msg, 1, ctx...)
	}
}

func Debug(module string, msg string, ctx ...any) {
	if moduleEnabled(module) {
		Root().Write(LevelDebug, module, msg, 1, ctx...)
	}
}

// Info and above are never filtered by module.
func Info(module string, msg string, ctx ...any) {
	Root().Write(LevelInfo, module, msg, 1, ctx...)
}

func Warn(module string, msg string, ctx ...any) {
	Root().Write(LevelWarn, module, msg, 1, ctx...)
}

func Error(module string, msg string, ctx ...any) {
	Root().Write(LevelError, module, msg, 1, ctx...)
}

// Crit logs and exits the process.
func Crit(module string, msg string, ctx ...any) {
	Root().Write(LevelCrit, module, msg, 1, ctx...)
	os.Exit(1)
}
