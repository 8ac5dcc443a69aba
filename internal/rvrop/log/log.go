package log

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"rvrop/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	current     *logging.LoggerCloser
)

// Setup routes log/slog through the charm logger. debug forces the debug
// level regardless of RVROP_LOG_LEVEL.
func Setup(debug bool) {
	initOnce.Do(func() {
		current = logging.NewLogger()
		if debug {
			current.SetLevel(charmlog.DebugLevel)
			current.SetReportCaller(true)
		}

		slog.SetDefault(slog.New(current.Logger))
		initialized.Store(true)
	})
}

func Initialized() bool {
	return initialized.Load()
}

// Close flushes and closes a file-backed logger.
func Close() error {
	if current == nil {
		return nil
	}
	return current.Close()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
