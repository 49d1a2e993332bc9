// Package debug provides gated diagnostic logging. Messages go to stderr when
// LF_DEBUG is set, and always to the rotating operational log once a workspace
// is known.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	logFile *lumberjack.Logger
)

// Enabled reports whether stderr debug output is on.
func Enabled() bool {
	return os.Getenv("LF_DEBUG") != ""
}

// SetLogDir points the operational log at <dir>/lf.log with rotation.
// Safe to call more than once; later calls win.
func SetLogDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "lf.log"),
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// Logf writes a diagnostic line. Best effort on the file side; the operational
// log must never turn a working command into a failing one.
func Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if Enabled() {
		fmt.Fprint(os.Stderr, msg)
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_, _ = fmt.Fprintf(logFile, "%s %s", time.Now().Format(time.RFC3339), msg)
	}
}
