// Package logger wraps a leveled op/go-logging backend shared by the server
// and the migration tool.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/op/go-logging"
)

const module = "anzacash"

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, logging.INFO)
)

func newLogger(w io.Writer, level logging.Level) *logging.Logger {
	l := logging.MustGetLogger(module)
	backend := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(backend,
		logging.MustStringFormatter(`%{time:2006/01/02 15:04:05} %{level:.4s} - %{message}`))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, module)
	l.SetBackend(leveled)
	return l
}

// ParseLevel maps a config value such as "debug" or "warn" to a level.
// Unknown values fall back to INFO.
func ParseLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "warn":
		s = "warning"
	case "":
		return logging.INFO
	}
	level, err := logging.LogLevel(s)
	if err != nil {
		return logging.INFO
	}
	return level
}

// InitLogger replaces the default stderr logger.
func InitLogger(w io.Writer, level logging.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, level)
}

func get() *logging.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(args ...any) { get().Debug(args...) }

func Debugf(format string, args ...any) { get().Debugf(format, args...) }

func Info(args ...any) { get().Info(args...) }

func Infof(format string, args ...any) { get().Infof(format, args...) }

func Warning(args ...any) { get().Warning(args...) }

func Warningf(format string, args ...any) { get().Warningf(format, args...) }

func Error(args ...any) { get().Error(args...) }

func Errorf(format string, args ...any) { get().Errorf(format, args...) }
