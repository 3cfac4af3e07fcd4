package utils

import (
	"fmt"
	"strings"
)

// LogLevel is the verbosity level of the mount's diagnostic output.
//
// The ordering follows the mount's `loglevel` configuration field: each
// level logs everything at its own level and below, except OFF which
// suppresses all output.
type LogLevel int

const (
	// OFF suppresses all log output.
	OFF LogLevel = -1
	// NOTICE logs mount/unmount lifecycle events and nothing else.
	NOTICE LogLevel = 0
	// ERROR gates the logger's Warn and Error calls; the dispatcher does not
	// log translated filesystem errors through them.
	ERROR LogLevel = 1
	// DEBUG gates the logger's Debug calls; no file-handle or directory-cache
	// code calls them.
	DEBUG LogLevel = 2
	// DEBUG_BACKEND sits between DEBUG and DEBUG_FUSE; no logging call in
	// this module is gated on it, so tracker RPCs and storage-node requests
	// are not logged.
	DEBUG_BACKEND LogLevel = 3
	// DEBUG_FUSE additionally logs every FUSE callback invocation and its arguments.
	DEBUG_FUSE LogLevel = 4
)

// String returns the configuration-file spelling of the level.
func (l LogLevel) String() string {
	switch l {
	case OFF:
		return "OFF"
	case NOTICE:
		return "NOTICE"
	case ERROR:
		return "ERROR"
	case DEBUG:
		return "DEBUG"
	case DEBUG_BACKEND:
		return "DEBUG_BACKEND"
	case DEBUG_FUSE:
		return "DEBUG_FUSE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses the `loglevel` configuration value.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "OFF":
		return OFF, nil
	case "NOTICE":
		return NOTICE, nil
	case "ERROR":
		return ERROR, nil
	case "DEBUG":
		return DEBUG, nil
	case "DEBUG_BACKEND":
		return DEBUG_BACKEND, nil
	case "DEBUG_FUSE":
		return DEBUG_FUSE, nil
	default:
		return NOTICE, fmt.Errorf("invalid log level: %s", level)
	}
}
