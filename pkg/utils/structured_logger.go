package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// LogEntry represents a complete log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// StructuredLogger provides level-gated logging with structured fields.
// Label and LogLevel are tracked separately: two
// calls can share a gating level (Warn and Error both require at least
// ERROR verbosity) while printing distinct labels.
type StructuredLogger struct {
	mu              sync.RWMutex
	level           LogLevel
	output          io.Writer
	format          LogFormat
	contextFields   map[string]interface{}
	includeCaller   bool
	includeStack    bool // Only for ERROR/FATAL labels
	componentLevels map[string]LogLevel
	rotator         *LogRotator
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
	IncludeStack  bool
	Rotation      *RotationConfig
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         NOTICE,
		Output:        os.Stderr,
		Format:        FormatText,
		IncludeCaller: true,
		IncludeStack:  false,
	}
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}

	logger := &StructuredLogger{
		level:           config.Level,
		output:          config.Output,
		format:          config.Format,
		contextFields:   make(map[string]interface{}),
		includeCaller:   config.IncludeCaller,
		includeStack:    config.IncludeStack,
		componentLevels: make(map[string]LogLevel),
	}

	if config.Rotation != nil {
		rotator, err := NewLogRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		logger.rotator = rotator
		logger.output = rotator
	}

	return logger, nil
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	newFields := make(map[string]interface{}, len(sl.contextFields)+1)
	for k, v := range sl.contextFields {
		newFields[k] = v
	}
	newFields[key] = value

	return &StructuredLogger{
		level:           sl.level,
		output:          sl.output,
		format:          sl.format,
		contextFields:   newFields,
		includeCaller:   sl.includeCaller,
		includeStack:    sl.includeStack,
		componentLevels: sl.componentLevels,
		rotator:         sl.rotator,
	}
}

// WithFields returns a new logger with multiple context fields
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	newFields := make(map[string]interface{}, len(sl.contextFields)+len(fields))
	for k, v := range sl.contextFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &StructuredLogger{
		level:           sl.level,
		output:          sl.output,
		format:          sl.format,
		contextFields:   newFields,
		includeCaller:   sl.includeCaller,
		includeStack:    sl.includeStack,
		componentLevels: sl.componentLevels,
		rotator:         sl.rotator,
	}
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetComponentLevel sets the log level for a specific component
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.componentLevels[component] = level
}

// SetLevel sets the global log level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// GetLevel returns the current log level
func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.level
}

// isEnabled checks if a gating level is enabled for the current component.
// Higher LogLevel values are more verbose, so a call is enabled when its
// level is at or below the configured level.
func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if component, ok := sl.contextFields["component"]; ok {
		if compStr, ok := component.(string); ok {
			if compLevel, exists := sl.componentLevels[compStr]; exists {
				return level <= compLevel
			}
		}
	}

	return level <= sl.level
}

// log writes a log entry, gated by level and labeled independently of it.
func (sl *StructuredLogger) log(level LogLevel, label, message string, fields map[string]interface{}) {
	if !sl.isEnabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     label,
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	sl.mu.RLock()
	for k, v := range sl.contextFields {
		entry.Fields[k] = v
	}
	sl.mu.RUnlock()

	for k, v := range fields {
		entry.Fields[k] = v
	}

	if sl.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	if sl.includeStack && (label == "ERROR" || label == "FATAL") {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.Stack = string(buf[:n])
	}

	var output string
	if sl.format == FormatJSON {
		jsonBytes, err := json.Marshal(entry)
		if err != nil {
			output = sl.formatText(entry)
		} else {
			output = string(jsonBytes) + "\n"
		}
	} else {
		output = sl.formatText(entry)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, _ = sl.output.Write([]byte(output))
}

// formatText formats a log entry as human-readable text
func (sl *StructuredLogger) formatText(entry LogEntry) string {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05"))
	sb.WriteString("] [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")

	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}

	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")

	if entry.Stack != "" {
		sb.WriteString("Stack trace:\n")
		sb.WriteString(entry.Stack)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Trace logs at the finest callback-argument verbosity (DEBUG_FUSE).
func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.logWithFields(DEBUG_FUSE, "TRACE", message, fields...)
}

// Debug logs file-handle and directory-cache activity.
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.logWithFields(DEBUG, "DEBUG", message, fields...)
}

// Info logs a lifecycle notice.
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.logWithFields(NOTICE, "NOTICE", message, fields...)
}

// Warn logs a non-fatal problem at ERROR gating verbosity.
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.logWithFields(ERROR, "WARN", message, fields...)
}

// Error logs a translated filesystem error.
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.logWithFields(ERROR, "ERROR", message, fields...)
}

// Fatal logs unconditionally and exits the process.
func (sl *StructuredLogger) Fatal(message string, fields ...map[string]interface{}) {
	sl.logWithFields(DEBUG_FUSE, "FATAL", message, fields...)
	os.Exit(1)
}

// logWithFields is a helper to log with optional field maps
func (sl *StructuredLogger) logWithFields(level LogLevel, label, message string, fieldMaps ...map[string]interface{}) {
	var fields map[string]interface{}
	if len(fieldMaps) > 0 && fieldMaps[0] != nil {
		fields = fieldMaps[0]
	}
	if label == "FATAL" {
		// Fatal always writes regardless of configured verbosity.
		sl.mu.RLock()
		saved := sl.level
		sl.mu.RUnlock()
		sl.SetLevel(DEBUG_FUSE)
		sl.log(level, label, message, fields)
		sl.SetLevel(saved)
		return
	}
	sl.log(level, label, message, fields)
}

// Tracef logs a formatted trace message
func (sl *StructuredLogger) Tracef(format string, args ...interface{}) {
	sl.log(DEBUG_FUSE, "TRACE", fmt.Sprintf(format, args...), nil)
}

// Debugf logs a formatted debug message
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.log(DEBUG, "DEBUG", fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted notice message
func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.log(NOTICE, "NOTICE", fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.log(ERROR, "WARN", fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.log(ERROR, "ERROR", fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits
func (sl *StructuredLogger) Fatalf(format string, args ...interface{}) {
	sl.logWithFields(DEBUG_FUSE, "FATAL", fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Close closes the logger and any associated resources
func (sl *StructuredLogger) Close() error {
	if sl.rotator != nil {
		return sl.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered log entries
func (sl *StructuredLogger) Sync() error {
	if sl.rotator != nil {
		return sl.rotator.Sync()
	}
	return nil
}
