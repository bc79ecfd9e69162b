// Package standard provides the logging and connectivity components every
// scheduler session carries.
package standard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// RecentLogs keeps the last N log entries and forwards everything to slog.
// It implements types.Logger.
type RecentLogs struct {
	mu         sync.Mutex
	entries    []LogEntry
	maxEntries int
	sink       *slog.Logger
	minLevel   LogLevel
}

// NewRecentLogs creates a RecentLogs tracker. A nil sink uses slog.Default().
func NewRecentLogs(maxEntries int, sink *slog.Logger) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if sink == nil {
		sink = slog.Default()
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		sink:       sink,
		minLevel:   LevelInfo,
	}
}

// SetMinLevel controls which entries are kept in the ring. Everything is
// still forwarded to the sink, which applies its own level.
func (r *RecentLogs) SetMinLevel(level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minLevel = level
}

// Log adds an entry. args are key-value pairs.
func (r *RecentLogs) Log(level LogLevel, message string, args ...any) {
	r.sink.Log(context.Background(), level.slogLevel(), message, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if level.rank() < r.minLevel.rank() {
		return
	}

	r.entries = append(r.entries, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   pairs(args),
	})

	// ring buffer
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
}

// Error logs an error message with key-value context.
func (r *RecentLogs) Error(message string, args ...any) { r.Log(LevelError, message, args...) }

// Warn logs a warning message with key-value context.
func (r *RecentLogs) Warn(message string, args ...any) { r.Log(LevelWarn, message, args...) }

// Info logs an info message with key-value context.
func (r *RecentLogs) Info(message string, args ...any) { r.Log(LevelInfo, message, args...) }

// Debug logs a debug message with key-value context.
func (r *RecentLogs) Debug(message string, args ...any) { r.Log(LevelDebug, message, args...) }

// Entries returns a copy of the buffered entries, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// GetData returns the buffered entries plus per-level counts.
func (r *RecentLogs) GetData() any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errorCount, warnCount, infoCount, debugCount int
	for _, entry := range r.entries {
		switch entry.Level {
		case LevelError:
			errorCount++
		case LevelWarn:
			warnCount++
		case LevelInfo:
			infoCount++
		case LevelDebug:
			debugCount++
		}
	}

	entries := make([]LogEntry, len(r.entries))
	copy(entries, r.entries)

	return map[string]any{
		"entries": entries,
		"stats": map[string]any{
			"total_count":    len(entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"info_count":     infoCount,
			"debug_count":    debugCount,
			"max_entries":    r.maxEntries,
		},
	}
}

func (l LogLevel) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pairs turns key-value args into a map. A trailing key without a value is
// stored under "!BADKEY", like slog does.
func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		value := args[i+1]
		if err, isErr := value.(error); isErr {
			value = err.Error()
		}
		out[key] = value
	}
	return out
}
