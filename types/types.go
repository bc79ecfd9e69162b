// Package types defines the capability interfaces shared by the scheduler packages.
package types

// Updatable is anything that wants one Tick per host frame while it is tracked.
type Updatable interface {
	Tick()
}

// Unloader is the optional capability used on the shutdown path.
// Entities that do not implement it are skipped.
type Unloader interface {
	Unload()
}

// Connection is the shared session to the lighting service.
// Connect and Disconnect must be idempotent. Update advances the session by one
// tick and must not block.
type Connection interface {
	Connect() error
	Disconnect() error
	Update() error
}

// Logger uses key-value pairs: logger.Info("message", "key1", "value1").
// Compatible with log/slog style loggers.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Info(string, ...any) {}
func (NopLogger) Warn(string, ...any) {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Debug(string, ...any) {}
