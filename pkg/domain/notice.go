package domain

import "log/slog"

// Level is the severity of a notice.
type Level int

const (
	LevelDebug Level = iota
	LevelNotice
	LevelAlert
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelNotice:
		return "notice"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SlogLevel maps the notice level onto the closest slog level.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelNotice:
		return slog.LevelInfo
	case LevelAlert:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Notice is an operator-facing message emitted by the controller.
type Notice struct {
	Level    Level
	RunnerID string
	Message  string

	// Postfix is appended on the console only (e.g. " Listening for jobs...").
	Postfix string
}
