// Package notice delivers controller notices to operators: structured logs
// for machines and a colored console line for humans.
package notice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Logger writes notices to a slog.Logger, mapping notice levels onto slog levels.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a notifier on logger.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Notify implements ports.Notifier.
func (l *Logger) Notify(ctx context.Context, n domain.Notice) {
	l.logger.Log(ctx, n.Level.SlogLevel(), n.Message,
		"runner_id", n.RunnerID,
		"notice", n.Level.String(),
	)
}

var levelColors = map[domain.Level]string{
	domain.LevelDebug:    "#94a3b8",
	domain.LevelNotice:   "#4ade80",
	domain.LevelAlert:    "#facc15",
	domain.LevelCritical: "#f87171",
}

// Console prints one line per notice, colored by level when the writer is a terminal.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	profile  termenv.Profile
	minLevel domain.Level
}

// ConsoleOption configures the Console.
type ConsoleOption func(*Console)

// WithMinLevel drops notices below level. Defaults to LevelNotice.
func WithMinLevel(level domain.Level) ConsoleOption {
	return func(c *Console) {
		c.minLevel = level
	}
}

// WithProfile forces a color profile, e.g. termenv.Ascii to disable colors.
func WithProfile(p termenv.Profile) ConsoleOption {
	return func(c *Console) {
		c.profile = p
	}
}

// NewConsole creates a console notifier writing to out.
func NewConsole(out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		out:      out,
		profile:  detectProfile(out),
		minLevel: domain.LevelNotice,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func detectProfile(w io.Writer) termenv.Profile {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// Notify implements ports.Notifier.
func (c *Console) Notify(_ context.Context, n domain.Notice) {
	if n.Level < c.minLevel {
		return
	}

	line := domain.SanitizeText(fmt.Sprintf("[%s] %s%s", n.RunnerID, n.Message, n.Postfix))
	styled := termenv.String(line).Foreground(c.profile.Color(levelColors[n.Level]))
	if n.Level >= domain.LevelAlert && c.profile != termenv.Ascii {
		styled = styled.Bold()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, styled)
}

// Multi delivers every notice to each notifier in order.
type Multi []ports.Notifier

// Notify implements ports.Notifier.
func (m Multi) Notify(ctx context.Context, n domain.Notice) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}
