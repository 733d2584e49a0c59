// Package process runs allow-listed local commands as jobs.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// JobType is the job type served by Handler.
const JobType = "process"

// stderrTail bounds how much stderr is kept for the error message.
const stderrTail = 2048

// Payload is the job payload understood by Handler.
type Payload struct {
	Command string         `mapstructure:"command"`
	Args    map[string]any `mapstructure:"args"`
}

// Handler executes registered commands. It follows a strict registry (allow-list):
// a job can only name a command, never supply an executable or flags.
type Handler struct {
	mu       sync.RWMutex
	commands map[string]Command
	baseDir  string
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithCommands populates the allow-list from a loaded config.
func WithCommands(commands map[string]Command) HandlerOption {
	return func(h *Handler) {
		for name, c := range commands {
			c.Name = name
			h.commands[name] = c
		}
	}
}

// WithBaseDir sets the working directory of commands that do not set their own.
func WithBaseDir(dir string) HandlerOption {
	return func(h *Handler) {
		h.baseDir = dir
	}
}

// NewHandler creates a new process handler.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{commands: make(map[string]Command)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a trusted command to the allow-list.
func (h *Handler) Register(name, command string, args ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[name] = Command{Name: name, Command: command, Args: args}
}

// Commands lists the registered command names.
func (h *Handler) Commands() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs the command named by the job payload. Job arguments are passed as
// ASYNCWORKER_ARG_<KEY> environment variables, never as flags.
// stdout and stderr are streamed to out; a non-zero exit fails the job.
func (h *Handler) Handle(ctx context.Context, job *domain.Job, out io.Writer) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.commands[p.Command]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("process command not registered: %q", p.Command)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" {
		cmd.Dir = h.baseDir
	}

	env := cmd.Environ()
	for k, v := range c.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env, "ASYNCWORKER_JOB_ID="+job.ID)
	env = append(env, argsEnv(p.Args)...)
	cmd.Env = env

	var stderr tailBuffer
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(out, &stderr)

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("command %s failed: %w: %s", p.Command, err, msg)
		}
		return fmt.Errorf("command %s failed: %w", p.Command, err)
	}
	return nil
}

// argsEnv serializes primitives as-is and complex values as JSON.
func argsEnv(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(args))
	for _, k := range keys {
		var val string
		switch v := args[k].(type) {
		case nil:
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		default:
			if data, err := json.Marshal(v); err == nil {
				val = string(data)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("ASYNCWORKER_ARG_%s=%s", strings.ToUpper(k), val))
	}
	return env
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if extra := t.buf.Len() - stderrTail; extra > 0 {
		t.buf.Next(extra)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
