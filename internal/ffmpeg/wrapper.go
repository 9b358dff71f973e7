package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// maxStderrLines bounds the in-memory stderr ring.
const maxStderrLines = 100

// ErrNotStarted is returned when waiting on a command that never started.
var ErrNotStarted = errors.New("command not started")

// Command is a single ffmpeg or ffprobe invocation.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time

	stderrDone  chan struct{}
	stderrMu    sync.RWMutex
	stderrLines []string
}

// CommandBuilder builds ffmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	logLevel   string
	overwrite  bool
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a builder for the ffmpeg binary at ffmpegPath.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{binary: ffmpegPath, logLevel: "error"}
}

// LogLevel sets -loglevel.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner adds -hide_banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite adds -y.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Headers sets the HTTP headers sent to the input, one "Key: Value" per entry.
func (b *CommandBuilder) Headers(headers ...string) *CommandBuilder {
	if len(headers) > 0 {
		b.inputArgs = append(b.inputArgs, "-headers", strings.Join(headers, "\r\n"))
	}
	return b
}

// InputArgs appends arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// VideoFilter appends a -vf filter.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// OutputArgs appends arguments placed after -i.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the argument list:
// -loglevel, globals, -y, input args, -i, -vf, output args, output.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:      b.binary,
		Args:        args,
		Input:       b.input,
		Output:      b.output,
		stderrLines: make([]string, 0, maxStderrLines),
	}
}

// String returns the command line.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run starts the command and waits for it.
func (c *Command) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait()
}

// Start launches the process and begins collecting stderr. The process is
// killed when ctx is cancelled.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.Binary, err)
	}
	c.cmd = cmd
	c.started = time.Now()
	c.stderrDone = make(chan struct{})
	go c.captureStderr(stderr, c.stderrDone)
	return nil
}

// Wait blocks until the process exits. Stderr is fully drained first.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd, done := c.cmd, c.stderrDone
	c.mu.RUnlock()

	if cmd == nil {
		return ErrNotStarted
	}
	<-done
	return cmd.Wait()
}

// Kill terminates the process. Killing a process that has not started or
// has already exited is not an error.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// PID returns the process id, or 0 when not started.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

func (c *Command) captureStderr(stderr io.Reader, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, scanner.Text())
		c.stderrMu.Unlock()
	}
}

// StderrLines returns a copy of the most recent stderr lines.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()
	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}

// StderrTail returns at most n characters from the end of stderr.
func (c *Command) StderrTail(n int) string {
	return Tail(strings.Join(c.StderrLines(), "\n"), n)
}

// Tail returns the last n runes of s, trimmed of surrounding space.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
