// Package process runs external binaries such as whisper-cli, ffmpeg and
// docker with captured output and guaranteed termination.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultGracePeriod is the time between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// ErrKilled is returned when the context ended the process.
var ErrKilled = errors.New("process: killed by context")

// Command configures a subprocess to execute.
type Command struct {
	// Binary is the executable path or name, resolved via PATH.
	Binary string
	Args   []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is appended to os.Environ when non-empty.
	Env   []string
	Stdin io.Reader
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Result holds the output and status of a completed subprocess.
type Result struct {
	Stdout []byte
	Stderr []byte
	// ExitCode is -1 if the process was killed or never started.
	ExitCode int
	Duration time.Duration
}

// Run executes cmd and waits for it. When ctx ends, the whole process group
// receives SIGTERM, then SIGKILL after the grace period, and Run returns an
// error wrapping both ErrKilled and ctx.Err(). A non-zero exit is returned
// as an *exec.ExitError wrapped with the exit code; the Result is populated
// in both cases.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}

	grace := cmd.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec // running configured binaries is the point
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	// own process group so children die with the parent
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = grace

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	if err != nil {
		if ctx.Err() != nil {
			if c.Process != nil {
				// make sure stragglers in the group are gone
				_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
			}
			return res, fmt.Errorf("%w: %w", ErrKilled, ctx.Err())
		}
		return res, fmt.Errorf("process: exit code %d: %w", res.ExitCode, err)
	}
	return res, nil
}

// LookPath reports whether binary can be executed.
func LookPath(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", binary, err)
	}
	return path, nil
}

// Tail returns the last n non-empty lines of out.
func Tail(out []byte, n int) []string {
	if n <= 0 {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		if l = strings.TrimRight(l, "\r "); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
