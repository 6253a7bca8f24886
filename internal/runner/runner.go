// Package runner executes external OS diagnostic commands.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/user/lanscope/internal/util"
)

// DefaultTimeout bounds commands run without an explicit timeout.
const DefaultTimeout = 10 * time.Second

var (
	// ErrElevationCancelled means the user dismissed the OS privilege prompt.
	ErrElevationCancelled = errors.New("elevation cancelled by user")
	// ErrElevationCommandFailed means the elevated script ran and failed.
	ErrElevationCommandFailed = errors.New("elevated command failed")
)

// CommandError is returned when a command exits non-zero or times out.
type CommandError struct {
	Command  string
	Message  string
	TimedOut bool
}

func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out: %s", e.Command, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Command is an executable plus its arguments.
type Command struct {
	Name string
	Args []string
}

// Cmd builds a Command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner abstracts command execution so probes can be unit-tested
// without touching the host.
type Runner interface {
	Run(ctx context.Context, cmd Command, timeout time.Duration) (string, error)
	RunElevated(ctx context.Context, script string) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	// TempDir overrides the location of elevation scripts; empty uses os.TempDir.
	TempDir string

	// launch replaces the OS elevation launcher; used by tests.
	launch func(scriptPath string) Command
}

// New returns a runner for the current host.
func New() *OSRunner {
	return &OSRunner{}
}

// Run executes cmd and returns its trimmed stdout.
func (r *OSRunner) Run(ctx context.Context, cmd Command, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		cmdErr := &CommandError{Command: cmd.String(), Message: msg}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cmdErr.TimedOut = true
		}
		util.Debug("Command failed: %v", cmdErr)
		return "", cmdErr
	}

	return strings.TrimSpace(stdout.String()), nil
}
