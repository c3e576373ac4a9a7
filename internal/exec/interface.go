// Package exec provides an interface for command execution.
package exec

import (
	"context"
	"io"
)

// Command describes one external command invocation.
type Command struct {
	// Dir is the working directory; empty means the current one.
	Dir  string
	Name string
	Args []string
	// Env entries are appended to the inherited environment.
	Env   []string
	Stdin io.Reader
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Output executes cmd and returns stdout and stderr separately. A non-nil
	// error is returned for non-zero exits; stderr is still populated.
	Output(ctx context.Context, cmd Command) (stdout, stderr []byte, err error)
}
