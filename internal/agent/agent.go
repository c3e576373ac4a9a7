// Package agent runs the external coding-agent subprocess, builds the
// prompts it receives, and manages the isolated working directories it
// works in.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultTailLines = 20
	defaultWaitDelay = 10 * time.Second
	streamBuffer     = 64
)

// Spec describes one agent invocation.
type Spec struct {
	Binary string
	Args   []string
	// Model is appended as "--model <Model>" when non-empty.
	Model  string
	Dir    string
	Prompt string
	Env    []string
}

// Output tells a run where streamed output goes.
type Output struct {
	// Sink receives every output line prefixed with Tag.
	Sink *SyncWriter
	Tag  string
	// Raw optionally receives the same lines without the tag.
	Raw *SyncWriter
}

// Result is what is known about a finished agent process.
type Result struct {
	ExitCode   int
	StderrTail []string
	// Summary is the final result text reported on a stream-json stdout.
	Summary string
	// Interrupted is the context error when the process was stopped by
	// cancellation or deadline.
	Interrupted error
	Duration    time.Duration
}

// Succeeded reports a clean exit that was not interrupted.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && r.Interrupted == nil
}

// Runner starts an agent and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, spec Spec, out Output) (Result, error)
}

// Process runs the agent as a child process. Each output stream is copied
// into its own bounded channel and drained by a single consumer that splits
// lines and prefixes them.
type Process struct {
	tailLines int
	waitDelay time.Duration
	log       *zap.SugaredLogger
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithTailLines sets how many trailing stderr lines a Result keeps.
func WithTailLines(n int) ProcessOption {
	return func(p *Process) {
		if n > 0 {
			p.tailLines = n
		}
	}
}

// WithWaitDelay bounds how long a terminated process may keep its output
// open before it is killed.
func WithWaitDelay(d time.Duration) ProcessOption {
	return func(p *Process) {
		if d > 0 {
			p.waitDelay = d
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.SugaredLogger) ProcessOption {
	return func(p *Process) {
		p.log = log
	}
}

// NewProcess creates an agent runner.
func NewProcess(opts ...ProcessOption) *Process {
	p := &Process{
		tailLines: defaultTailLines,
		waitDelay: defaultWaitDelay,
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the agent, feeds it the prompt on stdin and streams its output
// until it exits. An error is returned only when the process could not be
// started; exit status and interruption are reported in the Result.
func (p *Process) Run(ctx context.Context, spec Spec, out Output) (Result, error) {
	if spec.Binary == "" {
		return Result{}, errors.New("agent binary not set")
	}
	if out.Sink == nil {
		out.Sink = NewSyncWriter(os.Stdout)
	}

	args := append([]string{}, spec.Args...)
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}

	cmd := exec.CommandContext(ctx, spec.Binary, args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = strings.NewReader(spec.Prompt)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Signal the whole process group so tools the agent spawned stop too.
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = p.waitDelay

	stdoutCh := make(chan []byte, streamBuffer)
	stderrCh := make(chan []byte, streamBuffer)
	cmd.Stdout = chanWriter(stdoutCh)
	cmd.Stderr = chanWriter(stderrCh)

	tail := newTailBuffer(p.tailLines)
	summary := &resultTracker{}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start agent %s: %w", spec.Binary, err)
	}
	p.log.Debugw("agent started", "pid", cmd.Process.Pid, "dir", spec.Dir, "tag", strings.TrimSpace(out.Tag))

	var consumers conc.WaitGroup
	consumers.Go(func() {
		consume(stdoutCh, newLineWriter(out.Tag, out.Sink, out.Raw, summary.observe))
	})
	consumers.Go(func() {
		consume(stderrCh, newLineWriter(out.Tag, out.Sink, out.Raw, tail.add))
	})

	waitErr := cmd.Wait()
	close(stdoutCh)
	close(stderrCh)
	consumers.Wait()

	res := Result{
		ExitCode:   exitCode(cmd, waitErr),
		StderrTail: tail.lines(),
		Summary:    summary.text(),
		Duration:   time.Since(started),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Interrupted = ctxErr
	}
	p.log.Debugw("agent exited", "exit_code", res.ExitCode, "interrupted", res.Interrupted, "duration", res.Duration)
	return res, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Verify Process implements Runner at compile time.
var _ Runner = (*Process)(nil)
