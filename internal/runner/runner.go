// Package runner executes one bounded external process per call.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	defaultMinTimeout      = 1 * time.Second
	defaultMaxTimeout      = 60 * time.Second
	defaultOutputMaxBytes  = 64 * 1024
	scriptPlaceholder      = "{script}"
	defaultInterpreterTmpl = "python3 -I " + scriptPlaceholder
	killGraceAfterDeadline = 100 * time.Millisecond
)

// Config bounds every run regardless of caller-supplied values.
type Config struct {
	InterpreterCmd string        `yaml:"interpreterCmd"`
	MinTimeout     time.Duration `yaml:"minTimeout"`
	MaxTimeout     time.Duration `yaml:"maxTimeout"`
	OutputMaxBytes int64         `yaml:"outputMaxBytes"`
	AllowedHosts   []string      `yaml:"allowedHosts"`
}

// Request describes one execution task.
type Request struct {
	Argv         []string
	Dir          string
	Stdin        string
	Timeout      time.Duration
	AllowNetwork bool
}

// Result is the outcome of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs a command to completion within a clamped deadline.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
	ScriptArgv(scriptPath string) []string
	ClampTimeout(d time.Duration) time.Duration
}

// BoundedRunner is stateless and reentrant: it holds no state across calls.
type BoundedRunner struct {
	cfg      Config
	template []string
}

// New parses the interpreter command template once and returns a runner.
func New(cfg Config) (*BoundedRunner, error) {
	if cfg.InterpreterCmd == "" {
		cfg.InterpreterCmd = defaultInterpreterTmpl
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = defaultMinTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = defaultMaxTimeout
	}
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = defaultOutputMaxBytes
	}
	template, err := shlex.Split(cfg.InterpreterCmd)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse interpreter command %q failed", cfg.InterpreterCmd)
	}
	if len(template) == 0 {
		return nil, appErr.Newf(appErr.InvalidParams, "interpreter command is empty")
	}
	return &BoundedRunner{cfg: cfg, template: template}, nil
}

// ScriptArgv substitutes the script path into the interpreter template.
func (r *BoundedRunner) ScriptArgv(scriptPath string) []string {
	argv := make([]string, 0, len(r.template)+1)
	replaced := false
	for _, part := range r.template {
		if part == scriptPlaceholder {
			argv = append(argv, scriptPath)
			replaced = true
			continue
		}
		argv = append(argv, part)
	}
	if !replaced {
		argv = append(argv, scriptPath)
	}
	return argv
}

// ProbeVersion runs the interpreter with --version for health reporting.
func (r *BoundedRunner) ProbeVersion(ctx context.Context) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, r.template[0], "--version").CombinedOutput()
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SpawnError, "probe %s failed", r.template[0])
	}
	return strings.TrimSpace(string(out)), nil
}

// ClampTimeout never trusts a caller-supplied timeout beyond [min, max].
func (r *BoundedRunner) ClampTimeout(d time.Duration) time.Duration {
	if d < r.cfg.MinTimeout {
		return r.cfg.MinTimeout
	}
	if d > r.cfg.MaxTimeout {
		return r.cfg.MaxTimeout
	}
	return d
}

// Run executes the command and classifies the outcome as SpawnError,
// TimeoutError, ExecutionError, or success. On deadline the whole process
// group gets SIGKILL so descendants cannot outlive the request.
func (r *BoundedRunner) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Argv) == 0 {
		return Result{}, appErr.Newf(appErr.InvalidParams, "command is required")
	}
	timeout := r.ClampTimeout(req.Timeout)

	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(req.AllowNetwork, r.cfg.AllowedHosts)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: r.cfg.OutputMaxBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: r.cfg.OutputMaxBytes}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SpawnError, "start %s failed", req.Argv[0])
	}
	pid := cmd.Process.Pid

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		wallTimer := time.After(timeout)
		select {
		case <-ctx.Done():
			killProcessGroup(pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(pid)
			// The group kill usually suffices; the direct kill covers a
			// child that escaped the group via setsid.
			time.AfterFunc(killGraceAfterDeadline, func() { _ = cmd.Process.Kill() })
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(waitErr, cmd),
		Duration: time.Since(start),
	}

	if timedOut.Load() {
		logger.Warn(ctx, "process timed out",
			zap.Strings("argv", req.Argv),
			zap.Duration("timeout", timeout),
		)
		return res, appErr.Newf(appErr.TimeoutError, "execution exceeded %s timeout", timeout).
			WithDetail("timeout_seconds", timeout.Seconds())
	}
	if waitErr != nil || res.ExitCode != 0 {
		return res, appErr.Newf(appErr.ExecutionError, "process exited with code %d", res.ExitCode).
			WithDetail("stderr", FilterStderr(res.Stderr)).
			WithDetail("exit_code", res.ExitCode)
	}
	return res, nil
}

func exitCode(waitErr error, cmd *exec.Cmd) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// limitedWriter keeps the first limit bytes and drops the rest. Dropping
// instead of failing keeps a chatty process running to its exit code.
type limitedWriter struct {
	w     io.Writer
	limit int64
	n     int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.n
	if remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		if _, err := lw.w.Write(p[:remaining]); err != nil {
			return 0, err
		}
		lw.n = lw.limit
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.n += int64(n)
	return n, err
}
