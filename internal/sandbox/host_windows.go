//go:build windows

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// HostExecutor runs generated code directly on the host with no isolation.
// Development fallback only. Windows has no process groups to kill, so a
// timeout only terminates the interpreter itself.
type HostExecutor struct {
	config Config
}

// NewHostExecutor creates a host-based executor.
func NewHostExecutor(config Config) *HostExecutor {
	return &HostExecutor{config: config}
}

func (e *HostExecutor) Execute(ctx context.Context, code string, timeout time.Duration) (ExecutionResult, error) {
	if timeout <= 0 {
		if e.config.ExecTimeout > 0 {
			timeout = e.config.ExecTimeout
		} else {
			timeout = defaultExecTimeout
		}
	}

	scratchDir, err := os.MkdirTemp("", "scout-run-")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	codePath := filepath.Join(scratchDir, codeFileName)
	if err := os.WriteFile(codePath, []byte(code), 0644); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to write code file: %w", err)
	}

	var collector *artifactCollector
	if e.config.ArtifactDir != "" {
		collector, err = newArtifactCollector(scratchDir, e.config.ArtifactDir)
		if err != nil {
			log.Printf("WARNING: artifact collection disabled: %v", err)
			collector = nil
		}
	}

	interpreter := e.config.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(interpreter, codeFileName)
	cmd.Dir = scratchDir
	cmd.Env = append([]string{"HOME=" + scratchDir, "PATH=" + os.Getenv("PATH")}, e.config.allowedEnviron()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to start interpreter: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timedOut := false
	select {
	case <-execCtx.Done():
		timedOut = true
		_ = cmd.Process.Kill()
		<-waitCh
	case <-waitCh:
	}

	res := ExecutionResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		TimedOut: timedOut,
		Duration: time.Since(start),
	}
	res.Success = !timedOut && res.ExitCode == 0

	var stdoutTrunc, stderrTrunc bool
	res.Stdout, stdoutTrunc = Truncate(stdout.String(), e.config.OutputCap)
	res.Stderr, stderrTrunc = Truncate(stderr.String(), e.config.OutputCap)
	res.Truncated = stdoutTrunc || stderrTrunc

	switch {
	case timedOut:
		res.Error = fmt.Sprintf("execution timed out after %s", timeout)
	case res.Success:
		res.Records = ParseRecords(stdout.String())
	default:
		res.Error = res.Stderr
		if res.Error == "" {
			res.Error = fmt.Sprintf("extractor exited with code %d", res.ExitCode)
		}
	}
	if collector != nil {
		res.Artifacts = collector.Collect(codeFileName)
	}
	return res, nil
}
