package sandbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
)

const codeFileName = "scrape.py"

// DockerExecutor runs generated extractor code in an isolated container.
// The container gets network access (the extractor must reach the target
// site) but no host credentials beyond the configured allow-list.
type DockerExecutor struct {
	client *client.Client
	config Config
}

// NewDockerExecutor creates a Docker-backed executor and verifies the
// daemon is reachable.
func NewDockerExecutor(config Config) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}

	return &DockerExecutor{client: cli, config: config}, nil
}

// Execute writes the code into a scratch directory, runs it inside the
// sandbox image, and captures streams, records, and artifacts. The scratch
// directory is removed on every exit path.
func (e *DockerExecutor) Execute(ctx context.Context, code string, timeout time.Duration) (ExecutionResult, error) {
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

	if err := os.WriteFile(filepath.Join(scratchDir, codeFileName), []byte(code), 0644); err != nil {
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

	if err := e.ensureImage(ctx, e.config.Image); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to ensure image %s: %w", e.config.Image, err)
	}

	containerConfig := &container.Config{
		Image:      e.config.Image,
		Cmd:        []string{"python", codeFileName},
		WorkingDir: "/workspace",
		User:       "1000:1000",
		Env:        append([]string{"HOME=/tmp"}, e.config.allowedEnviron()...),
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: scratchDir,
				Target: "/workspace",
			},
		},
		Resources: container.Resources{
			Memory:   parseMemory(e.config.Memory),
			NanoCPUs: parseCPU(e.config.CPU) * 1e9,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
			},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		// Chromium inside the image needs shared memory and a writable /tmp.
		ShmSize: 512 * 1024 * 1024,
		Tmpfs: map[string]string{
			"/tmp": "rw,nosuid,size=256m",
		},
	}

	start := time.Now()
	createResp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := createResp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.client.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := e.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = e.client.ContainerKill(killCtx, containerID, "SIGKILL")

		res := ExecutionResult{
			Success:  false,
			ExitCode: -1,
			TimedOut: true,
			Duration: time.Since(start),
			Error:    fmt.Sprintf("execution timed out after %s", timeout),
		}
		if collector != nil {
			res.Artifacts = collector.Collect(codeFileName)
		}
		return res, nil
	case err := <-errCh:
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	})
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	stdout, stderr := parseDockerLogs(logs)

	res := ExecutionResult{
		Success:  exitCode == 0,
		ExitCode: int(exitCode),
		Duration: time.Since(start),
	}
	var stdoutTrunc, stderrTrunc bool
	res.Stdout, stdoutTrunc = Truncate(stdout, e.config.OutputCap)
	res.Stderr, stderrTrunc = Truncate(stderr, e.config.OutputCap)
	res.Truncated = stdoutTrunc || stderrTrunc

	if res.Success {
		// Parse records from the untruncated stream so a large but valid
		// payload is not lost to the display cap.
		res.Records = ParseRecords(stdout)
	} else {
		res.Error = res.Stderr
		if res.Error == "" {
			res.Error = fmt.Sprintf("extractor exited with code %d", exitCode)
		}
	}
	if collector != nil {
		res.Artifacts = collector.Collect(codeFileName)
	}
	return res, nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (e *DockerExecutor) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := e.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	reader, err := e.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain the pull output (required for pull to complete).
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// parseDockerLogs separates stdout from stderr in the multiplexed container
// log stream. Each frame is [STREAM_TYPE (1)][RESERVED (3)][SIZE (4)][payload].
func parseDockerLogs(reader io.Reader) (stdout, stderr string) {
	var stdoutParts, stderrParts []string

	for {
		header := make([]byte, 8)
		n, err := io.ReadFull(reader, header)
		if n < 8 || err != nil {
			break
		}

		streamType := header[0]
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size <= 0 || size > 10*1024*1024 {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			break
		}

		content := strings.TrimSuffix(string(payload), "\n")
		switch streamType {
		case 1:
			stdoutParts = append(stdoutParts, content)
		case 2:
			stderrParts = append(stderrParts, content)
		}
	}

	return strings.Join(stdoutParts, "\n"), strings.Join(stderrParts, "\n")
}

// parseMemory parses a memory string (e.g. "1g", "512m") to bytes.
func parseMemory(memStr string) int64 {
	memStr = strings.ToLower(strings.TrimSpace(memStr))
	if memStr == "" {
		return 1024 * 1024 * 1024
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(memStr, "g"):
		multiplier = 1024 * 1024 * 1024
		memStr = strings.TrimSuffix(memStr, "g")
	case strings.HasSuffix(memStr, "m"):
		multiplier = 1024 * 1024
		memStr = strings.TrimSuffix(memStr, "m")
	case strings.HasSuffix(memStr, "k"):
		multiplier = 1024
		memStr = strings.TrimSuffix(memStr, "k")
	}

	var value int64
	fmt.Sscanf(memStr, "%d", &value)
	return value * multiplier
}

// parseCPU parses a CPU count string (e.g. "2") to a whole CPU count.
func parseCPU(cpuStr string) int64 {
	cpuStr = strings.TrimSpace(cpuStr)
	if cpuStr == "" {
		return 2
	}

	var value float64
	fmt.Sscanf(cpuStr, "%f", &value)
	if value <= 0 {
		return 2
	}
	return int64(value)
}
