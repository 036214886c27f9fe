package sandbox

import (
	"context"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Mode represents the sandbox execution backend.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs the interpreter directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto selects Docker if available, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

const (
	defaultExecTimeout = 5 * time.Minute
	defaultOutputCap   = 64 * 1024
	defaultImage       = "scout-crawler:latest"
)

// Config holds sandbox execution settings.
type Config struct {
	Mode        Mode
	Image       string        // Docker image with the crawling toolchain
	Interpreter string        // Host-mode interpreter (default "python3")
	CPU         string        // CPU limit (e.g. "2")
	Memory      string        // Memory limit (e.g. "1g")
	ExecTimeout time.Duration // Default execution timeout (0 = use default)
	OutputCap   int           // Max bytes kept per captured stream
	// AllowedEnv names the only environment variables forwarded into the
	// sandbox. Everything else is withheld.
	AllowedEnv []string
	// ArtifactDir receives screenshots and logs the generated code left in
	// its scratch directory. Empty means artifacts are discarded.
	ArtifactDir string
}

// DefaultConfig reads the sandbox configuration from environment variables.
func DefaultConfig() Config {
	modeStr := strings.ToLower(os.Getenv("SCOUT_SANDBOX_MODE"))
	if modeStr == "" {
		modeStr = "auto"
	}

	var mode Mode
	switch modeStr {
	case "docker":
		mode = ModeDocker
	case "host":
		mode = ModeHost
	case "auto":
		mode = ModeAuto
	default:
		log.Printf("WARNING: Unknown SCOUT_SANDBOX_MODE value '%s', defaulting to 'auto'", modeStr)
		mode = ModeAuto
	}

	execTimeout := defaultExecTimeout
	if timeoutStr := os.Getenv("SCOUT_EXEC_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			execTimeout = d
		} else {
			log.Printf("WARNING: Invalid SCOUT_EXEC_TIMEOUT value '%s', using default 5m", timeoutStr)
		}
	}

	var allowed []string
	if envList := os.Getenv("SCOUT_SANDBOX_ENV"); envList != "" {
		for _, name := range strings.Split(envList, ",") {
			if name = strings.TrimSpace(name); name != "" {
				allowed = append(allowed, name)
			}
		}
	}

	return Config{
		Mode:        mode,
		Image:       getEnvOrDefault("SCOUT_SANDBOX_IMAGE", defaultImage),
		Interpreter: getEnvOrDefault("SCOUT_SANDBOX_INTERPRETER", "python3"),
		CPU:         getEnvOrDefault("SCOUT_SANDBOX_CPU", "2"),
		Memory:      getEnvOrDefault("SCOUT_SANDBOX_MEMORY", "1g"),
		ExecTimeout: execTimeout,
		OutputCap:   defaultOutputCap,
		AllowedEnv:  allowed,
		ArtifactDir: os.Getenv("SCOUT_ARTIFACT_DIR"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// allowedEnviron resolves the allow-list against the host environment.
func (c Config) allowedEnviron() []string {
	var env []string
	for _, name := range c.AllowedEnv {
		if val, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+val)
		}
	}
	return env
}

// IsDockerAvailable checks whether the Docker daemon is reachable.
func IsDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "ps")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// NewDefaultExecutor builds an executor per configuration and Docker
// availability, mirroring SCOUT_SANDBOX_MODE:
// - "docker": Docker (falls back to host with a warning if unavailable)
// - "host": host subprocess (no isolation)
// - "auto": Docker when available, otherwise host
func NewDefaultExecutor() Executor {
	config := DefaultConfig()
	ctx := context.Background()

	switch config.Mode {
	case ModeDocker:
		if !IsDockerAvailable(ctx) {
			log.Printf("WARNING: Docker mode requested but Docker is not available. Falling back to host executor.")
			return &HostExecutor{config: config}
		}
		dockerExec, err := NewDockerExecutor(config)
		if err != nil {
			log.Printf("WARNING: Failed to create Docker executor: %v. Falling back to host executor.", err)
			return &HostExecutor{config: config}
		}
		return dockerExec

	case ModeHost:
		log.Printf("WARNING: Using host executor (no sandboxing). This is insecure and should only be used for development.")
		return &HostExecutor{config: config}

	default: // ModeAuto
		if IsDockerAvailable(ctx) {
			dockerExec, err := NewDockerExecutor(config)
			if err == nil {
				return dockerExec
			}
			log.Printf("WARNING: Docker available but failed to create executor: %v. Falling back to host executor.", err)
		} else {
			log.Printf("WARNING: Docker not available. Using host executor (no sandboxing). This is insecure.")
		}
		return &HostExecutor{config: config}
	}
}
