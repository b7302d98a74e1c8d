package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// DockerBackend starts one long-lived, security-hardened container per
// sandbox, running the shell/file/browser services as its entrypoint. It
// shells out to the docker CLI rather than linking the Docker Engine API,
// matching how this codebase drives every other external process.
type DockerBackend struct {
	mu           sync.Mutex
	builtImages  map[string]bool
}

// NewDockerBackend builds a backend ready to start containers.
func NewDockerBackend() *DockerBackend {
	return &DockerBackend{builtImages: make(map[string]bool)}
}

// Start runs `docker run -d` with the hardened flag set the spec requires:
// dropped capabilities, no-new-privileges, read-only root, a writable tmpfs
// for /tmp and /work, and dynamic host port publishing for every in-sandbox
// service. It returns the container ID and the resolved host port for each
// published service.
func (d *DockerBackend) Start(ctx context.Context, id string, cfg Config) (string, map[string]int, error) {
	if err := d.ensureImage(ctx, cfg.Image); err != nil {
		return "", nil, err
	}

	containerName := "taskengine-sandbox-" + id
	d.reapStale(ctx, containerName)

	args := []string{
		"run", "-d",
		"--name", containerName,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--read-only",
		"--tmpfs", "/tmp:rw,size=64m",
		"--tmpfs", fmt.Sprintf("/work:rw,size=%dm", cfg.WorkSizeMB),
		"--cpus", fmt.Sprintf("%.2f", cfg.CPULimit),
		"--memory", fmt.Sprintf("%dm", cfg.MemoryLimitMB),
		"--pids-limit", "256",
		"-p", "0:8081", // shell
		"-p", "0:8082", // file
		"-p", "0:9222", // browser (CDP)
	}
	if !cfg.NetworkEnabled {
		args = append(args, "--network", "none")
	}
	args = append(args, cfg.Image)

	out, err := runDocker(ctx, args...)
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w: %s", err, out)
	}
	containerID := strings.TrimSpace(out)
	if containerID == "" {
		return "", nil, fmt.Errorf("docker run returned empty container id")
	}

	ports, err := d.resolvePorts(ctx, containerID)
	if err != nil {
		_, _ = runDocker(context.Background(), "rm", "-f", containerID)
		return "", nil, err
	}
	return containerID, ports, nil
}

// Stop stops then removes the container, each bounded at 10 seconds by the
// caller's context. Stopping an already-removed container is tolerated.
func (d *DockerBackend) Stop(ctx context.Context, containerID string) error {
	if _, err := runDocker(ctx, "stop", "-t", "5", containerID); err != nil && !isNotFound(err) {
		return fmt.Errorf("docker stop: %w", err)
	}
	if _, err := runDocker(ctx, "rm", "-f", containerID); err != nil && !isNotFound(err) {
		return fmt.Errorf("docker rm: %w", err)
	}
	return nil
}

func (d *DockerBackend) ensureImage(ctx context.Context, image string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.builtImages[image] {
		return nil
	}
	if _, err := runDocker(ctx, "image", "inspect", image); err == nil {
		d.builtImages[image] = true
		return nil
	}
	if _, err := runDocker(ctx, "pull", image); err != nil {
		return fmt.Errorf("docker: image %q not present and pull failed: %w", image, err)
	}
	d.builtImages[image] = true
	return nil
}

// reapStale removes a leftover container from a previous, uncleanly
// terminated run under the same name so a retried create does not collide.
func (d *DockerBackend) reapStale(ctx context.Context, name string) {
	_, _ = runDocker(ctx, "rm", "-f", name)
}

func (d *DockerBackend) resolvePorts(ctx context.Context, containerID string) (map[string]int, error) {
	named := map[string]string{"shell": "8081/tcp", "file": "8082/tcp", "browser": "9222/tcp"}
	ports := make(map[string]int, len(named))
	for name, spec := range named {
		out, err := runDocker(ctx, "port", containerID, spec)
		if err != nil {
			return nil, fmt.Errorf("docker port %s: %w", spec, err)
		}
		port, err := parseHostPort(out)
		if err != nil {
			return nil, fmt.Errorf("docker port %s: %w", spec, err)
		}
		ports[name] = port
	}
	return ports, nil
}

// parseHostPort extracts the numeric port from `docker port` output, which
// looks like "0.0.0.0:54321\n[::]:54321\n".
func parseHostPort(dockerPortOutput string) (int, error) {
	lines := strings.Split(strings.TrimSpace(dockerPortOutput), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return 0, fmt.Errorf("no port binding reported")
	}
	idx := strings.LastIndex(lines[0], ":")
	if idx < 0 {
		return 0, fmt.Errorf("unexpected docker port output %q", lines[0])
	}
	return strconv.Atoi(lines[0][idx+1:])
}

func runDocker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "No such container")
}
