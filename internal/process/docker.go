package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
)

// DockerFactory launches worker containers as local Docker containers by
// shelling out to the docker CLI, following ar-siddiqui-sepex's DockerJob
// lifecycle (Create/Run/Close) from the retrieval pack -- no Docker Engine
// SDK appears anywhere in the corpus as a real dependency (see DESIGN.md).
type DockerFactory struct {
	workspaceMount string
	localMount     string
	network        string
	log            logr.Logger
}

// NewDockerFactory builds a DockerFactory. workspaceMount/localMount are the
// host-side paths bind-mounted into every container (WORKSPACE_DOCKER_MOUNT
// / LOCAL_DOCKER_MOUNT).
func NewDockerFactory(workspaceMount, localMount, network string, log logr.Logger) *DockerFactory {
	return &DockerFactory{workspaceMount: workspaceMount, localMount: localMount, network: network, log: log}
}

func (f *DockerFactory) Create(ctx context.Context, spec Spec) (Process, error) {
	if _, err := name.ParseReference(spec.ImageName); err != nil {
		return nil, fmt.Errorf("process: invalid image reference %q: %w", spec.ImageName, err)
	}

	if err := os.MkdirAll(spec.JobRoot, 0o755); err != nil {
		return nil, fmt.Errorf("process: mkdir workspace %s: %w", spec.JobRoot, err)
	}
	for fname, contents := range spec.Files {
		if err := os.WriteFile(filepath.Join(spec.JobRoot, fname), contents, 0o644); err != nil {
			return nil, fmt.Errorf("process: stage file %s: %w", fname, err)
		}
	}

	args := []string{"run", "--rm",
		"--name", spec.ContainerName(),
		"--network", f.network,
		"-v", fmt.Sprintf("%s:/workspace", f.workspaceMount),
		"-v", fmt.Sprintf("%s:/local", f.localMount),
	}
	if spec.Entrypoint != "" {
		args = append(args, "--entrypoint", spec.Entrypoint)
	}
	if spec.UsesStdin {
		args = append(args, "-i")
	}
	args = append(args, spec.ImageName)
	args = append(args, spec.Args...)

	cmd := exec.CommandContext(ctx, "docker", args...)

	p := &dockerProcess{cmd: cmd, log: f.log}
	var err error
	if spec.UsesStdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, err
		}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: docker run: %w", err)
	}
	p.alive.Store(true)
	return p, nil
}

func (f *DockerFactory) Close() error { return nil }

type dockerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	log    logr.Logger

	mu      sync.Mutex
	waited  bool
	waitErr error
	alive   atomic.Bool
}

func (p *dockerProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *dockerProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *dockerProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *dockerProcess) IsAlive() bool         { return p.alive.Load() }

func (p *dockerProcess) WaitFor(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waited {
		return p.waitErr
	}
	done := make(chan struct{})
	go func() {
		p.waitErr = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-done
		p.waitErr = ctx.Err()
	case <-done:
	}
	p.waited = true
	p.alive.Store(false)
	return p.waitErr
}

func (p *dockerProcess) ExitValue() (int, error) {
	if !p.waited {
		return 0, fmt.Errorf("process: ExitValue called before WaitFor completed")
	}
	if p.cmd.ProcessState == nil {
		return -1, p.waitErr
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

func (p *dockerProcess) Destroy(ctx context.Context) error {
	rm := exec.CommandContext(ctx, "docker", "rm", "-f", containerNameFromArgs(p.cmd.Args))
	return rm.Run()
}

func containerNameFromArgs(args []string) string {
	for i, a := range args {
		if a == "--name" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

