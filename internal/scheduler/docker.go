package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerAPI is the subset of the Docker client the scheduler uses.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// NewDockerClient creates a Docker client and validates the daemon is accessible.
func NewDockerClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf(`Docker daemon not accessible: %w

Ensure Docker is running:
  • macOS: Docker Desktop
  • Linux: sudo systemctl start docker`, err)
	}

	return cli, nil
}

// Docker runs each job as a detached container of the worker image. The
// host run directory is bind-mounted at the same path inside the
// container, so config, snapshot and hiscore paths need no translation.
type Docker struct {
	cli     ContainerAPI
	image   string
	network string
	hostDir string
	env     []string
}

// NewDocker creates a docker scheduler.
func NewDocker(cli ContainerAPI, image, network, hostDir string, env []string) *Docker {
	return &Docker{cli: cli, image: image, network: network, hostDir: hostDir, env: env}
}

// Submit creates and starts the job's container.
func (d *Docker) Submit(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if !strings.HasPrefix(job.ConfigPath, d.hostDir) {
		return fmt.Errorf("config %s is outside the mounted directory %s", job.ConfigPath, d.hostDir)
	}

	containerName := ContainerName(job.RunName, job.RunID, job.Name)
	labels := BuildLabels(job.RunName, job.RunID, job.Name, "walker")
	labels[LabelWorkers] = strings.Join(job.Workers, ",")

	containerConfig := &container.Config{
		Image:      d.image,
		Env:        append(append([]string{}, d.env...), job.Env().Environ()...),
		Labels:     labels,
		WorkingDir: d.hostDir,
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: d.hostDir,
			Target: d.hostDir,
		}},
	}
	if d.network != "" {
		hostConfig.NetworkMode = container.NetworkMode(d.network)
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create container for job %s: %w", job.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Cleanup on start failure
		d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container for job %s: %w", job.Name, err)
	}

	log.Printf("[Scheduler] Started container %s (%s) for workers %s",
		containerName, shortContainerID(resp.ID), strings.Join(job.Workers, ","))
	return nil
}

// Wait returns immediately: containers outlive the submitting process.
func (d *Docker) Wait() error {
	return nil
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
