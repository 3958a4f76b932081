package conductor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// DefaultContainerName is the Docker container name used for the conductor.
const DefaultContainerName = "happinstall-conductor"

// ErrNoImage is returned when a Container runtime has no image configured.
var ErrNoImage = errors.New("conductor container image is required")

// Container runs the conductor as a Docker container on the host network
// with the sandbox bind-mounted at the same path.
type Container struct {
	docker       client.APIClient
	image        string
	name         string
	readyTimeout time.Duration

	mu      sync.Mutex
	started bool
}

var _ Runtime = (*Container)(nil)

// ContainerOption configures a Container runtime.
type ContainerOption func(*Container)

func WithContainerName(name string) ContainerOption {
	return func(c *Container) {
		if strings.TrimSpace(name) != "" {
			c.name = name
		}
	}
}

func WithContainerReadyTimeout(d time.Duration) ContainerOption {
	return func(c *Container) { c.readyTimeout = d }
}

// NewContainer creates a Docker-based conductor runtime for img.
func NewContainer(docker client.APIClient, img string, opts ...ContainerOption) *Container {
	c := &Container{
		docker:       docker,
		image:        strings.TrimSpace(img),
		name:         DefaultContainerName,
		readyTimeout: DefaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start pulls the image if needed, creates and starts the container,
// then waits for the admin port.
func (c *Container) Start(ctx context.Context, configPath string, adminAddr netip.AddrPort) error {
	if c.image == "" {
		return ErrNoImage
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove any leftover container from a previous run.
	_ = c.removeContainer(ctx) // best-effort; may not exist

	if err := c.startContainer(ctx, configPath); err != nil {
		// Create may have succeeded before start failed.
		if rmErr := c.removeContainer(context.WithoutCancel(ctx)); rmErr != nil && !errdefs.IsNotFound(rmErr) {
			slog.Warn("Remove conductor container after failed start.", "name", c.name, "err", rmErr)
		}
		return fmt.Errorf("start conductor container: %w", err)
	}
	c.started = true

	if err := WaitReady(ctx, adminAddr, c.readyTimeout); err != nil {
		_ = c.removeContainer(ctx) // best-effort cleanup
		c.started = false
		return err
	}

	slog.Info("Conductor container started.", "name", c.name, "image", c.image)
	return nil
}

// Stop stops and removes the container.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false

	if err := c.docker.ContainerStop(ctx, c.name, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop conductor container: %w", err)
		}
	}
	if err := c.removeContainer(ctx); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove conductor container: %w", err)
		}
	}
	return nil
}

func containerConfig(img, configPath string) *container.Config {
	return &container.Config{
		Image: img,
		Cmd:   []string{DefaultBinary, "-c", configPath},
	}
}

func hostConfig(configPath string) *container.HostConfig {
	dir := filepath.Dir(configPath)
	return &container.HostConfig{
		NetworkMode: "host",
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dir,
				Target: dir,
			},
		},
	}
}

func (c *Container) startContainer(ctx context.Context, configPath string) error {
	containerCfg := containerConfig(c.image, configPath)
	hostCfg := hostConfig(configPath)

	_, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, c.name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create container: %w", err)
		}
		if err := c.pullImage(ctx); err != nil {
			return err
		}
		if _, err = c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, c.name); err != nil {
			return fmt.Errorf("create container after pull: %w", err)
		}
	}

	if err := c.docker.ContainerStart(ctx, c.name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

func (c *Container) pullImage(ctx context.Context) error {
	slog.Info("Pulling conductor image.", "image", c.image)
	resp, err := c.docker.ImagePull(ctx, c.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull conductor image: %w", err)
	}
	defer resp.Close()
	// Drain the pull output to completion.
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull conductor image: read response: %w", err)
	}
	return nil
}

func (c *Container) removeContainer(ctx context.Context) error {
	return c.docker.ContainerRemove(ctx, c.name, container.RemoveOptions{Force: true})
}
