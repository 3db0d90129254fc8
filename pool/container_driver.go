package pool

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	apxerrors "browserfleet/errors"
	"browserfleet/executor"
)

// ContainerDriver is the secondary/legacy Driver, launching standalone
// browser containers via the Docker engine API, selectable by
// config.Pool.Driver = "container". Adapted from
// services/browser_pool/manager.go's createBrowserContainer/
// waitForReady/isHealthy/destroyContainer — the container-per-instance
// model, generalized behind the same Driver interface the Playwright
// driver satisfies so the pool's state machine is driver-agnostic.
type ContainerDriver struct {
	docker *client.Client
	image  string
	statusPort string
}

// NewContainerDriver connects to the local Docker engine.
func NewContainerDriver(image string) (*ContainerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "connecting to docker", err)
	}
	if image == "" {
		image = "seleniarm/standalone-chromium:latest"
	}
	return &ContainerDriver{docker: cli, image: image, statusPort: "4444"}, nil
}

type containerHandle struct {
	id          string
	containerID string
	hostPort    string
}

func (h *containerHandle) ID() string { return h.id }

// Launch creates and starts a browser container with memory/CPU
// limits and waits for its status endpoint to respond, mirroring
// manager.go's createBrowserContainer + waitForReady.
func (d *ContainerDriver) Launch(ctx context.Context, configKey string) (Handle, error) {
	resp, err := d.docker.ContainerCreate(ctx, &container.Config{
		Image: d.image,
		ExposedPorts: nil,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:   1 << 30, // 1GiB
			NanoCPUs: 1_000_000_000,
		},
		PublishAllPorts: true,
	}, nil, nil, "")
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "creating browser container", err)
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "starting browser container", err)
	}

	inspect, err := d.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "inspecting browser container", err)
	}
	hostPort := ""
	for _, bindings := range inspect.NetworkSettings.Ports {
		if len(bindings) > 0 {
			hostPort = bindings[0].HostPort
			break
		}
	}

	h := &containerHandle{id: uuid.NewString(), containerID: resp.ID, hostPort: hostPort}
	if err := d.waitForReady(ctx, h); err != nil {
		_ = d.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, err
	}
	return h, nil
}

func (d *ContainerDriver) waitForReady(ctx context.Context, h *containerHandle) error {
	url := fmt.Sprintf("http://localhost:%s/status", h.hostPort)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return apxerrors.Wrap(apxerrors.Internal, "container readiness wait canceled", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
	return apxerrors.New(apxerrors.Internal, "container did not become ready in time")
}

func (d *ContainerDriver) HealthCheck(ctx context.Context, h Handle) error {
	handle, ok := h.(*containerHandle)
	if !ok {
		return apxerrors.New(apxerrors.Internal, "wrong handle type")
	}
	inspect, err := d.docker.ContainerInspect(ctx, handle.containerID)
	if err != nil {
		return apxerrors.Wrap(apxerrors.BrowserCrashed, "inspecting container", err)
	}
	if !inspect.State.Running {
		return apxerrors.New(apxerrors.BrowserCrashed, "container not running")
	}
	return nil
}

func (d *ContainerDriver) Terminate(ctx context.Context, h Handle) error {
	handle, ok := h.(*containerHandle)
	if !ok {
		return apxerrors.New(apxerrors.Internal, "wrong handle type")
	}
	if err := d.docker.ContainerRemove(ctx, handle.containerID, container.RemoveOptions{Force: true}); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "removing container", err)
	}
	return nil
}

// NewPage is not supported at the container-driver level: the
// container exposes a remote WebDriver endpoint, and page management
// happens through that protocol rather than an in-process handle.
func (d *ContainerDriver) NewPage(ctx context.Context, h Handle) (PageHandle, error) {
	return nil, apxerrors.New(apxerrors.Internal, "container driver pages are managed via its WebDriver endpoint, not NewPage")
}

// WrapPage has no PageHandle to wrap since NewPage never produces
// one; remote WebDriver page control is out of scope for this driver.
func (d *ContainerDriver) WrapPage(h PageHandle) (executor.PageDriver, error) {
	return nil, apxerrors.New(apxerrors.Internal, "container driver pages are managed via its WebDriver endpoint")
}

// Endpoint returns the container's published WebDriver endpoint, for
// whichever remote-driver client the executor binds to it.
func Endpoint(h Handle) (string, error) {
	ch, ok := h.(*containerHandle)
	if !ok {
		return "", fmt.Errorf("not a container handle")
	}
	return fmt.Sprintf("http://localhost:%s", ch.hostPort), nil
}
