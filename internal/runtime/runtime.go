// Package runtime drives node containers on hosts through the Docker API.
package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"

	"evalgo.org/chainmgr/internal/paths"
	"evalgo.org/chainmgr/models"
)

// Container labels set on every node container.
const (
	LabelChain  = "org.chainmgr.chain"
	LabelNodeID = "org.chainmgr.node-id"
)

const (
	nodeDataDir        = "/data"
	defaultStopTimeout = 10
)

// Runtime installs and controls node containers.
type Runtime struct {
	clients    *ClientManager
	paths      *paths.Service
	repository string
	log        logrus.FieldLogger
}

// New creates a runtime using the node image repository.
func New(clients *ClientManager, p *paths.Service, repository string, log logrus.FieldLogger) *Runtime {
	return &Runtime{clients: clients, paths: p, repository: repository, log: log}
}

// Install (re)creates the container of front from the image of version.
// An existing container with the same name is replaced. The image is pulled
// first when the chain pulls images itself.
func (r *Runtime) Install(ctx context.Context, chain *models.Chain, host *models.Host, front *models.Front, version string) error {
	cli, err := r.client(ctx, host)
	if err != nil {
		return err
	}

	imageName := models.ImageName(r.repository, version)
	if chain.ImageSource.SelfProvisions() {
		if err := r.pullImage(ctx, cli, imageName); err != nil {
			return err
		}
	}

	name := models.ContainerName(chain.Name, front.HostIndex)
	if err := cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove old container %s: %w", name, err)
	}

	containerConfig, hostConfig, err := r.nodeConfig(chain, host, front, imageName)
	if err != nil {
		return err
	}
	if _, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, name); err != nil {
		return fmt.Errorf("failed to create container %s on %s: %w", name, host.IP, err)
	}
	r.log.WithFields(logrus.Fields{"ip": host.IP, "container": name, "image": imageName}).Info("container installed")
	return nil
}

// Start starts the container of the node in hostIndex.
func (r *Runtime) Start(ctx context.Context, chainName string, host *models.Host, hostIndex int) error {
	cli, err := r.client(ctx, host)
	if err != nil {
		return err
	}
	name := models.ContainerName(chainName, hostIndex)
	if err := cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s on %s: %w", name, host.IP, err)
	}
	return nil
}

// Stop stops the container of the node in hostIndex. A missing container
// counts as stopped.
func (r *Runtime) Stop(ctx context.Context, chainName string, host *models.Host, hostIndex int) error {
	cli, err := r.client(ctx, host)
	if err != nil {
		return err
	}
	name := models.ContainerName(chainName, hostIndex)
	timeout := defaultStopTimeout
	if err := cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s on %s: %w", name, host.IP, err)
	}
	return nil
}

// Restart restarts the container of the node in hostIndex.
func (r *Runtime) Restart(ctx context.Context, chainName string, host *models.Host, hostIndex int) error {
	cli, err := r.client(ctx, host)
	if err != nil {
		return err
	}
	name := models.ContainerName(chainName, hostIndex)
	timeout := defaultStopTimeout
	if err := cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container %s on %s: %w", name, host.IP, err)
	}
	return nil
}

// Remove force-removes the container of the node in hostIndex.
func (r *Runtime) Remove(ctx context.Context, chainName string, host *models.Host, hostIndex int) error {
	cli, err := r.client(ctx, host)
	if err != nil {
		return err
	}
	name := models.ContainerName(chainName, hostIndex)
	if err := cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s on %s: %w", name, host.IP, err)
	}
	return nil
}

// ImagePresent reports whether host holds the image of version.
func (r *Runtime) ImagePresent(ctx context.Context, host *models.Host, version string) (bool, error) {
	cli, err := r.client(ctx, host)
	if err != nil {
		return false, err
	}
	if _, err := cli.ImageInspect(ctx, models.ImageName(r.repository, version)); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Runtime) client(ctx context.Context, host *models.Host) (*dockerclient.Client, error) {
	cli, err := r.clients.Get(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("no Docker connection to %s: %w", host.IP, err)
	}
	return cli, nil
}

// pullImage pulls imageName unless the host already has it.
func (r *Runtime) pullImage(ctx context.Context, cli *dockerclient.Client, imageName string) error {
	if _, err := cli.ImageInspect(ctx, imageName); err == nil {
		return nil
	}
	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	// Consume pull output to ensure pull completes
	_, err = io.Copy(io.Discard, reader)
	return err
}

// nodeConfig builds the Docker configuration of a node container.
func (r *Runtime) nodeConfig(chain *models.Chain, host *models.Host, front *models.Front, imageName string) (*container.Config, *container.HostConfig, error) {
	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)

	ports := front.Ports()
	for _, p := range []int{ports.P2P, ports.Channel, ports.RPC, ports.Front} {
		natPort, err := nat.NewPort("tcp", strconv.Itoa(p))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port: %w", err)
		}
		exposedPorts[natPort] = struct{}{}
		portBindings[natPort] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(p)}}
	}

	containerConfig := &container.Config{
		Image:        imageName,
		WorkingDir:   nodeDataDir,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			LabelChain:  chain.Name,
			LabelNodeID: front.NodeID,
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings:  portBindings,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Binds: []string{
			fmt.Sprintf("%s:%s", r.paths.RemoteNodeRoot(host.RootDir, chain.Name, front.HostIndex), nodeDataDir),
		},
	}
	return containerConfig, hostConfig, nil
}
