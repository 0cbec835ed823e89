package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"evalgo.org/chainmgr/internal/remote"
	"evalgo.org/chainmgr/models"
)

const dockerSocket = "/var/run/docker.sock"

// ClientManager manages Docker clients for the hosts of every chain.
// Each client talks to the remote Docker socket through an SSH connection;
// clients are created on first use and cached per host IP.
//
// Thread-safe for concurrent access.
type ClientManager struct {
	dialer  *remote.Dialer
	clients map[string]*hostClient
	mu      sync.RWMutex

	connecting singleflight.Group
	log        logrus.FieldLogger
}

type hostClient struct {
	docker *dockerclient.Client
	tunnel *remote.Client
}

func (h *hostClient) close() error {
	err := h.docker.Close()
	if tErr := h.tunnel.Close(); err == nil {
		err = tErr
	}
	return err
}

// NewClientManager creates a client manager dialing hosts with dialer.
func NewClientManager(dialer *remote.Dialer, log logrus.FieldLogger) *ClientManager {
	return &ClientManager{
		dialer:  dialer,
		clients: make(map[string]*hostClient),
		log:     log,
	}
}

// Get returns the Docker client of host, connecting when none is cached.
// Concurrent first calls for the same host share one connection attempt.
// The returned client must not be closed by the caller.
func (m *ClientManager) Get(ctx context.Context, host *models.Host) (*dockerclient.Client, error) {
	m.mu.RLock()
	hc, ok := m.clients[host.IP]
	m.mu.RUnlock()
	if ok {
		return hc.docker, nil
	}

	v, err, _ := m.connecting.Do(host.IP, func() (interface{}, error) {
		m.mu.RLock()
		hc, ok := m.clients[host.IP]
		m.mu.RUnlock()
		if ok {
			return hc.docker, nil
		}

		hc, err := m.connect(ctx, host)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.clients[host.IP] = hc
		m.mu.Unlock()
		m.log.WithField("ip", host.IP).Debug("docker client connected")
		return hc.docker, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dockerclient.Client), nil
}

func (m *ClientManager) connect(ctx context.Context, host *models.Host) (*hostClient, error) {
	tunnel, err := m.dialer.DialRetry(ctx, host.IP, host.Credentials())
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return tunnel.DialUnix(dockerSocket)
			},
		},
	}
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost("http://docker"),
		dockerclient.WithHTTPClient(httpClient),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		_ = tunnel.Close()
		return nil, fmt.Errorf("failed to create Docker client for host %s: %w", host.IP, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		_ = tunnel.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon on host %s: %w", host.IP, err)
	}

	return &hostClient{docker: cli, tunnel: tunnel}, nil
}

// Evict closes and forgets the client of ip so the next Get reconnects.
func (m *ClientManager) Evict(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hc, ok := m.clients[ip]; ok {
		_ = hc.close()
		delete(m.clients, ip)
	}
}

// Count returns the number of connected hosts.
func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.clients)
}

// Close closes all Docker clients and clears the manager.
func (m *ClientManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for ip, hc := range m.clients {
		if err := hc.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close client for host %s: %w", ip, err))
		}
	}
	m.clients = make(map[string]*hostClient)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing clients: %v", errs)
	}
	return nil
}
