package remote

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/chainmgr/internal/paths"
	"evalgo.org/chainmgr/models"
)

// ImageMissingError lists hosts that lack the node image.
type ImageMissingError struct {
	Image string
	IPs   []string
}

func (e *ImageMissingError) Error() string {
	return fmt.Sprintf("image %s is missing on %s", e.Image, strings.Join(e.IPs, ", "))
}

// Provisioner checks hosts and pushes generated files to them.
type Provisioner struct {
	dialer          *Dialer
	paths           *paths.Service
	imageRepository string
	log             logrus.FieldLogger
}

// NewProvisioner creates a provisioner pushing files laid out by p.
func NewProvisioner(dialer *Dialer, p *paths.Service, imageRepository string, log logrus.FieldLogger) *Provisioner {
	return &Provisioner{dialer: dialer, paths: p, imageRepository: imageRepository, log: log}
}

// CheckReachable opens and closes an SSH connection within timeout.
func (p *Provisioner) CheckReachable(ctx context.Context, ip string, creds models.SSHCredentials, timeout time.Duration) error {
	c, err := p.dialer.Dial(ctx, ip, creds, timeout)
	if err != nil {
		return err
	}
	return c.Close()
}

// CheckImagePresent verifies every host already holds the image of version.
// Hosts that cannot be reached count as missing.
func (p *Provisioner) CheckImagePresent(ctx context.Context, ips []string, creds models.SSHCredentials, version string) error {
	image := models.ImageName(p.imageRepository, version)
	missing := &ImageMissingError{Image: image}

	for _, ip := range ips {
		c, err := p.dialer.Dial(ctx, ip, creds, 0)
		if err != nil {
			p.log.WithField("ip", ip).Warnf("image check could not connect: %v", err)
			missing.IPs = append(missing.IPs, ip)
			continue
		}
		_, err = c.Run(ctx, "docker image inspect "+shellQuote(image)+" > /dev/null")
		_ = c.Close()
		if err != nil {
			missing.IPs = append(missing.IPs, ip)
		}
	}

	if len(missing.IPs) > 0 {
		return missing
	}
	return nil
}

// PushHostBundle copies the SDK bundle of host to it.
func (p *Provisioner) PushHostBundle(ctx context.Context, chain *models.Chain, host *models.Host) error {
	return p.withClient(ctx, host, func(c *Client) error {
		return c.Upload(ctx, p.paths.Fs(), p.paths.SDKDir(chain.Name, host.IP), p.paths.RemoteSDKDir(host.RootDir, chain.Name))
	})
}

// PushNodeConfig copies the directory of the node in hostIndex to host.
func (p *Provisioner) PushNodeConfig(ctx context.Context, chain *models.Chain, host *models.Host, hostIndex int) error {
	return p.withClient(ctx, host, func(c *Client) error {
		return c.Upload(ctx, p.paths.Fs(),
			p.paths.NodeRoot(chain.Name, host.IP, hostIndex),
			p.paths.RemoteNodeRoot(host.RootDir, chain.Name, hostIndex))
	})
}

// MoveNodeAside moves a node directory on host into its delete directory.
// A missing node directory is not an error.
func (p *Provisioner) MoveNodeAside(ctx context.Context, chainName string, host *models.Host, hostIndex int, nodeID string) error {
	src := p.paths.RemoteNodeRoot(host.RootDir, chainName, hostIndex)
	dst := p.paths.RemoteArchivePath(host.RootDir, chainName, hostIndex, nodeID)
	return p.withClient(ctx, host, func(c *Client) error {
		_, err := c.Run(ctx, moveAsideCommand(src, dst))
		return err
	})
}

// MoveChainAside moves the whole chain directory on host into its delete
// directory.
func (p *Provisioner) MoveChainAside(ctx context.Context, chainName string, host *models.Host) error {
	src := p.paths.RemoteChainRoot(host.RootDir, chainName)
	dst := p.paths.RemoteChainArchivePath(host.RootDir, chainName)
	return p.withClient(ctx, host, func(c *Client) error {
		_, err := c.Run(ctx, moveAsideCommand(src, dst))
		return err
	})
}

func (p *Provisioner) withClient(ctx context.Context, host *models.Host, fn func(c *Client) error) error {
	c, err := p.dialer.DialRetry(ctx, host.IP, host.Credentials())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func moveAsideCommand(src, dst string) string {
	return fmt.Sprintf("if [ -d %s ]; then mkdir -p %s && mv %s %s; fi",
		shellQuote(src), shellQuote(path.Dir(dst)), shellQuote(src), shellQuote(dst))
}
