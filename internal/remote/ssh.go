// Package remote runs commands and transfers files on hosts over SSH.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/models"
)

// Dialer opens SSH connections to hosts with the manager key.
type Dialer struct {
	signer          ssh.Signer
	hostKeyCallback ssh.HostKeyCallback
	connectTimeout  time.Duration
	commandTimeout  time.Duration
	retries         int
	log             logrus.FieldLogger
}

// NewDialer loads the private key and host key policy from cfg.
func NewDialer(cfg config.SSHConfig, retries int, log logrus.FieldLogger) (*Dialer, error) {
	keyPath := cfg.ExpandedKeyPath()
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", keyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // hosts are enrolled by IP without prior key exchange
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(os.ExpandEnv(cfg.KnownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &Dialer{
		signer:          signer,
		hostKeyCallback: hostKeyCallback,
		connectTimeout:  cfg.ConnectTimeout,
		commandTimeout:  cfg.CommandTimeout,
		retries:         retries,
		log:             log,
	}, nil
}

// Dial connects once, failing after timeout.
func (d *Dialer) Dial(ctx context.Context, ip string, creds models.SSHCredentials, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = d.connectTimeout
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(creds.Port))
	conf := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(d.signer)},
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         timeout,
	}

	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{ip: ip, conn: ssh.NewClient(c, chans, reqs), commandTimeout: d.commandTimeout}, nil
}

// DialRetry connects with exponential backoff, giving up after the
// configured number of retries or when ctx ends.
func (d *Dialer) DialRetry(ctx context.Context, ip string, creds models.SSHCredentials) (*Client, error) {
	var client *Client
	op := func() error {
		c, err := d.Dial(ctx, ip, creds, 0)
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(err)
			}
			d.log.WithFields(logrus.Fields{"ip": ip}).Debugf("ssh dial failed, retrying: %v", err)
			return err
		}
		client = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ip, err)
	}
	return client, nil
}

// Client is one SSH connection to a host.
type Client struct {
	ip             string
	conn           *ssh.Client
	commandTimeout time.Duration
}

// IP is the address the client is connected to.
func (c *Client) IP() string {
	return c.ip
}

// Run executes cmd and returns its standard output. A non-zero exit status
// is returned as an error carrying standard error.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session on %s: %w", c.ip, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := c.wait(ctx, session, func() error { return session.Run(cmd) }); err != nil {
		return stdout.String(), fmt.Errorf("%s on %s: %w: %s", cmd, c.ip, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// DialUnix opens a connection to a unix socket on the host.
func (c *Client) DialUnix(path string) (net.Conn, error) {
	return c.conn.Dial("unix", path)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// wait runs fn and closes the session when ctx ends or the command timeout
// passes first.
func (c *Client) wait(ctx context.Context, session *ssh.Session, fn func() error) error {
	if c.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.commandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return ctx.Err()
	}
}

// isAuthError reports a rejected key, which retrying cannot fix.
func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
