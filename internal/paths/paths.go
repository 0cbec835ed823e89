// Package paths maps chain, host and node identifiers to canonical
// locations on the manager and on remote hosts.
//
// Manager layout:
//
//	<nodesRoot>/<chain>/<ip>/node<i>/conf/...
//	<nodesRoot>/<chain>/<ip>/sdk/...
//	<archiveRoot>/<chain>/<ip>/node<i>_<nodeId>_<unix>
//	<archiveRoot>/<chain>_<unix>
//
// Remote layout:
//
//	<rootDir>/<chain>/node<i>
//	<rootDir>/<chain>/sdk
//	<rootDir>/<deleteDir>/<chain>_node<i>_<nodeId>_<unix>
package paths

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/models"
)

const (
	confDirName = "conf"
	sdkDirName  = "sdk"
)

// Service resolves paths and moves directories aside on the manager filesystem.
type Service struct {
	fs          afero.Fs
	nodesRoot   string
	archiveRoot string
	deleteDir   string
	now         func() time.Time
}

// New creates a path service over fs.
func New(fs afero.Fs, cfg config.DeployConfig) *Service {
	deleteDir := cfg.RemoteDeleteDir
	if deleteDir == "" {
		deleteDir = "delete-tmp"
	}
	return &Service{
		fs:          fs,
		nodesRoot:   cfg.NodesRoot,
		archiveRoot: cfg.ArchiveRoot,
		deleteDir:   deleteDir,
		now:         time.Now,
	}
}

// Fs returns the filesystem the service operates on.
func (s *Service) Fs() afero.Fs {
	return s.fs
}

// ChainRoot is the manager directory holding every file of a chain.
func (s *Service) ChainRoot(chain string) string {
	return filepath.Join(s.nodesRoot, chain)
}

// HostRoot is the manager directory of one host of a chain.
func (s *Service) HostRoot(chain, ip string) string {
	return filepath.Join(s.nodesRoot, chain, ip)
}

// NodeRoot is the manager directory of the node in the given host slot.
func (s *Service) NodeRoot(chain, ip string, hostIndex int) string {
	return filepath.Join(s.HostRoot(chain, ip), models.NodeDirName(hostIndex))
}

// NodeConfDir holds the generated configuration of a node.
func (s *Service) NodeConfDir(chain, ip string, hostIndex int) string {
	return filepath.Join(s.NodeRoot(chain, ip, hostIndex), confDirName)
}

// SDKDir holds the SDK bundle of a host.
func (s *Service) SDKDir(chain, ip string) string {
	return filepath.Join(s.HostRoot(chain, ip), sdkDirName)
}

// ArchiveNodeDirectory moves a node directory out of the chain tree so it
// can be recovered by hand. It returns the archive path, or "" when the node
// directory does not exist.
func (s *Service) ArchiveNodeDirectory(chain, ip string, hostIndex int, nodeID string) (string, error) {
	src := s.NodeRoot(chain, ip, hostIndex)
	if ok, err := afero.DirExists(s.fs, src); err != nil || !ok {
		return "", err
	}

	dstDir := filepath.Join(s.archiveRoot, chain, ip)
	if err := s.fs.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory %s: %w", dstDir, err)
	}
	dst := filepath.Join(dstDir, fmt.Sprintf("%s_%s_%d", models.NodeDirName(hostIndex), nodeID, s.now().Unix()))
	if err := s.fs.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return dst, nil
}

// RestoreNodeDirectory moves an archived node directory back into place.
func (s *Service) RestoreNodeDirectory(archived, chain, ip string, hostIndex int) error {
	if archived == "" {
		return nil
	}
	return s.fs.Rename(archived, s.NodeRoot(chain, ip, hostIndex))
}

// ArchiveChain moves the whole chain tree aside and returns where it went,
// or "" when the chain has no files.
func (s *Service) ArchiveChain(chain string) (string, error) {
	src := s.ChainRoot(chain)
	if _, err := s.fs.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if err := s.fs.MkdirAll(s.archiveRoot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive root %s: %w", s.archiveRoot, err)
	}
	dst := filepath.Join(s.archiveRoot, fmt.Sprintf("%s_%d", chain, s.now().UnixNano()))
	if err := s.fs.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return dst, nil
}

// RestoreChain undoes ArchiveChain.
func (s *Service) RestoreChain(chain, archived string) error {
	if archived == "" {
		return nil
	}
	return s.fs.Rename(archived, s.ChainRoot(chain))
}

// PurgeArchivedChain removes a chain tree previously moved aside.
func (s *Service) PurgeArchivedChain(archived string) error {
	if archived == "" {
		return nil
	}
	return s.fs.RemoveAll(archived)
}

// RemoteChainRoot is the chain directory on a host.
func (s *Service) RemoteChainRoot(rootDir, chain string) string {
	return path.Join(rootDir, chain)
}

// RemoteNodeRoot is the node directory on a host.
func (s *Service) RemoteNodeRoot(rootDir, chain string, hostIndex int) string {
	return path.Join(rootDir, chain, models.NodeDirName(hostIndex))
}

// RemoteSDKDir is the SDK directory on a host.
func (s *Service) RemoteSDKDir(rootDir, chain string) string {
	return path.Join(rootDir, chain, sdkDirName)
}

// RemoteArchivePath is where a deleted node directory is moved on its host.
func (s *Service) RemoteArchivePath(rootDir, chain string, hostIndex int, nodeID string) string {
	name := fmt.Sprintf("%s_%s_%s_%d", chain, models.NodeDirName(hostIndex), nodeID, s.now().Unix())
	return path.Join(rootDir, s.deleteDir, name)
}

// RemoteChainArchivePath is where a deleted chain directory is moved on a host.
func (s *Service) RemoteChainArchivePath(rootDir, chain string) string {
	return path.Join(rootDir, s.deleteDir, fmt.Sprintf("%s_%d", chain, s.now().Unix()))
}
