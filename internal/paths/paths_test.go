package paths

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/chainmgr/internal/config"
)

func newTestService() *Service {
	s := New(afero.NewMemMapFs(), config.DeployConfig{NodesRoot: "/nodes", ArchiveRoot: "/archive"})
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestLayout(t *testing.T) {
	s := newTestService()

	assert.Equal(t, filepath.Join("/nodes", "chainA"), s.ChainRoot("chainA"))
	assert.Equal(t, filepath.Join("/nodes", "chainA", "10.0.0.1", "node2"), s.NodeRoot("chainA", "10.0.0.1", 2))
	assert.Equal(t, filepath.Join("/nodes", "chainA", "10.0.0.1", "node2", "conf"), s.NodeConfDir("chainA", "10.0.0.1", 2))
	assert.Equal(t, filepath.Join("/nodes", "chainA", "10.0.0.1", "sdk"), s.SDKDir("chainA", "10.0.0.1"))

	assert.Equal(t, "/opt/chainA/node1", s.RemoteNodeRoot("/opt", "chainA", 1))
	assert.Equal(t, "/opt/chainA/sdk", s.RemoteSDKDir("/opt", "chainA"))
	assert.Equal(t, "/opt/delete-tmp/chainA_node1_abc_1700000000", s.RemoteArchivePath("/opt", "chainA", 1, "abc"))
}

func TestArchiveNodeDirectory(t *testing.T) {
	s := newTestService()
	conf := s.NodeConfDir("chainA", "10.0.0.1", 0)
	require.NoError(t, s.fs.MkdirAll(conf, 0o755))
	require.NoError(t, afero.WriteFile(s.fs, filepath.Join(conf, "config.ini"), []byte("x"), 0o644))

	archived, err := s.ArchiveNodeDirectory("chainA", "10.0.0.1", 0, "abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/archive", "chainA", "10.0.0.1", "node0_abc_1700000000"), archived)

	exists, err := afero.DirExists(s.fs, s.NodeRoot("chainA", "10.0.0.1", 0))
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := afero.ReadFile(s.fs, filepath.Join(archived, "conf", "config.ini"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	require.NoError(t, s.RestoreNodeDirectory(archived, "chainA", "10.0.0.1", 0))
	exists, err = afero.DirExists(s.fs, s.NodeConfDir("chainA", "10.0.0.1", 0))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestArchiveMissingNodeIsNoop(t *testing.T) {
	s := newTestService()
	archived, err := s.ArchiveNodeDirectory("chainA", "10.0.0.1", 3, "abc")
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestArchiveRestorePurgeChain(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.fs.MkdirAll(s.SDKDir("chainA", "10.0.0.1"), 0o755))

	archived, err := s.ArchiveChain("chainA")
	require.NoError(t, err)
	require.NotEmpty(t, archived)

	exists, err := afero.DirExists(s.fs, s.ChainRoot("chainA"))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.RestoreChain("chainA", archived))
	exists, err = afero.DirExists(s.fs, s.SDKDir("chainA", "10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, exists)

	archived, err = s.ArchiveChain("chainA")
	require.NoError(t, err)
	require.NoError(t, s.PurgeArchivedChain(archived))
	exists, err = afero.DirExists(s.fs, archived)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestArchiveChainWithoutFiles(t *testing.T) {
	s := newTestService()
	archived, err := s.ArchiveChain("ghost")
	require.NoError(t, err)
	assert.Empty(t, archived)
}
