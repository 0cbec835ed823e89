package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/models"
)

func TestDefaultConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defaultConfig), 0o600))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5001, loaded.Server.Port)
	assert.Equal(t, 4, loaded.Deploy.MaxNodesPerHost)
	assert.Equal(t, "fiscoorg/fisco-webase", loaded.Deploy.ImageRepository)
}

func TestSettled(t *testing.T) {
	assert.False(t, settled(&models.Progress{Status: string(models.ChainDeploying)}))
	assert.False(t, settled(&models.Progress{Status: string(models.ChainUpgrading)}))
	assert.True(t, settled(&models.Progress{Status: string(models.ChainRunning)}))
	assert.True(t, settled(&models.Progress{Status: string(models.ChainPartial)}))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123456789abcdef", shortID("0123456789abcdef0123"))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"server"},
		{"chain", "deploy"},
		{"chain", "progress"},
		{"node", "add"},
		{"node", "delete"},
		{"node", "restart"},
		{"tag", "list"},
		{"token", "generate"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestStartTransition(t *testing.T) {
	defer func() { startBefore, startSuccess, startFailure = "", "", "" }()

	tr, err := startTransition()
	require.NoError(t, err)
	assert.True(t, tr.IsZero())

	startFailure = "stopped"
	tr, err = startTransition()
	require.NoError(t, err)
	assert.Equal(t, engine.RestartTransition, tr)

	startFailure = "sleeping"
	_, err = startTransition()
	assert.Error(t, err)

	startFailure = ""
	startSuccess = "deleted"
	_, err = startTransition()
	assert.Error(t, err)
}
