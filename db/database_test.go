package db

import (
	"path/filepath"
	"testing"

	"factorio-server-manager/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigratesAllModels(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	for _, m := range AllModels() {
		assert.True(t, conn.Migrator().HasTable(m), "%T should be migrated", m)
	}
}

func TestGameReleaseRemotePathIsUnique(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	r := GameRelease{Version: "1.1.104", BuildFlavor: domain.BuildHeadless, Platform: domain.PlatformLinux64, RemotePath: "1.1.104/headless/linux64"}
	require.NoError(t, conn.Create(&r).Error)

	dup := r
	dup.ID = 0
	assert.Error(t, conn.Create(&dup).Error)
}

func TestGameReleaseInstalled(t *testing.T) {
	empty := ""
	path := "/data/bin/1.1.104"
	assert.False(t, GameRelease{}.Installed())
	assert.False(t, GameRelease{LocalInstallPath: &empty}.Installed())
	assert.True(t, GameRelease{LocalInstallPath: &path}.Installed())
}
