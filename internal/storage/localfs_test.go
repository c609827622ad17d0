package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(name string) func(string) (string, error) {
	return func(string) (string, error) { return name, nil }
}

func TestCheckLocalFilesystemAllowsLocal(t *testing.T) {
	t.Parallel()
	require.NoError(t, checkLocalFilesystem(filepath.Join(t.TempDir(), "pwb.db"), fixedFS("apfs")))
}

func TestCheckLocalFilesystemRejectsNetwork(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "pwb.db")
	err := checkLocalFilesystem(dbPath, fixedFS("SMBFS"))

	var nfsErr *NetworkFilesystemError
	require.True(t, errors.As(err, &nfsErr), "got %v", err)
	assert.Equal(t, dbPath, nfsErr.Path)
	assert.Contains(t, err.Error(), "state.driver: postgres")
}

func TestCheckLocalFilesystemInspectsNearestAncestor(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var inspected string
	detect := func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	}

	require.NoError(t, checkLocalFilesystem(filepath.Join(root, "nested", "dir", "pwb.db"), detect))
	assert.Equal(t, root, inspected)
}

func TestCheckLocalFilesystemEmptyPath(t *testing.T) {
	t.Parallel()
	assert.Error(t, CheckLocalFilesystem(" "))
}

func TestIsNetworkFS(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"nfs":    true,
		"NFS4":   true,
		" cifs ": true,
		"apfs":   false,
		"0x6969": false,
		"":       false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isNetworkFS(fs), fs)
	}
}
