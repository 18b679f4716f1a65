package fs

import (
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSecureFolder(t *testing.T) {
	folder := path.Join(t.TempDir(), "config")

	exists, err := Exists(folder)
	require.NoError(t, err)
	require.False(t, exists)

	got, err := CreateSecureFolder(folder)
	require.NoError(t, err)
	require.Equal(t, folder, got)

	exists, err = Exists(folder)
	require.NoError(t, err)
	require.True(t, exists)

	// creating again is a no-op
	_, err = CreateSecureFolder(folder)
	require.NoError(t, err)
}
