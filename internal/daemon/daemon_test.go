package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsChild(t *testing.T) {
	t.Setenv(EnvMarker, "")
	require.False(t, IsChild())

	t.Setenv(EnvMarker, "1")
	require.True(t, IsChild())

	pid, err := Daemonize()
	require.NoError(t, err)
	require.Zero(t, pid)
}
