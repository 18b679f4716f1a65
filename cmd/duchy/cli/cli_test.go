package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCLICommands(t *testing.T) {
	app := CLI()
	require.Equal(t, "duchy", app.Name)

	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	require.Contains(t, names, "start")
	require.Contains(t, names, "get-token")
}

func TestStartRequiresRing(t *testing.T) {
	app := CLI()
	app.Writer = new(bytes.Buffer)
	err := app.Run([]string{"duchy", "start", "--tls-disable"})
	require.Error(t, err)
}

func TestGetTokenRequiresID(t *testing.T) {
	app := CLI()
	app.Writer = new(bytes.Buffer)
	err := app.Run([]string{"duchy", "get-token", "--address", "127.0.0.1:1"})
	require.Error(t, err)
}
