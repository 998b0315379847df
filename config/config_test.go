// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, "ipc", c.Transport.Default)
	require.Equal(t, 250*time.Millisecond, c.Transport.Backoff)
	require.Equal(t, 2048, c.IPC.MaxMsgSize)
	require.Equal(t, "tcp", c.Socket.Network)
	require.Equal(t, "#", c.File.Comment)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COMM_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("COMM_SOCKET_NETWORK", "unix")
	t.Setenv("COMM_TRANSPORT_BACKOFF", "5ms")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "unix", c.Socket.Network)
	require.Equal(t, 5*time.Millisecond, c.Transport.Backoff)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comm.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[transport]
default = "socket"

[memory]
max_msg_size = 512
capacity = 4
`), 0o644))
	t.Setenv("COMM_CONFIG", path)

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "socket", c.Transport.Default)
	require.Equal(t, 512, c.Memory.MaxMsgSize)
	require.Equal(t, 4, c.Memory.Capacity)
	require.Equal(t, 2048, c.IPC.MaxMsgSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("COMM_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	_, err := Load()
	require.Error(t, err)
}
