package transport_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/datastreamhq/data-proxy/pkg/file"
	"github.com/datastreamhq/data-proxy/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSSHTransport_Open_Unreachable classifies a refused connection as
// unreachable without touching authentication.
func TestSSHTransport_Open_Unreachable(t *testing.T) {
	// Grab a loopback port and free it again so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := transport.NewSSHTransport(file.NewFileService(), zerolog.Nop())

	_, err = tr.Open(context.Background(), transport.Config{
		Host:     "127.0.0.1",
		Port:     port,
		User:     "ubuntu",
		Password: "hunter2",
		Timeout:  time.Second,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnreachable)
}

// TestSSHTransport_Open_MissingKey fails before dialing when the key file
// does not exist.
func TestSSHTransport_Open_MissingKey(t *testing.T) {
	tr := transport.NewSSHTransport(file.NewFileService(), zerolog.Nop())

	_, err := tr.Open(context.Background(), transport.Config{
		Host:    "127.0.0.1",
		Port:    22,
		User:    "ubuntu",
		KeyPath: filepath.Join(t.TempDir(), "no_such_key"),
		Timeout: time.Second,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read SSH private key")
}

// TestSSHTransport_Open_UnparsableKey rejects key material that is not a
// private key.
func TestSSHTransport_Open_UnparsableKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "garbage_key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0600))

	tr := transport.NewSSHTransport(file.NewFileService(), zerolog.Nop())

	_, err := tr.Open(context.Background(), transport.Config{
		Host:    "127.0.0.1",
		Port:    22,
		User:    "ubuntu",
		KeyPath: keyPath,
		Timeout: time.Second,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse SSH private key")
}

// TestConfig_Addr joins host and port.
func TestConfig_Addr(t *testing.T) {
	cfg := transport.Config{Host: "remote.example.com", Port: 2222}
	assert.Equal(t, "remote.example.com:2222", cfg.Addr())
}
