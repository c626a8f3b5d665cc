package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datastreamhq/data-proxy/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBackend simulates the remote file server behind the forward port.
func newBackend(t *testing.T) (*httptest.Server, int) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/shard_0001.tar":
			w.Header().Set("Content-Type", "application/x-tar")
			if r.Header.Get("Range") != "" {
				w.WriteHeader(http.StatusPartialContent)
				io.WriteString(w, "partial")
				return
			}
			io.WriteString(w, "shard-bytes-0001")
		default:
			http.NotFound(w, r)
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	port := server.Listener.Addr().(*net.TCPAddr).Port
	return server, port
}

func startProxy(t *testing.T, forwardPort int, info models.ConnectionInfo) (*ProxyService, string) {
	t.Helper()

	descriptor := models.ConnectionDescriptor{
		Host:       "remote.example.com",
		Username:   "ubuntu",
		DataPath:   "/data/shards",
		LocalPort:  forwardPort,
		RemotePort: 8001,
		PublicPort: 0, // Ephemeral.
	}

	proxy := NewProxyService(descriptor, zerolog.Nop())
	require.NoError(t, proxy.Start(info))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		proxy.Stop(ctx)
	})

	_, portStr, err := net.SplitHostPort(proxy.Addr())
	require.NoError(t, err)
	return proxy, fmt.Sprintf("http://127.0.0.1:%s", portStr)
}

func testInfo() models.ConnectionInfo {
	return models.ConnectionInfo{
		Hostname:       "remote.example.com",
		Username:       "ubuntu",
		UsingSSHConfig: false,
	}
}

// TestProxyService_DataRoute_Streams verifies bytes and headers pass through
// with the /data prefix stripped.
func TestProxyService_DataRoute_Streams(t *testing.T) {
	_, port := newBackend(t)
	_, base := startProxy(t, port, testInfo())

	resp, err := http.Get(base + "/data/shard_0001.tar")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-tar", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "shard-bytes-0001", string(body))
}

// TestProxyService_DataRoute_RangePassthrough verifies partial content
// semantics survive the proxy.
func TestProxyService_DataRoute_RangePassthrough(t *testing.T) {
	_, port := newBackend(t)
	_, base := startProxy(t, port, testInfo())

	req, err := http.NewRequest(http.MethodGet, base+"/data/shard_0001.tar", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-6")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(body))
}

// TestProxyService_DataRoute_NotFound verifies upstream 404s pass through
// unchanged instead of becoming 500s or hangs.
func TestProxyService_DataRoute_NotFound(t *testing.T) {
	_, port := newBackend(t)
	_, base := startProxy(t, port, testInfo())

	resp, err := http.Get(base + "/data/no_such_shard.tar")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestProxyService_DataRoute_ForwardDown verifies a dead forward target
// answers 502 instead of hanging or crashing the listener.
func TestProxyService_DataRoute_ForwardDown(t *testing.T) {
	// Grab a port with nothing behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, base := startProxy(t, deadPort, testInfo())

	resp, err := http.Get(base + "/data/shard_0001.tar")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// The listener must still be serving after the failed request.
	resp2, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

// TestProxyService_Health_OK verifies the health payload while the chain is
// reachable.
func TestProxyService_Health_OK(t *testing.T) {
	_, port := newBackend(t)
	_, base := startProxy(t, port, models.ConnectionInfo{
		Hostname:       "gpu-box.internal",
		Username:       "mluser",
		UsingSSHConfig: true,
	})

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))

	var report models.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))

	assert.Equal(t, models.HealthOK, report.Status)
	assert.Equal(t, "gpu-box.internal", report.Connection.Hostname)
	assert.Equal(t, "mluser", report.Connection.Username)
	assert.True(t, report.Connection.UsingSSHConfig)
}

// TestProxyService_Health_ForwardDown verifies the status flips to ERROR when
// the probe cannot get through, while the endpoint itself stays up.
func TestProxyService_Health_ForwardDown(t *testing.T) {
	backend, port := newBackend(t)
	_, base := startProxy(t, port, testInfo())

	backend.Close()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report models.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, models.HealthError, report.Status)
}

// TestProxyService_Stop_ReleasesPort verifies the public port is free again
// after Stop.
func TestProxyService_Stop_ReleasesPort(t *testing.T) {
	_, port := newBackend(t)
	proxy, base := startProxy(t, port, testInfo())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, proxy.Stop(ctx))

	_, err := http.Get(base + "/health")
	assert.Error(t, err)

	// Stopping twice is a no-op.
	assert.NoError(t, proxy.Stop(ctx))
}
