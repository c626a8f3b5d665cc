package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/datastreamhq/data-proxy/pkg/file"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SSHTransport implements Transport on top of golang.org/x/crypto/ssh.
type SSHTransport struct {
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewSSHTransport creates a new SSHTransport instance.
func NewSSHTransport(fileClient file.FileOperations, logger zerolog.Logger) *SSHTransport {
	return &SSHTransport{
		fileClient: fileClient,
		logger:     logger,
	}
}

// Open dials the remote host and completes the SSH handshake using the
// credential from cfg. Authentication failures and unreachable hosts are
// surfaced as distinct error kinds.
func (t *SSHTransport) Open(ctx context.Context, cfg Config) (Conn, error) {
	clientConfig, err := t.buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr()
	dialer := net.Dialer{Timeout: cfg.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Error().Err(err).Str("addr", addr).Msg("Failed to reach SSH host")
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, clientConfig)
	if err != nil {
		raw.Close()
		if isAuthError(err) {
			t.logger.Error().Err(err).Str("addr", addr).Str("user", cfg.User).Msg("SSH authentication rejected")
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationRejected, err)
		}
		t.logger.Error().Err(err).Str("addr", addr).Msg("SSH handshake failed")
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrUnreachable, addr, err)
	}

	t.logger.Debug().Str("addr", addr).Str("user", cfg.User).Msg("SSH connection established")
	return &sshConn{client: ssh.NewClient(conn, chans, reqs), logger: t.logger}, nil
}

// buildClientConfig assembles the ssh.ClientConfig with exactly the
// credential carried by cfg.
func (t *SSHTransport) buildClientConfig(cfg Config) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch {
	case cfg.KeyPath != "":
		key, err := t.fileClient.ReadFileRaw(cfg.KeyPath)
		if err != nil {
			t.logger.Error().Err(err).Str("path", cfg.KeyPath).Msg("Failed to read SSH private key")
			return nil, fmt.Errorf("failed to read SSH private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			t.logger.Error().Err(err).Str("path", cfg.KeyPath).Msg("Failed to parse SSH private key")
			return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case cfg.Password != "":
		auth = append(auth, ssh.Password(cfg.Password))
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: support a known_hosts callback behind config.
		Timeout:         timeout,
	}, nil
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "no supported methods remain")
}

// sshConn wraps an *ssh.Client as a Conn.
type sshConn struct {
	client *ssh.Client
	logger zerolog.Logger
}

// Exec runs command in a fresh session and returns its combined output. When
// ctx expires first the remote process is signalled and the context error is
// returned.
func (c *sshConn) Exec(ctx context.Context, command string) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH session: %w", err)
	}
	defer session.Close()

	type execResult struct {
		output []byte
		err    error
	}
	done := make(chan execResult, 1)

	go func() {
		output, err := session.CombinedOutput(command)
		done <- execResult{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		if err := session.Signal(ssh.SIGKILL); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to signal remote command after cancellation")
		}
		return nil, ctx.Err()
	case result := <-done:
		return result.output, result.err
	}
}

// Dial opens a TCP connection to addr through the SSH client connection.
func (c *sshConn) Dial(network, addr string) (net.Conn, error) {
	return c.client.Dial(network, addr)
}

// Close tears down the SSH client connection.
func (c *sshConn) Close() error {
	return c.client.Close()
}
