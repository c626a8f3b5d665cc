package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/datastreamhq/data-proxy/internal/constants"
	"github.com/datastreamhq/data-proxy/internal/models"
	"github.com/datastreamhq/data-proxy/pkg/sshconfig"
	"github.com/datastreamhq/data-proxy/pkg/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState tracks a tunnel session through its lifecycle.
type SessionState int

const (
	SessionUnopened SessionState = iota
	SessionActive
	SessionClosed
	SessionFailed
)

// String returns the lowercase name of the state.
func (s SessionState) String() string {
	switch s {
	case SessionUnopened:
		return "unopened"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TunnelSession is an established local-to-remote port forward. It owns the
// only handles capable of tearing the forward down; a failed session is never
// reused, a new one must be opened instead.
type TunnelSession struct {
	ID         string
	LocalPort  int
	RemotePort int

	info     models.ConnectionInfo
	conn     transport.Conn
	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	state SessionState
}

// State returns the session's current lifecycle state.
func (s *TunnelSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the forward is currently usable.
func (s *TunnelSession) Active() bool {
	return s.State() == SessionActive
}

// Info returns the resolved connection identity behind this session.
func (s *TunnelSession) Info() models.ConnectionInfo {
	return s.info
}

// Conn exposes the session's command-execution capability. Only valid while
// the session is active.
func (s *TunnelSession) Conn() transport.Conn {
	return s.conn
}

func (s *TunnelSession) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// TunnelService opens and owns the SSH forwarding channel between the local
// forward port and the remote listen port.
type TunnelService struct {
	descriptor models.ConnectionDescriptor
	transport  transport.Transport
	resolver   sshconfig.Resolver
	logger     zerolog.Logger

	dialAttempts   int
	connectTimeout time.Duration
}

// NewTunnelService initializes a new TunnelService instance.
func NewTunnelService(descriptor models.ConnectionDescriptor, tr transport.Transport, resolver sshconfig.Resolver,
	logger zerolog.Logger, dialAttempts int, connectTimeout time.Duration) *TunnelService {

	if dialAttempts == 0 {
		dialAttempts = constants.DialAttempts
	}
	if connectTimeout == 0 {
		connectTimeout = constants.ConnectionTimeout
	}

	return &TunnelService{
		descriptor:     descriptor,
		transport:      tr,
		resolver:       resolver,
		logger:         logger,
		dialAttempts:   dialAttempts,
		connectTimeout: connectTimeout,
	}
}

// Open resolves the descriptor's identity, authenticates to the remote host
// and binds the local forward port. Authentication rejections fail
// immediately; unreachable hosts are retried a bounded number of times.
func (s *TunnelService) Open(ctx context.Context) (*TunnelSession, error) {
	cfg, info, err := s.resolveTarget()
	if err != nil {
		return nil, err
	}

	session := &TunnelSession{
		ID:         uuid.New().String(),
		LocalPort:  s.descriptor.LocalPort,
		RemotePort: s.descriptor.RemotePort,
		info:       info,
		state:      SessionUnopened,
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("host", cfg.Host).
		Str("user", cfg.User).
		Msg("Opening SSH tunnel")

	var conn transport.Conn
	for attempt := 1; attempt <= s.dialAttempts; attempt++ {
		conn, err = s.transport.Open(ctx, cfg)
		if err == nil {
			break
		}
		if errors.Is(err, transport.ErrAuthenticationRejected) || ctx.Err() != nil {
			break
		}
		s.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.dialAttempts).
			Msg("SSH connection attempt failed")
	}
	if err != nil {
		session.setState(SessionFailed)
		return nil, fmt.Errorf("failed to open SSH tunnel to %s: %w", cfg.Host, err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.descriptor.LocalPort))
	if err != nil {
		conn.Close()
		session.setState(SessionFailed)
		return nil, fmt.Errorf("%w: 127.0.0.1:%d: %v", ErrTunnelBind, s.descriptor.LocalPort, err)
	}

	session.conn = conn
	session.listener = listener
	session.LocalPort = listener.Addr().(*net.TCPAddr).Port
	session.setState(SessionActive)

	session.wg.Add(1)
	go s.acceptLoop(session)

	s.logger.Info().
		Str("session_id", session.ID).
		Int("local_port", session.LocalPort).
		Int("remote_port", session.RemotePort).
		Msg("Tunnel active")

	return session, nil
}

// Close tears down the forward: the local listener stops accepting, the SSH
// connection closes and every in-flight stream drains.
func (s *TunnelService) Close(session *TunnelSession) error {
	if session == nil {
		return nil
	}

	session.mu.Lock()
	if session.state != SessionActive {
		session.mu.Unlock()
		return nil
	}
	session.state = SessionClosed
	session.mu.Unlock()

	var errs []error
	if err := session.listener.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close local listener: %w", err))
	}
	if err := session.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close SSH connection: %w", err))
	}
	session.wg.Wait()

	s.logger.Info().Str("session_id", session.ID).Msg("Tunnel closed")
	return errors.Join(errs...)
}

// resolveTarget turns the descriptor into a dialable transport config, going
// through the SSH config resolver for alias-based descriptors.
func (s *TunnelService) resolveTarget() (transport.Config, models.ConnectionInfo, error) {
	cfg := transport.Config{
		Port:    constants.DefaultSSHPort,
		Timeout: s.connectTimeout,
	}

	if s.descriptor.UsingSSHConfig() {
		entry, err := s.resolver.Resolve(s.descriptor.HostAlias)
		if err != nil {
			return transport.Config{}, models.ConnectionInfo{}, fmt.Errorf("failed to resolve SSH host alias %q: %w", s.descriptor.HostAlias, err)
		}
		cfg.Host = entry.Hostname
		cfg.User = entry.User
		cfg.KeyPath = entry.IdentityFile
		if entry.Port != 0 {
			cfg.Port = entry.Port
		}
	} else {
		cfg.Host = s.descriptor.Host
		cfg.User = s.descriptor.Username
	}

	// A credential on the descriptor always wins over a resolved one.
	if s.descriptor.KeyPath != "" {
		cfg.KeyPath = s.descriptor.KeyPath
		cfg.Password = ""
	} else if s.descriptor.Password != "" {
		cfg.Password = s.descriptor.Password
	}

	info := models.ConnectionInfo{
		Hostname:       cfg.Host,
		Username:       cfg.User,
		UsingSSHConfig: s.descriptor.UsingSSHConfig(),
	}
	return cfg, info, nil
}

// acceptLoop forwards each accepted local connection to the remote listen
// port through the SSH connection.
func (s *TunnelService) acceptLoop(session *TunnelSession) {
	defer session.wg.Done()

	for {
		local, err := session.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Tunnel listener accept failed")
			}
			return
		}

		session.wg.Add(1)
		go s.forward(session, local)
	}
}

func (s *TunnelService) forward(session *TunnelSession, local net.Conn) {
	defer session.wg.Done()
	defer local.Close()

	remote, err := session.conn.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", session.RemotePort))
	if err != nil {
		s.logger.Warn().Err(err).
			Int("remote_port", session.RemotePort).
			Msg("Failed to dial remote port through tunnel")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)

	copyFunc := func(dst io.Writer, src io.Reader, name string) {
		_, err := io.Copy(dst, src)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Str("name", name).Msg("Error during copy")
		}
		done <- struct{}{}
	}

	go copyFunc(remote, local, "local to remote")
	go copyFunc(local, remote, "remote to local")

	// Once either direction ends, closing both conns unblocks the other.
	<-done
	local.Close()
	remote.Close()
	<-done
}
