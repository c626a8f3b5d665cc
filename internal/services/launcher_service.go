package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/datastreamhq/data-proxy/internal/constants"
	"github.com/datastreamhq/data-proxy/internal/models"
	"github.com/datastreamhq/data-proxy/pkg/transport"
	"github.com/rs/zerolog"
)

// LauncherService starts and stops the static file server on the remote
// host over an active tunnel session's command-execution capability.
type LauncherService struct {
	descriptor   models.ConnectionDescriptor
	killExisting bool
	logger       zerolog.Logger

	execTimeout time.Duration
	settleDelay time.Duration
}

// NewLauncherService initializes a new LauncherService instance. When
// killExisting is set, a previous file server bound to the same remote port
// is terminated before launching a new one.
func NewLauncherService(descriptor models.ConnectionDescriptor, killExisting bool, logger zerolog.Logger) *LauncherService {
	return &LauncherService{
		descriptor:   descriptor,
		killExisting: killExisting,
		logger:       logger,
		execTimeout:  constants.ExecTimeout,
		settleDelay:  constants.LaunchSettleDelay,
	}
}

// serverPattern is the command line the remote file server runs under; it is
// both what gets launched and what kill-existing matches against.
func (s *LauncherService) serverPattern() string {
	return fmt.Sprintf("python3 -m http.server %d", s.descriptor.RemotePort)
}

// Start launches the file server on the remote host, bound to the remote
// loopback and rooted at the data path, and verifies it survived startup.
func (s *LauncherService) Start(ctx context.Context, session *TunnelSession) (*models.RemoteProcess, error) {
	if session == nil || !session.Active() {
		return nil, fmt.Errorf("%w: tunnel session is not active", ErrRemoteLaunch)
	}
	conn := session.Conn()

	if s.killExisting {
		// pkill exits non-zero when nothing matched; that counts as success.
		killCmd := fmt.Sprintf("pkill -f '%s'", s.serverPattern())
		if out, err := s.exec(ctx, conn, killCmd); err != nil {
			s.logger.Debug().Err(err).Str("output", strings.TrimSpace(string(out))).
				Msg("No previous file server to kill")
		} else {
			s.logger.Info().Int("remote_port", s.descriptor.RemotePort).
				Msg("Killed previous remote file server")
		}
	}

	if out, err := s.exec(ctx, conn, fmt.Sprintf("test -d '%s'", s.descriptor.DataPath)); err != nil {
		return nil, fmt.Errorf("%w: remote data path %q is not a directory: %v (%s)",
			ErrRemoteLaunch, s.descriptor.DataPath, err, strings.TrimSpace(string(out)))
	}

	launchCmd := fmt.Sprintf("cd '%s' && nohup %s --bind 127.0.0.1 >/dev/null 2>&1 & echo $!",
		s.descriptor.DataPath, s.serverPattern())
	out, err := s.exec(ctx, conn, launchCmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (%s)", ErrRemoteLaunch, err, strings.TrimSpace(string(out)))
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse remote PID from %q", ErrRemoteLaunch, strings.TrimSpace(string(out)))
	}

	// Give the server a moment, then make sure it did not die on startup
	// (bad interpreter, port squatter when kill_existing is off, ...).
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.settleDelay):
	}
	if _, err := s.exec(ctx, conn, fmt.Sprintf("kill -0 %d", pid)); err != nil {
		return nil, fmt.Errorf("%w: file server (pid %d) exited during startup", ErrRemoteLaunch, pid)
	}

	handle := &models.RemoteProcess{
		PID:        pid,
		ListenPort: s.descriptor.RemotePort,
		WorkingDir: s.descriptor.DataPath,
		SessionID:  session.ID,
	}

	s.logger.Info().
		Int("pid", handle.PID).
		Int("remote_port", handle.ListenPort).
		Str("data_path", handle.WorkingDir).
		Msg("Remote file server started")

	return handle, nil
}

// Stop terminates the remote process best-effort. When the tunnel is no
// longer active the remote host cannot be reached, so termination is skipped
// and logged rather than treated as an error.
func (s *LauncherService) Stop(ctx context.Context, session *TunnelSession, handle *models.RemoteProcess) error {
	if handle == nil {
		return nil
	}
	if session == nil || !session.Active() {
		s.logger.Info().Int("pid", handle.PID).
			Msg("Tunnel already closed, skipping remote file server termination")
		return nil
	}

	out, err := s.exec(ctx, session.Conn(), fmt.Sprintf("kill %d", handle.PID))
	if err != nil {
		if strings.Contains(string(out), "No such process") {
			s.logger.Debug().Int("pid", handle.PID).Msg("Remote file server already gone")
			return nil
		}
		s.logger.Warn().Err(err).Int("pid", handle.PID).Msg("Failed to terminate remote file server")
		return fmt.Errorf("failed to terminate remote file server (pid %d): %w", handle.PID, err)
	}

	s.logger.Info().Int("pid", handle.PID).Msg("Remote file server terminated")
	return nil
}

func (s *LauncherService) exec(ctx context.Context, conn transport.Conn, command string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()
	return conn.Exec(execCtx, command)
}
