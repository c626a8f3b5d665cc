// Package orchestrator sequences the tunnel, the remote file server and the
// proxy endpoint through an explicit lifecycle state machine: strict
// dependency order on the way up, strict reverse order on the way down, and
// rollback of whatever already started when a startup step fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/datastreamhq/data-proxy/internal/constants"
	"github.com/datastreamhq/data-proxy/internal/models"
	"github.com/datastreamhq/data-proxy/internal/services"
	"github.com/rs/zerolog"
)

// State is the orchestrator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateErrored
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// TunnelManager opens and closes the forwarding channel.
type TunnelManager interface {
	Open(ctx context.Context) (*services.TunnelSession, error)
	Close(session *services.TunnelSession) error
}

// RemoteLauncher starts and stops the remote file server over a session.
type RemoteLauncher interface {
	Start(ctx context.Context, session *services.TunnelSession) (*models.RemoteProcess, error)
	Stop(ctx context.Context, session *services.TunnelSession, handle *models.RemoteProcess) error
}

// ProxyEndpoint serves the public HTTP surface.
type ProxyEndpoint interface {
	Start(info models.ConnectionInfo) error
	Stop(ctx context.Context) error
}

// Orchestrator is a once-through supervisor: one Start, one Stop, no
// automatic restart. After errored or stopped a fresh instance is required.
type Orchestrator struct {
	tunnel   TunnelManager
	launcher RemoteLauncher
	proxy    ProxyEndpoint
	logger   zerolog.Logger

	stepTimeout time.Duration

	mu      sync.Mutex
	state   State
	session *services.TunnelSession
	process *models.RemoteProcess
}

// New initializes a new Orchestrator instance.
func New(tunnel TunnelManager, launcher RemoteLauncher, proxy ProxyEndpoint,
	stepTimeout time.Duration, logger zerolog.Logger) *Orchestrator {

	if stepTimeout == 0 {
		stepTimeout = constants.ShutdownStepTimeout
	}

	return &Orchestrator{
		tunnel:      tunnel,
		launcher:    launcher,
		proxy:       proxy,
		logger:      logger,
		stepTimeout: stepTimeout,
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
	o.logger.Debug().Str("state", state.String()).Msg("Orchestrator state changed")
}

// Start brings the chain up: tunnel, then remote file server, then proxy
// endpoint. Cancelling ctx mid-startup aborts the sequence and rolls back
// whatever already started. Any failure leaves the orchestrator errored.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot start orchestrator from state %s", state)
	}
	o.state = StateStarting
	o.mu.Unlock()

	o.logger.Info().Msg("Starting data proxy chain")

	session, err := o.tunnel.Open(ctx)
	if err != nil {
		o.setState(StateErrored)
		return fmt.Errorf("tunnel startup failed: %w", err)
	}
	o.session = session

	if err := ctx.Err(); err != nil {
		return o.abortStartup(false, err)
	}

	process, err := o.launcher.Start(ctx, session)
	if err != nil {
		return o.abortStartup(false, fmt.Errorf("remote server startup failed: %w", err))
	}
	o.process = process

	if err := ctx.Err(); err != nil {
		return o.abortStartup(false, err)
	}

	if err := o.proxy.Start(session.Info()); err != nil {
		return o.abortStartup(false, fmt.Errorf("proxy endpoint startup failed: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return o.abortStartup(true, err)
	}

	o.setState(StateRunning)
	o.logger.Info().Msg("Data proxy chain running")
	return nil
}

// abortStartup rolls back the pieces that came up before the failure, in
// reverse order, and transitions to errored.
func (o *Orchestrator) abortStartup(proxyStarted bool, cause error) error {
	o.logger.Warn().Err(cause).Msg("Startup failed, rolling back already started components")
	o.teardown(context.Background(), proxyStarted)
	o.setState(StateErrored)
	return cause
}

// Stop tears the chain down in reverse order of startup. Each step is
// best-effort and bounded; a failing step never prevents the next one.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateRunning:
		o.state = StateStopping
	case StateStopped, StateErrored:
		o.mu.Unlock()
		return nil
	default:
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot stop orchestrator from state %s", state)
	}
	o.mu.Unlock()

	o.logger.Info().Msg("Stopping data proxy chain")
	err := o.teardown(ctx, true)
	o.setState(StateStopped)
	return err
}

// teardown runs the reverse-of-startup sequence: proxy listener first, then
// remote process termination, then tunnel close.
func (o *Orchestrator) teardown(ctx context.Context, proxyStarted bool) error {
	var errs []error

	if proxyStarted {
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		if err := o.proxy.Stop(stepCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop proxy endpoint: %w", err))
		}
		cancel()
	}

	if o.process != nil {
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		if err := o.launcher.Stop(stepCtx, o.session, o.process); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop remote file server: %w", err))
		}
		cancel()
		o.process = nil
	}

	if o.session != nil {
		if err := o.tunnel.Close(o.session); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tunnel: %w", err))
		}
		o.session = nil
	}

	if len(errs) > 0 {
		for _, e := range errs {
			o.logger.Error().Err(e).Msg("Teardown step failure")
		}
		return errors.Join(errs...)
	}
	return nil
}
