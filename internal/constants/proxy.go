package constants

import "time"

const (
	// DefaultLocalPort is the loopback port the SSH forward binds locally.
	DefaultLocalPort = 8000

	// DefaultRemotePort is the loopback port the remote file server listens on.
	DefaultRemotePort = 8001

	// DefaultPublicPort is the port the public proxy endpoint listens on.
	DefaultPublicPort = 5001

	// DefaultSSHPort is used when neither the descriptor nor the SSH config supplies one.
	DefaultSSHPort = 22

	// ConnectionTimeout bounds a single SSH dial attempt.
	ConnectionTimeout = 30 * time.Second

	// DialAttempts limits immediate reconnection attempts for unreachable hosts.
	DialAttempts = 3

	// ExecTimeout bounds a single remote command invocation.
	ExecTimeout = 15 * time.Second

	// LaunchSettleDelay is how long the launcher waits before verifying
	// the remote file server survived startup.
	LaunchSettleDelay = 500 * time.Millisecond

	// HealthProbeTimeout bounds the reachability probe behind /health.
	HealthProbeTimeout = 2 * time.Second

	// ShutdownStepTimeout bounds each teardown step so a hung remote
	// command cannot block process exit.
	ShutdownStepTimeout = 10 * time.Second
)
