package services

import "errors"

var (
	// ErrTunnelBind means the local forward port could not be bound,
	// usually because another instance owns it. Callers can suggest
	// --local-port on this kind.
	ErrTunnelBind = errors.New("local forward port already bound")

	// ErrRemoteLaunch means the remote file server command failed, e.g.
	// the remote interpreter is missing or the data path does not exist.
	ErrRemoteLaunch = errors.New("remote file server launch failed")

	// ErrForwardUnavailable means a proxied request could not reach the
	// forward target. Per-request only; never fatal to the listener.
	ErrForwardUnavailable = errors.New("forward path unavailable")
)
