// Package transport abstracts the authenticated channel to the remote host:
// opening a connection, executing commands on it and dialing TCP endpoints
// through it. The core services depend only on these interfaces so the
// lifecycle state machine is testable without real network access.
package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

var (
	// ErrAuthenticationRejected means the remote host refused the supplied
	// credential. Never retried.
	ErrAuthenticationRejected = errors.New("ssh authentication rejected")

	// ErrUnreachable means the remote host could not be reached at the
	// network level. Callers may retry a bounded number of times.
	ErrUnreachable = errors.New("remote host unreachable")
)

// Config describes a single authenticated connection attempt. Exactly one of
// PrivateKey/Password may be set; with neither, key-agent style auth is not
// attempted and the connection will fail unless the server allows none.
type Config struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	Password string
	Timeout  time.Duration
}

// Addr returns the dialable host:port string.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Conn is an established authenticated channel.
type Conn interface {
	// Exec runs command on the remote host and returns its combined output.
	// The command is aborted when ctx is done.
	Exec(ctx context.Context, command string) ([]byte, error)

	// Dial opens a TCP connection to addr from the remote host's side of
	// the channel.
	Dial(network, addr string) (net.Conn, error)

	// Close tears down the channel and every stream multiplexed over it.
	Close() error
}

// Transport opens authenticated channels.
type Transport interface {
	Open(ctx context.Context, cfg Config) (Conn, error)
}
