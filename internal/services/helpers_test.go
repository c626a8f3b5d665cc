package services

import (
	"context"
	"net"
	"sync"

	"github.com/datastreamhq/data-proxy/pkg/sshconfig"
	"github.com/datastreamhq/data-proxy/pkg/transport"
)

// fakeConn implements transport.Conn against local listeners and scripted
// command responses.
type fakeConn struct {
	mu       sync.Mutex
	execs    []string
	execFunc func(command string) ([]byte, error)
	dialAddr string
	closed   bool
}

func (c *fakeConn) Exec(ctx context.Context, command string) ([]byte, error) {
	c.mu.Lock()
	c.execs = append(c.execs, command)
	fn := c.execFunc
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(command)
	}
	return nil, nil
}

func (c *fakeConn) Dial(network, addr string) (net.Conn, error) {
	return net.Dial("tcp", c.dialAddr)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) execCommands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport fails the first failCount attempts with err, then hands out
// conn. It records every open attempt and the config used.
type fakeTransport struct {
	mu        sync.Mutex
	conn      *fakeConn
	err       error
	failCount int
	attempts  int
	lastCfg   transport.Config
}

func (t *fakeTransport) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.lastCfg = cfg
	if t.err != nil && (t.failCount == 0 || t.attempts <= t.failCount) {
		return nil, t.err
	}
	return t.conn, nil
}

func (t *fakeTransport) openAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// fakeResolver returns a fixed entry for every alias.
type fakeResolver struct {
	entry sshconfig.Entry
	err   error
}

func (r *fakeResolver) Resolve(alias string) (sshconfig.Entry, error) {
	return r.entry, r.err
}

// newEchoListener starts a listener that echoes every byte back, for
// verifying data flows through the forward path.
func newEchoListener() (net.Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1024)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln, nil
}

// activeSession builds a session in the active state bound to the given
// fake connection, the way Open would have produced it.
func activeSession(conn *fakeConn) *TunnelSession {
	return &TunnelSession{
		ID:    "test-session",
		state: SessionActive,
		conn:  conn,
	}
}
