// Package sshconfig resolves SSH host aliases through an OpenSSH-style
// config file, the way `ssh <alias>` would.
package sshconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ssh_config "github.com/kevinburke/ssh_config"
	"github.com/rs/zerolog"
)

// Entry is the resolved connection identity for a host alias.
type Entry struct {
	Hostname     string
	User         string
	IdentityFile string
	Port         int
}

// Resolver resolves a host alias to a connection identity.
type Resolver interface {
	Resolve(alias string) (Entry, error)
}

// FileResolver resolves aliases against a config file, typically
// ~/.ssh/config. A missing file is not an error; aliases then resolve to
// themselves with no user or identity file.
type FileResolver struct {
	path   string
	cfg    *ssh_config.Config
	logger zerolog.Logger
}

// NewFileResolver loads the config file at path. An empty path defaults to
// ~/.ssh/config.
func NewFileResolver(path string, logger zerolog.Logger) (*FileResolver, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "config")
	}

	r := &FileResolver{path: path, logger: logger}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", path).Msg("No SSH config file found")
			return r, nil
		}
		return nil, err
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg

	return r, nil
}

// Resolve looks up the alias and returns hostname, user, identity file and
// port, falling back to the alias itself as hostname and port 22.
func (r *FileResolver) Resolve(alias string) (Entry, error) {
	entry := Entry{Hostname: alias, Port: 22}
	if r.cfg == nil {
		return entry, nil
	}

	if hostname, err := r.cfg.Get(alias, "HostName"); err == nil && hostname != "" {
		entry.Hostname = hostname
	}
	if user, err := r.cfg.Get(alias, "User"); err == nil {
		entry.User = user
	}
	if identity, err := r.cfg.Get(alias, "IdentityFile"); err == nil {
		// The library reports a default identity file even when the config
		// never mentions one; treat that as unset.
		if identity != ssh_config.Default("IdentityFile") {
			entry.IdentityFile = expandHome(identity)
		}
	}
	if port, err := r.cfg.Get(alias, "Port"); err == nil && port != "" {
		if p, convErr := strconv.Atoi(port); convErr == nil {
			entry.Port = p
		}
	}

	r.logger.Debug().
		Str("alias", alias).
		Str("hostname", entry.Hostname).
		Str("user", entry.User).
		Msg("Resolved SSH host alias")

	return entry, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
