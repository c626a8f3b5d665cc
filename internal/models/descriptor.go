package models

import (
	"errors"
	"fmt"
	"path"
)

// ErrInvalidDescriptor marks descriptor validation failures. These are
// reported before any network activity happens.
var ErrInvalidDescriptor = errors.New("invalid connection descriptor")

// DescriptorParams carries the raw fields used to build a ConnectionDescriptor.
type DescriptorParams struct {
	HostAlias string
	Host      string
	Username  string
	KeyPath   string
	Password  string

	DataPath   string
	LocalPort  int
	RemotePort int
	PublicPort int
}

// ConnectionDescriptor describes how to reach the remote host and which
// directory to serve. It is read-only after construction; components receive
// it by value and never mutate it.
type ConnectionDescriptor struct {
	HostAlias string
	Host      string
	Username  string
	KeyPath   string
	Password  string

	DataPath   string
	LocalPort  int
	RemotePort int
	PublicPort int
}

// NewConnectionDescriptor validates params and builds an immutable descriptor.
// Exactly one of alias/host must be set; key and password are mutually
// exclusive, and an explicit host requires one of them plus a username.
func NewConnectionDescriptor(p DescriptorParams) (ConnectionDescriptor, error) {
	var zero ConnectionDescriptor

	if p.HostAlias == "" && p.Host == "" {
		return zero, fmt.Errorf("%w: one of ssh host alias or ssh host is required", ErrInvalidDescriptor)
	}
	if p.HostAlias != "" && p.Host != "" {
		return zero, fmt.Errorf("%w: ssh host alias and ssh host are mutually exclusive", ErrInvalidDescriptor)
	}
	if p.KeyPath != "" && p.Password != "" {
		return zero, fmt.Errorf("%w: ssh key path and ssh password are mutually exclusive", ErrInvalidDescriptor)
	}
	if p.Host != "" {
		if p.Username == "" {
			return zero, fmt.Errorf("%w: ssh username is required with an explicit ssh host", ErrInvalidDescriptor)
		}
		if p.KeyPath == "" && p.Password == "" {
			return zero, fmt.Errorf("%w: an ssh key path or ssh password is required with an explicit ssh host", ErrInvalidDescriptor)
		}
	}

	if p.DataPath == "" {
		return zero, fmt.Errorf("%w: data path is required", ErrInvalidDescriptor)
	}
	if !path.IsAbs(p.DataPath) {
		return zero, fmt.Errorf("%w: data path %q must be absolute", ErrInvalidDescriptor, p.DataPath)
	}

	for _, port := range []struct {
		name  string
		value int
	}{
		{"local port", p.LocalPort},
		{"remote port", p.RemotePort},
		{"public port", p.PublicPort},
	} {
		if port.value < 1 || port.value > 65535 {
			return zero, fmt.Errorf("%w: %s %d is out of range", ErrInvalidDescriptor, port.name, port.value)
		}
	}

	return ConnectionDescriptor(p), nil
}

// UsingSSHConfig reports whether the descriptor is alias-based, meaning
// host, user and key are resolved through the SSH config file.
func (d ConnectionDescriptor) UsingSSHConfig() bool {
	return d.HostAlias != ""
}
