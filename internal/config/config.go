package config

import (
	"os"

	"github.com/datastreamhq/data-proxy/internal/constants"
	"github.com/datastreamhq/data-proxy/internal/models"
	"github.com/datastreamhq/data-proxy/pkg/file"
	"github.com/spf13/cast"
)

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "PROXY_"

// Config represents the structure of the configuration file.
type Config struct {
	SSH struct {
		HostAlias  string `yaml:"host_alias"`  // Host alias from the SSH config file
		Host       string `yaml:"host"`        // Explicit SSH hostname
		Username   string `yaml:"username"`    // SSH username (with explicit host)
		KeyPath    string `yaml:"key_path"`    // Path to the SSH private key
		Password   string `yaml:"password"`    // SSH password (alternative to key)
		ConfigFile string `yaml:"config_file"` // SSH config file path, defaults to ~/.ssh/config
	} `yaml:"ssh"`

	Proxy struct {
		DataPath     string `yaml:"data_path"`     // Absolute path to the data directory on the remote host
		LocalPort    int    `yaml:"local_port"`    // Local port for the SSH forward
		RemotePort   int    `yaml:"remote_port"`   // Remote port for the file server
		PublicPort   int    `yaml:"public_port"`   // Public port for the proxy endpoint
		KillExisting *bool  `yaml:"kill_existing"` // Kill a previous file server on the remote port (default true)
	} `yaml:"proxy"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}

// ApplyEnv overrides config fields from PROXY_-prefixed environment
// variables when they are set.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = cast.ToInt(v)
		}
	}

	setString(&c.SSH.HostAlias, "SSH_HOST_ALIAS")
	setString(&c.SSH.Host, "SSH_HOST")
	setString(&c.SSH.Username, "SSH_USERNAME")
	setString(&c.SSH.KeyPath, "SSH_KEY_PATH")
	setString(&c.SSH.Password, "SSH_PASSWORD")
	setString(&c.SSH.ConfigFile, "SSH_CONFIG_FILE")
	setString(&c.Proxy.DataPath, "DATA_PATH")
	setInt(&c.Proxy.LocalPort, "LOCAL_PORT")
	setInt(&c.Proxy.RemotePort, "REMOTE_PORT")
	setInt(&c.Proxy.PublicPort, "PUBLIC_PORT")

	if v, ok := os.LookupEnv(envPrefix + "KILL_EXISTING"); ok {
		b := cast.ToBool(v)
		c.Proxy.KillExisting = &b
	}
}

// ApplyDefaults fills unset ports with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Proxy.LocalPort == 0 {
		c.Proxy.LocalPort = constants.DefaultLocalPort
	}
	if c.Proxy.RemotePort == 0 {
		c.Proxy.RemotePort = constants.DefaultRemotePort
	}
	if c.Proxy.PublicPort == 0 {
		c.Proxy.PublicPort = constants.DefaultPublicPort
	}
}

// KillExisting resolves the kill-existing policy, defaulting to
// kill-and-restart when the config is silent.
func (c *Config) KillExisting() bool {
	if c.Proxy.KillExisting == nil {
		return true
	}
	return *c.Proxy.KillExisting
}

// Descriptor validates the configuration and builds the immutable
// connection descriptor consumed by the core services.
func (c *Config) Descriptor() (models.ConnectionDescriptor, error) {
	return models.NewConnectionDescriptor(models.DescriptorParams{
		HostAlias:  c.SSH.HostAlias,
		Host:       c.SSH.Host,
		Username:   c.SSH.Username,
		KeyPath:    c.SSH.KeyPath,
		Password:   c.SSH.Password,
		DataPath:   c.Proxy.DataPath,
		LocalPort:  c.Proxy.LocalPort,
		RemotePort: c.Proxy.RemotePort,
		PublicPort: c.Proxy.PublicPort,
	})
}
