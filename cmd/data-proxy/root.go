package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datastreamhq/data-proxy/internal/config"
	"github.com/datastreamhq/data-proxy/internal/constants"
	"github.com/datastreamhq/data-proxy/internal/orchestrator"
	"github.com/datastreamhq/data-proxy/internal/services"
	"github.com/datastreamhq/data-proxy/pkg/file"
	"github.com/datastreamhq/data-proxy/pkg/sshconfig"
	"github.com/datastreamhq/data-proxy/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	sshHostAlias string
	sshHost      string
	sshUsername  string
	sshKeyPath   string
	sshPassword  string

	dataPath     string
	localPort    int
	remotePort   int
	publicPort   int
	killExisting bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "data-proxy",
	Short: "Serve a remote data directory over a local HTTP endpoint",
	Long: `data-proxy opens an SSH tunnel to a remote host, starts a loopback HTTP
file server there rooted at the given data directory, and proxies local
requests under /data/ through the tunnel so large datasets can be streamed
without leaving the remote host.`,
	SilenceUsage: true,
	RunE:         run,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.Flags().StringVar(&sshHostAlias, "ssh-host-alias", "", "SSH host alias from ~/.ssh/config")
	rootCmd.Flags().StringVar(&sshHost, "ssh-host", "", "SSH hostname")
	rootCmd.Flags().StringVar(&sshUsername, "ssh-username", "", "SSH username (required with --ssh-host)")
	rootCmd.Flags().StringVar(&sshKeyPath, "ssh-key-path", "", "Path to the SSH private key")
	rootCmd.Flags().StringVar(&sshPassword, "ssh-password", "", "SSH password (alternative to --ssh-key-path)")

	rootCmd.Flags().StringVar(&dataPath, "data-path", "", "Absolute path to the data directory on the remote host")
	rootCmd.Flags().IntVar(&localPort, "local-port", constants.DefaultLocalPort, "Local port for the SSH forward")
	rootCmd.Flags().IntVar(&remotePort, "remote-port", constants.DefaultRemotePort, "Remote port for the file server")
	rootCmd.Flags().IntVar(&publicPort, "public-port", constants.DefaultPublicPort, "Public port for the proxy endpoint")
	rootCmd.Flags().BoolVar(&killExisting, "kill-existing", true, "Kill a previous file server bound to the remote port")

	rootCmd.MarkFlagsMutuallyExclusive("ssh-host-alias", "ssh-host")
	rootCmd.MarkFlagsMutuallyExclusive("ssh-key-path", "ssh-password")
}

// buildConfig merges the config file, PROXY_ environment variables and CLI
// flags, in that order of precedence (flags win).
func buildConfig(cmd *cobra.Command, fileClient file.FileOperations) (*config.Config, error) {
	cfg := &config.Config{}
	if cfgFile != "" {
		loaded, err := config.LoadConfig(cfgFile, fileClient)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", cfgFile, err)
		}
		cfg = loaded
	}

	cfg.ApplyEnv()

	flagString := func(dst *string, name string, value string) {
		if cmd.Flags().Changed(name) {
			*dst = value
		}
	}
	flagInt := func(dst *int, name string, value int) {
		if cmd.Flags().Changed(name) {
			*dst = value
		}
	}

	flagString(&cfg.SSH.HostAlias, "ssh-host-alias", sshHostAlias)
	flagString(&cfg.SSH.Host, "ssh-host", sshHost)
	flagString(&cfg.SSH.Username, "ssh-username", sshUsername)
	flagString(&cfg.SSH.KeyPath, "ssh-key-path", sshKeyPath)
	flagString(&cfg.SSH.Password, "ssh-password", sshPassword)
	flagString(&cfg.Proxy.DataPath, "data-path", dataPath)
	flagInt(&cfg.Proxy.LocalPort, "local-port", localPort)
	flagInt(&cfg.Proxy.RemotePort, "remote-port", remotePort)
	flagInt(&cfg.Proxy.PublicPort, "public-port", publicPort)
	if cmd.Flags().Changed("kill-existing") {
		cfg.Proxy.KillExisting = &killExisting
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	cfg, err := buildConfig(cmd, fileClient)
	if err != nil {
		return err
	}

	descriptor, err := cfg.Descriptor()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	resolver, err := sshconfig.NewFileResolver(cfg.SSH.ConfigFile, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load SSH config file")
		return err
	}

	sshTransport := transport.NewSSHTransport(fileClient, logger)
	tunnel := services.NewTunnelService(descriptor, sshTransport, resolver, logger, 0, 0)
	launcher := services.NewLauncherService(descriptor, cfg.KillExisting(), logger)
	proxy := services.NewProxyService(descriptor, logger)

	orch := orchestrator.New(tunnel, launcher, proxy, constants.ShutdownStepTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start data proxy")
		return err
	}
	logger.Info().Msgf("Data proxy running. Access data at http://localhost:%d/data/", descriptor.PublicPort)

	<-ctx.Done()
	stop()

	logger.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return orch.Stop(shutdownCtx)
}
