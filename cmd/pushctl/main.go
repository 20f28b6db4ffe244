package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zereker/push"
	"github.com/Zereker/push/internal/config"
	"github.com/Zereker/push/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "pushctl",
		Short: "Client for the framed push-notification protocol",
		Long: `pushctl connects to a push server, subscribes, keeps the connection
alive with heartbeats and prints every pushed message.

Examples:
  pushctl listen --addr 127.0.0.1:12345 --uid alice
  pushctl listen --config pushctl.yaml --metrics-addr :9100`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (console, json)")

	rootCmd.AddCommand(newListenCommand(&flags))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the protocol version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pushctl protocol v%d\n", push.ProtocolVersion)
		},
	}
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = flags.logFormat
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
