package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clipboard-history/internal/config"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/service"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clipd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "clipd",
		Short: "Clipboard history daemon",
		Long: `clipd watches the system clipboard and keeps a bounded, searchable
history of everything copied. Clients talk to it over a local socket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.String("data-dir", "", "directory for the database, socket and pid file")
	flags.String("db", "", "history database path (default {data-dir}/history.db)")
	flags.String("socket", "", "client socket path (default {data-dir}/clipd.sock)")
	flags.Int("max-entries", 0, "retention ceiling")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	flags.String("log-file", "", "append logs to this file instead of stderr")
	flags.String("http-addr", "", "serve the loopback status API on this address")

	for key, flag := range map[string]string{
		"data_dir":         "data-dir",
		"db_path":          "db",
		"socket":           "socket",
		"max_entries":      "max-entries",
		"log_level":        "log-level",
		"log_format":       "log-format",
		"log_file":         "log-file",
		"server.http_addr": "http-addr",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newStopCmd(v))
	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, closer, err := logging.Open(cfg.LogFile, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := service.New(service.Options{
		Config:  cfg,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	return daemon.Run(ctx)
}

func newStopCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			pid, err := service.StopRunning(cfg.PIDPath())
			if errors.Is(err, service.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "clipd is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent stop signal to clipd (pid %d)\n", pid)
			return nil
		},
	}
}
