package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clipboard-history/internal/config"
	"clipboard-history/internal/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clipctl:", err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs to reach the daemon.
type app struct {
	v       *viper.Viper
	timeout time.Duration
	asJSON  bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "clipctl",
		Short:         "Query and manage the clipboard history kept by clipd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("data-dir", "", "clipd data directory")
	flags.String("socket", "", "clipd socket path (default {data-dir}/clipd.sock)")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")
	flags.BoolVar(&a.asJSON, "json", false, "print raw JSON")
	_ = a.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = a.v.BindPFlag("socket", flags.Lookup("socket"))

	root.AddCommand(
		a.listCmd(),
		a.searchCmd(),
		a.tagCmd(),
		a.untagCmd(),
		a.pasteCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.clearCmd(),
		a.statusCmd(),
	)
	return root
}

// call dials the daemon, runs fn and hangs up.
func (a *app) call(cmd *cobra.Command, fn func(ctx context.Context, c *protocol.Client) error) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	client, err := protocol.Dial(ctx, cfg.Socket, protocol.WithMaxFrameSize(cfg.Server.MaxFrameBytes))
	if err != nil {
		return fmt.Errorf("is clipd running? %w", err)
	}
	defer client.Close()
	return fn(ctx, client)
}
