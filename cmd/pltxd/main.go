// Command pltxd serves PLTX recordings to remote clients: files are
// registered over HTTP and their signals streamed over websockets.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plotune/pltxd/catalog"
	"github.com/plotune/pltxd/config"
	"github.com/plotune/pltxd/pltx"
	"github.com/plotune/pltxd/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "pltxd",
		Short:         "PLTX signal streaming server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			logger := newLogger(cfg.Log)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cat := catalog.New(
				catalog.WithLogger(logger),
				catalog.WithReaderOptions(func(o *pltx.Options) {
					o.Logger = logger
					o.IOLimitBytesPerSec = cfg.Reader.IOLimitBytesPerSec
				}),
			)
			srv := server.New(cfg, cat, logger)

			logger.Info("starting", "name", cfg.Name, "addr", cfg.Addr())
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the JSON config file")
	return cmd
}

func newLogger(cfg config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
