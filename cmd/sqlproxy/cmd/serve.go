package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattrobinsonsre/sqlproxy/pkg/audit"
	"github.com/mattrobinsonsre/sqlproxy/pkg/proxy"
)

var auditQueries bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := proxy.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}

		logLevel := slog.LevelInfo
		if cfg.Debug {
			logLevel = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)

		var newHandler func() proxy.PacketHandler
		if auditQueries {
			newHandler = func() proxy.PacketHandler {
				return audit.NewHandler(cfg.BackendType, logger, nil)
			}
		}

		srv, err := proxy.NewServer(cfg, newHandler, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Run(ctx)
		}()

		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
			return srv.Shutdown(context.Background())
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&auditQueries, "audit", false, "log SQL queries extracted from the wire protocol")
	rootCmd.AddCommand(serveCmd)
}
