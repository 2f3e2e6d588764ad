package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/iTrooz/offline-cache/internal/proxy"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the configured cache generation and start the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		server, err := proxy.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create proxy server: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() { errc <- server.Start() }()

		select {
		case err = <-errc:
		case <-ctx.Done():
			logrus.Info("Shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
