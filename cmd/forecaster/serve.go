package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forecaster/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port    int
		devMode bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, info, baseDir, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// config.toml / 环境变量显式指定的端口优先
			if port > 0 && !info.PortSpecified {
				cfg.Server.Port = port
			}
			if devMode {
				cfg.Server.DevMode = true
			}

			a, err := openApp(cfg, baseDir)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.NewServer(cfg, a.svc, a.log)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Run()
			}()

			color.New(color.FgGreen, color.Bold).Printf("forecaster listening on http://localhost:%d\n", cfg.Server.Port)
			fmt.Println("Press Ctrl+C to stop")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			a.log.Info().Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (ignored when config.toml sets server.port)")
	cmd.Flags().BoolVar(&devMode, "dev", false, "development mode")
	return cmd
}
