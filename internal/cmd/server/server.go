package server

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/config"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "server",
		Short: "Manages the stockroom server",
	}
	cmd.AddCommand(newStartCommand())
	return cmd
}

func newStartCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the ingestion workers and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewStockroomFromFile(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := config.InitializeRuntime(ctx, c)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			l := runtime.Logger.Named("stockroom.server")
			defer l.Sync()
			l.Info("starting stockroom")

			runtime.Service.Start(ctx)

			addr := c.Server.Addr
			if addr == "" {
				addr = ":8080"
			}

			if err := runtime.Server.Start(ctx, addr); err != nil {
				l.Error("server error", zap.Error(err))
				return err
			}

			runtime.Service.Wait()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}
