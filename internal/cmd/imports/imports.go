package imports

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/config"
	"github.com/turbolytics/stockroom/internal/source"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "imports",
		Short: "Manages catalog imports",
	}
	cmd.AddCommand(newInvokeCommand())
	return cmd
}

// newInvokeCommand runs a single import to completion and exits.
func newInvokeCommand() *cobra.Command {
	var configPath string
	var sourceURI string
	var format string

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Runs one import from a source file and waits for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewStockroomFromFile(configPath)
			if err != nil {
				return err
			}

			f, err := source.ParseFormat(format)
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

			l := runtime.Logger.Named("stockroom.imports.invoke")
			defer l.Sync()

			runtime.Service.Start(ctx)

			id, err := runtime.Service.Submit(ctx, sourceURI, f)
			if err != nil {
				return err
			}
			l.Info("import submitted", zap.String("job_id", id.String()))

			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}

				job, err := runtime.Service.Get(ctx, id)
				if err != nil {
					return err
				}

				p := job.Progress()
				l.Info("progress",
					zap.String("status", string(p.Status)),
					zap.Int("processed", p.ProcessedRecords),
					zap.Float64("percent", p.Percent),
				)

				if p.Terminal {
					l.Info("import finished",
						zap.String("status", string(p.Status)),
						zap.Int("created", p.CreatedCount),
						zap.Int("updated", p.UpdatedCount),
						zap.Int("errors", p.ErrorCount),
						zap.String("error_summary", job.ErrorSummary),
					)
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&sourceURI, "source", "s", "", "Source URI (s3://bucket/key, file:///path, or a local path)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Source format (csv or xlsx)")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("source")

	return cmd
}
