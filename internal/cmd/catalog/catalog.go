package catalog

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/config"
	"github.com/turbolytics/stockroom/internal/export"
	"github.com/turbolytics/stockroom/internal/objectstore"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "catalog",
		Short: "Manages the product catalog",
	}
	cmd.AddCommand(newExportCommand())
	return cmd
}

func newExportCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports the product catalog as a parquet snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewStockroomFromFile(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			runtime, err := config.InitializeRuntime(ctx, c)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			l := runtime.Logger.Named("stockroom.catalog.export")
			defer l.Sync()

			output := viper.GetString("output")
			key := viper.GetString("key")

			repository, err := objectstore.NewRepository(output,
				objectstore.WithRegion(c.Source.S3.Region),
				objectstore.WithEndpoint(c.Source.S3.Endpoint),
				objectstore.WithForcePathStyle(c.Source.S3.ForcePathStyle),
				objectstore.WithLogger(l),
			)
			if err != nil {
				return err
			}

			exporter := export.NewParquetExporter(runtime.Catalog, repository,
				export.ParquetExporterWithLogger(l),
			)

			rows, err := exporter.Export(ctx, key)
			if err != nil {
				return err
			}

			l.Info("export complete",
				zap.String("output", output),
				zap.String("key", key),
				zap.Int("rows", rows),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	cmd.PersistentFlags().StringP("output", "o", ".", "Output URI (s3://bucket/prefix or a local directory)")
	cmd.PersistentFlags().StringP("key", "k", "products.parquet", "Object key for the exported snapshot")
	viper.BindPFlag("output", cmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("STOCKROOM")

	return cmd
}
