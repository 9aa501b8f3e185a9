package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turbolytics/stockroom/internal/cmd/catalog"
	"github.com/turbolytics/stockroom/internal/cmd/fixtures"
	"github.com/turbolytics/stockroom/internal/cmd/imports"
	"github.com/turbolytics/stockroom/internal/cmd/server"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "stockroom",
		Short: "Streaming product catalog ingestion",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(server.NewCommand())
	cmd.AddCommand(imports.NewCommand())
	cmd.AddCommand(catalog.NewCommand())
	cmd.AddCommand(fixtures.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
