package cli

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/storage"
)

func newDatasetCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage the cached sample database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "fetch",
		Short: "Download and build the cached SQLite database, then print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.config()
			if err != nil {
				return err
			}
			path, err := app.EnsureDataset(cmd.Context(), cfg, rt.logger(cfg))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Publish the dataset as parquet tables for the duckdb backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.config()
			if err != nil {
				return err
			}
			objects, err := rt.opts.Objects(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			export, err := app.ExportDataset(cmd.Context(), cfg, objects, rt.logger(cfg))
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Table", "Rows", "Bytes", "Key"})
			for _, exported := range export.Tables {
				t.AppendRow(table.Row{exported.Table, exported.Rows, exported.Bytes, exported.Key})
			}
			t.Render()
			if export.Relations != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ASKDB_DUCKDB_RELATIONS=%s\n", export.Relations)
			}
			return nil
		},
	})
	return cmd
}

func openObjectWriter(ctx context.Context, cfg config.Config) (storage.ObjectWriter, error) {
	objects, err := app.OpenObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return objects, nil
}
