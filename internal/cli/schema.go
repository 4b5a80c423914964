package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/schema"
)

func newSchemaCommand(rt *runtime) *cobra.Command {
	var tablesOnly bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description handed to the language model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, release, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			if tablesOnly {
				renderTables(cmd.OutOrStdout(), session.Schema())
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), session.SchemaText())
			return nil
		},
	}
	cmd.Flags().BoolVar(&tablesOnly, "tables", false, "Print a table summary instead of the full description")
	return cmd
}

func renderTables(w io.Writer, s *schema.Schema) {
	if s == nil || len(s.Tables) == 0 {
		_, _ = fmt.Fprintln(w, "(0 tables)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Columns", "Primary key", "References"})
	for _, tbl := range s.Tables {
		refs := make([]string, 0, len(tbl.ForeignKeys))
		for _, fk := range tbl.ForeignKeys {
			refs = append(refs, fk.Column+" -> "+fk.RefTable+"."+fk.RefColumn)
		}
		t.AppendRow(table.Row{tbl.Name, len(tbl.Columns), strings.Join(tbl.PrimaryKey(), ", "), strings.Join(refs, ", ")})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d tables)\n", len(s.Tables))
}
