package api

import (
	"net/http"

	"github.com/askdb/askdb/internal/auth"
)

type schemaColumn struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

type schemaForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

type schemaTable struct {
	Name        string             `json:"name"`
	Columns     []schemaColumn     `json:"columns"`
	ForeignKeys []schemaForeignKey `json:"foreign_keys"`
}

type schemaResponse struct {
	Tables []schemaTable `json:"tables"`
	Text   string        `json:"text"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Answerer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "answer pipeline is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleSchemaReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	response := schemaResponse{Tables: []schemaTable{}, Text: deps.Answerer.SchemaText()}
	if s := deps.Answerer.Schema(); s != nil {
		for _, table := range s.Tables {
			item := schemaTable{
				Name:        table.Name,
				Columns:     make([]schemaColumn, 0, len(table.Columns)),
				ForeignKeys: make([]schemaForeignKey, 0, len(table.ForeignKeys)),
			}
			for _, col := range table.Columns {
				item.Columns = append(item.Columns, schemaColumn{
					Name:       col.Name,
					Type:       col.Type,
					Nullable:   col.Nullable,
					PrimaryKey: col.PrimaryKey,
				})
			}
			for _, fk := range table.ForeignKeys {
				item.ForeignKeys = append(item.ForeignKeys, schemaForeignKey{
					Column:    fk.Column,
					RefTable:  fk.RefTable,
					RefColumn: fk.RefColumn,
				})
			}
			response.Tables = append(response.Tables, item)
		}
	}
	writeJSON(w, http.StatusOK, response)
}
