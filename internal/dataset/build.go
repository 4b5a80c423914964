package dataset

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// uriPathEscaper keeps '?', '#' and '%' in a cache path from being read as
// URI syntax.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// Build executes the SQL script read from r against a new SQLite database
// at path. An existing file at path is replaced.
func Build(ctx context.Context, r io.Reader, path string) error {
	script, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read dataset script: %w", err)
	}
	script = bytes.TrimPrefix(script, utf8BOM)
	if len(bytes.TrimSpace(script)) == 0 {
		return fmt.Errorf("dataset script is empty")
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale database: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+uriPathEscaper.Replace(path)+"?mode=rwc")
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=OFF; PRAGMA synchronous=OFF"); err != nil {
		return fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("execute dataset script: %w", err)
	}

	var tables int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables); err != nil {
		return fmt.Errorf("count tables: %w", err)
	}
	if tables == 0 {
		return fmt.Errorf("dataset script created no tables")
	}
	return nil
}
