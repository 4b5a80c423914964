package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/dataset/datasettest"
	"github.com/askdb/askdb/internal/query"
)

func TestExecuteReadOnlyTruncatesAtRowCap(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, DialectSQLite, nil)

	rows := sqlmock.NewRows([]string{"Name"})
	for _, name := range []string{"a", "b", "c", "d"} {
		rows.AddRow([]byte(name))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT Name FROM Artist")).WillReturnRows(rows)

	result, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "SELECT Name FROM Artist;", RowCap: 3})
	if err != nil {
		t.Fatalf("ExecuteReadOnly() error = %v", err)
	}
	if !result.Truncated || result.RowCount != 3 || len(result.Rows) != 3 {
		t.Fatalf("result = %#v", result)
	}
	if result.Rows[0][0] != "a" {
		t.Fatalf("row[0] = %#v, want normalized string", result.Rows[0][0])
	}
	assertSQLMock(t, mock)
}

func TestExecuteReadOnlyExactlyAtCapIsNotTruncated(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, DialectSQLite, nil)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1).AddRow(2))

	result, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "SELECT 1", RowCap: 2})
	if err != nil {
		t.Fatalf("ExecuteReadOnly() error = %v", err)
	}
	if result.Truncated || result.RowCount != 2 {
		t.Fatalf("result = %#v", result)
	}
}

func TestExecuteReadOnlyWrapsDatabaseErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, DialectSQLite, nil)
	mock.ExpectQuery("SELECT Foo FROM Artist").WillReturnError(errors.New("no such column: Foo"))

	_, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "SELECT Foo FROM Artist"})
	var execErr *query.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %T %v, want *query.ExecError", err, err)
	}
	if execErr.Timeout || execErr.Message != "no such column: Foo" {
		t.Fatalf("execErr = %#v", execErr)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReadOnlyReportsTimeout(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, DialectSQLite, nil)
	mock.ExpectQuery("SELECT 1").WillDelayFor(200 * time.Millisecond).WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	_, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "SELECT 1", Timeout: 20 * time.Millisecond})
	var execErr *query.ExecError
	if !errors.As(err, &execErr) || !execErr.Timeout {
		t.Fatalf("error = %v, want timeout ExecError", err)
	}
}

func TestExecuteReadOnlyRefusesWritesWithoutTouchingDB(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, DialectSQLite, nil)

	_, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "DELETE FROM Artist"})
	if !errors.Is(err, query.ErrNotReadOnly) {
		t.Fatalf("error = %v, want ErrNotReadOnly", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReadOnlyUsesReadOnlyTransactionOnPostgres(t *testing.T) {
	db, mock := newSQLMock(t)
	exec := New(db, DialectPostgres, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name FROM artist`)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("AC/DC"))
	mock.ExpectRollback()

	result, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "SELECT name FROM artist"})
	if err != nil {
		t.Fatalf("ExecuteReadOnly() error = %v", err)
	}
	if result.RowCount != 1 || result.Rows[0][0] != "AC/DC" {
		t.Fatalf("result = %#v", result)
	}
	assertSQLMock(t, mock)
}

func TestSQLiteConnectionRefusesWrites(t *testing.T) {
	path := datasettest.BuildSQLite(t)
	db, err := OpenSQLite(context.Background(), path, PoolConfig{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec("DELETE FROM Artist"); err == nil {
		t.Fatal("expected read-only connection to refuse DELETE")
	}

	exec := New(db, DialectSQLite, nil)
	result, err := exec.ExecuteReadOnly(context.Background(), query.Request{
		SQL:    "SELECT ar.Name, count(al.AlbumId) AS Albums FROM Artist ar JOIN Album al ON al.ArtistId = ar.ArtistId GROUP BY ar.Name ORDER BY ar.Name",
		RowCap: 50,
	})
	if err != nil {
		t.Fatalf("ExecuteReadOnly() error = %v", err)
	}
	if result.RowCount != 2 || result.Columns[1] != "Albums" {
		t.Fatalf("result = %#v", result)
	}
	if result.Rows[0][0] != "AC/DC" || result.Rows[0][1] != int64(2) {
		t.Fatalf("row[0] = %#v", result.Rows[0])
	}
}

func TestOpenRequiresLocation(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), " ", PoolConfig{}); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
	if _, err := OpenPostgres(context.Background(), "", PoolConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteReadOnlyDSN(t *testing.T) {
	got := SQLiteReadOnlyDSN("/tmp/chinook.sqlite")
	want := "file:/tmp/chinook.sqlite?_pragma=query_only%281%29&_pragma=busy_timeout%285000%29&mode=ro"
	if got != want {
		t.Fatalf("SQLiteReadOnlyDSN() = %q, want %q", got, want)
	}
}

func TestSQLiteReadOnlyDSNEscapesURICharacters(t *testing.T) {
	got := SQLiteReadOnlyDSN("/cache/50%/a?b#c.sqlite")
	if !strings.HasPrefix(got, "file:/cache/50%25/a%3Fb%23c.sqlite?") {
		t.Fatalf("SQLiteReadOnlyDSN() = %q", got)
	}

	dir := filepath.Join(t.TempDir(), "odd?dir#50%")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, "chinook.sqlite")
	if err := os.Rename(datasettest.BuildSQLite(t), path); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	db, err := OpenSQLite(context.Background(), path, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var artists int
	if err := db.QueryRow("SELECT count(*) FROM Artist").Scan(&artists); err != nil {
		t.Fatalf("count artists: %v", err)
	}
	if artists != 3 {
		t.Fatalf("artists = %d", artists)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
