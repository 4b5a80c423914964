package duckdb

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/schema/introspect"
	"github.com/askdb/askdb/internal/storage"
)

type artistRow struct {
	ArtistID int64  `parquet:"ArtistId"`
	Name     string `parquet:"Name"`
}

type albumRow struct {
	AlbumID  int64  `parquet:"AlbumId"`
	Title    string `parquet:"Title"`
	ArtistID int64  `parquet:"ArtistId"`
}

func TestOpenLoadsParquetTables(t *testing.T) {
	store := chinookStore(t)

	db, err := Open(context.Background(), store, Config{Prefix: "tables"}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	workDir := db.workDir
	t.Cleanup(func() { _ = db.Close() })

	if strings.Join(db.Tables, ",") != "Album,Artist" {
		t.Fatalf("Tables = %#v", db.Tables)
	}
	if db.ScannedFiles != 3 {
		t.Fatalf("ScannedFiles = %d", db.ScannedFiles)
	}

	exec := sqldb.New(db.DB, sqldb.DialectDuckDB, nil)
	result, err := exec.ExecuteReadOnly(context.Background(), query.Request{
		SQL:    "SELECT ar.Name, COUNT(*) AS albums FROM Album al JOIN Artist ar ON ar.ArtistId = al.ArtistId GROUP BY ar.Name ORDER BY albums DESC, ar.Name;",
		RowCap: 1,
	})
	if err != nil {
		t.Fatalf("ExecuteReadOnly() error = %v", err)
	}
	if !result.Truncated || result.RowCount != 1 {
		t.Fatalf("result = %#v", result)
	}
	if result.Rows[0][0] != "AC/DC" || result.Rows[0][1] != int64(2) {
		t.Fatalf("row = %#v", result.Rows[0])
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("work dir should be removed, stat error = %v", err)
	}
}

func TestIntrospectDuckDBTablesWithRelations(t *testing.T) {
	db, err := Open(context.Background(), chinookStore(t), Config{Prefix: "tables", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := introspect.Load(context.Background(), db.DB, sqldb.DialectDuckDB, introspect.Options{SampleRows: 1})
	if err != nil {
		t.Fatalf("introspect.Load() error = %v", err)
	}
	relations, err := schema.ParseRelations("Album.ArtistId->Artist.ArtistId")
	if err != nil {
		t.Fatalf("ParseRelations() error = %v", err)
	}
	s, err = s.WithRelations(relations)
	if err != nil {
		t.Fatalf("WithRelations() error = %v", err)
	}
	album, ok := s.Table("Album")
	if !ok || len(album.Columns) != 3 || len(album.ForeignKeys) != 1 {
		t.Fatalf("Album = %#v", album)
	}
	if len(album.SampleRows) != 1 {
		t.Fatalf("Album samples = %#v", album.SampleRows)
	}
}

func TestOpenRefusesFileAccess(t *testing.T) {
	db, err := Open(context.Background(), chinookStore(t), Config{Prefix: "tables", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	secret := filepath.Join(t.TempDir(), "hostname")
	if err := os.WriteFile(secret, []byte("build-host"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	quoted := "'" + strings.ReplaceAll(secret, "'", "''") + "'"

	exec := sqldb.New(db.DB, sqldb.DialectDuckDB, nil)
	for _, sqlText := range []string{
		"SELECT * FROM read_text(" + quoted + ")",
		"SELECT * FROM glob(" + quoted + ")",
		"SELECT * FROM read_parquet(" + quoteStringArray([]string{db.workDir + "/*.parquet"}) + ")",
	} {
		result, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: sqlText})
		if err == nil {
			t.Fatalf("ExecuteReadOnly(%q) = %#v, want error", sqlText, result.Rows)
		}
	}
	if _, err := db.DB.ExecContext(context.Background(), "SET GLOBAL enable_external_access = true"); err == nil {
		t.Fatal("configuration should be locked")
	}

	result, err := exec.ExecuteReadOnly(context.Background(), query.Request{SQL: "SELECT COUNT(*) FROM Album"})
	if err != nil {
		t.Fatalf("ExecuteReadOnly() error = %v", err)
	}
	if result.Rows[0][0] != int64(3) {
		t.Fatalf("album count = %#v", result.Rows[0][0])
	}
}

func TestOpenFailsWithoutTableFiles(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"tables/readme.txt": []byte("x")}}
	if _, err := Open(context.Background(), store, Config{Prefix: "tables"}, nil); err == nil {
		t.Fatal("expected error when no parquet files exist")
	}
}

func chinookStore(t *testing.T) *memoryStore {
	t.Helper()
	artists := buildParquet(t, []artistRow{{ArtistID: 1, Name: "AC/DC"}, {ArtistID: 2, Name: "Accept"}})
	albumsA := buildParquet(t, []albumRow{{AlbumID: 1, Title: "For Those About To Rock We Salute You", ArtistID: 1}})
	albumsB := buildParquet(t, []albumRow{{AlbumID: 2, Title: "Balls to the Wall", ArtistID: 2}, {AlbumID: 4, Title: "Let There Be Rock", ArtistID: 1}})
	return &memoryStore{objects: map[string][]byte{
		"tables/Artist/part-0.parquet": artists,
		"tables/Album/part-0.parquet":  albumsA,
		"tables/Album/part-1.parquet":  albumsB,
	}}
}

func buildParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	body, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, body := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(body))})
		}
	}
	return out, nil
}
