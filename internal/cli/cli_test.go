package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/dataset/datasettest"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
)

type fakeSession struct {
	mu        sync.Mutex
	questions []string
	delays    map[string]time.Duration
}

func (f *fakeSession) Answer(_ context.Context, question string) pipeline.Answer {
	if d := f.delays[question]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	f.questions = append(f.questions, question)
	f.mu.Unlock()
	if strings.Contains(strings.ToLower(question), "weather") {
		return pipeline.Answer{Text: pipeline.RefusalAnswer, Outcome: pipeline.OutcomeRefused, RunID: "r-refused"}
	}
	return pipeline.Answer{
		Text:     "answer to " + question,
		Outcome:  pipeline.OutcomeAnswered,
		SQL:      "SELECT COUNT(*) FROM Artist",
		RunID:    "r-" + question,
		Attempts: 1,
	}
}

func (f *fakeSession) Schema() *schema.Schema {
	return &schema.Schema{Tables: []schema.Table{
		{
			Name: "Artist",
			Columns: []schema.Column{
				{Name: "ArtistId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "NVARCHAR(120)"},
			},
		},
		{
			Name: "Album",
			Columns: []schema.Column{
				{Name: "AlbumId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Title", Type: "NVARCHAR(160)"},
				{Name: "ArtistId", Type: "INTEGER"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "ArtistId", RefTable: "Artist", RefColumn: "ArtistId"}},
		},
	}}
}

func (f *fakeSession) SchemaText() string {
	return "Table Artist (ArtistId INTEGER PRIMARY KEY, Name NVARCHAR(120))"
}

type harness struct {
	session  *fakeSession
	opened   atomic.Int32
	released atomic.Int32
	openErr  error
	values   map[string]string
	client   *http.Client
	objects  *memoryWriter
}

func newHarness() *harness {
	return &harness{session: &fakeSession{}, values: map[string]string{}}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(Options{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
		LoadConfig: func() (config.Config, error) {
			return config.Load(serviceName, func(key string) (string, bool) {
				value, ok := h.values[key]
				return value, ok
			})
		},
		Open: func(context.Context, config.Config, *slog.Logger) (Session, func() error, error) {
			if h.openErr != nil {
				return nil, nil, h.openErr
			}
			h.opened.Add(1)
			return h.session, func() error {
				h.released.Add(1)
				return nil
			}, nil
		},
		Objects: func(context.Context, config.Config) (storage.ObjectWriter, error) {
			if h.objects == nil {
				return nil, errors.New("object store not configured")
			}
			return h.objects, nil
		},
		HTTPClient: h.client,
		Getenv:     func(string) string { return "" },
	})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestAskPrintsAnswer(t *testing.T) {
	h := newHarness()
	out, _, err := h.run(t, "", "ask", "How", "many", "artists?")
	require.NoError(t, err)

	assert.Equal(t, "answer to How many artists?\n", out)
	assert.Equal(t, []string{"How many artists?"}, h.session.questions)
	assert.EqualValues(t, 1, h.opened.Load())
	assert.EqualValues(t, 1, h.released.Load())
}

func TestAskShowSQL(t *testing.T) {
	h := newHarness()
	out, _, err := h.run(t, "", "ask", "--show-sql", "How many artists?")
	require.NoError(t, err)

	assert.Equal(t, "SQL: SELECT COUNT(*) FROM Artist\nanswer to How many artists?\n", out)
}

func TestAskShowSQLOmittedWhenRefused(t *testing.T) {
	h := newHarness()
	out, _, err := h.run(t, "", "ask", "--show-sql", "What is the weather?")
	require.NoError(t, err)

	assert.Equal(t, pipeline.RefusalAnswer+"\n", out)
}

func TestAskJSON(t *testing.T) {
	h := newHarness()
	out, _, err := h.run(t, "", "ask", "--json", "How many artists?")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "How many artists?", decoded["question"])
	assert.Equal(t, "answer to How many artists?", decoded["answer"])
	assert.Equal(t, "answered", decoded["outcome"])
	assert.Equal(t, "SELECT COUNT(*) FROM Artist", decoded["sql"])
}

func TestAskFileParallelKeepsOrder(t *testing.T) {
	h := newHarness()
	h.session.delays = map[string]time.Duration{"first": 30 * time.Millisecond}
	path := filepath.Join(t.TempDir(), "questions.txt")
	require.NoError(t, os.WriteFile(path, []byte("first\n\n# comment\nsecond\nthird\n"), 0o644))

	out, _, err := h.run(t, "", "ask", "--file", path, "--parallel", "3")
	require.NoError(t, err)

	assert.Equal(t, "Q: first\nanswer to first\n\nQ: second\nanswer to second\n\nQ: third\nanswer to third\n", out)
	assert.ElementsMatch(t, []string{"first", "second", "third"}, h.session.questions)
	assert.EqualValues(t, 1, h.opened.Load())
}

func TestAskFileFromStdin(t *testing.T) {
	h := newHarness()
	out, _, err := h.run(t, "one\ntwo\n", "ask", "--file", "-", "--json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"question":"one"`)
	assert.Contains(t, lines[1], `"question":"two"`)
}

func TestAskRequiresQuestion(t *testing.T) {
	h := newHarness()
	_, _, err := h.run(t, "", "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question")
	assert.EqualValues(t, 0, h.opened.Load())

	_, _, err = h.run(t, "", "ask", "--file", "x.txt", "extra")
	require.Error(t, err)
}

func TestAskOpenFailure(t *testing.T) {
	h := newHarness()
	h.openErr = errors.New("sqlite database: no such file")
	_, _, err := h.run(t, "", "ask", "anything")
	require.EqualError(t, err, "sqlite database: no such file")
}

func TestAskConfigFailure(t *testing.T) {
	h := newHarness()
	h.values["ASKDB_STORE_BACKEND"] = "oracle"
	_, _, err := h.run(t, "", "ask", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASKDB_STORE_BACKEND")
}

func TestSchemaCommand(t *testing.T) {
	h := newHarness()
	out, _, err := h.run(t, "", "schema")
	require.NoError(t, err)
	assert.Equal(t, h.session.SchemaText()+"\n", out)

	out, _, err = h.run(t, "", "schema", "--tables")
	require.NoError(t, err)
	assert.Contains(t, out, "Artist")
	assert.Contains(t, out, "ArtistId -> Artist.ArtistId")
	assert.Contains(t, out, "(2 tables)")
}

func TestDatasetFetch(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "chinook.sql")
	require.NoError(t, os.WriteFile(script, []byte(datasettest.Script), 0o644))

	h := newHarness()
	h.values["ASKDB_DATASET_SOURCE_URL"] = script
	h.values["ASKDB_DATASET_CACHE_DIR"] = filepath.Join(dir, "cache")
	out, _, err := h.run(t, "", "dataset", "fetch")
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Equal(t, filepath.Join(dir, "cache"), filepath.Dir(path))
}

type memoryWriter struct {
	mu      sync.Mutex
	objects map[string]int
}

func (m *memoryWriter) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = len(data)
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func TestDatasetExport(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "chinook.sql")
	require.NoError(t, os.WriteFile(script, []byte(datasettest.Script), 0o644))

	h := newHarness()
	h.values["ASKDB_DATASET_SOURCE_URL"] = script
	h.values["ASKDB_DATASET_CACHE_DIR"] = filepath.Join(dir, "cache")
	h.values["ASKDB_DUCKDB_PREFIX"] = "chinook"
	h.objects = &memoryWriter{objects: map[string]int{}}

	out, _, err := h.run(t, "", "dataset", "export")
	require.NoError(t, err)

	assert.Len(t, h.objects.objects, 4)
	assert.Positive(t, h.objects.objects["chinook/Artist/part-0.parquet"])
	assert.Contains(t, out, "chinook/Track/part-0.parquet")
	assert.Contains(t, out, "ASKDB_DUCKDB_RELATIONS=")
	assert.Contains(t, out, "Album.ArtistId->Artist.ArtistId")
}

func TestDatasetExportWithoutObjectStore(t *testing.T) {
	h := newHarness()
	_, _, err := h.run(t, "", "dataset", "export")
	require.EqualError(t, err, "object store not configured")
}

type scriptedLines struct {
	lines  []string
	closed bool
}

func (s *scriptedLines) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	if line == "^C" {
		return "", readline.ErrInterrupt
	}
	return line, nil
}

func (s *scriptedLines) Close() error {
	s.closed = true
	return nil
}

func TestREPLLoop(t *testing.T) {
	session := &fakeSession{}
	var out, errOut bytes.Buffer
	state := &replState{session: session, out: &out, errOut: &errOut}
	lines := &scriptedLines{lines: []string{
		"",
		"How many artists?",
		".sql on",
		"^C",
		"How many albums?",
		".tables",
		".schema",
		".sql maybe",
		".nope",
		"Q",
		"never asked",
	}}

	require.NoError(t, state.run(context.Background(), lines))

	assert.True(t, lines.closed)
	assert.Equal(t, []string{"How many artists?", "How many albums?"}, session.questions)
	text := out.String()
	assert.Contains(t, text, "answer to How many artists?\n")
	assert.Contains(t, text, "show sql: on\n")
	assert.Contains(t, text, "SQL: SELECT COUNT(*) FROM Artist\nanswer to How many albums?\n")
	assert.Equal(t, 1, strings.Count(text, "SQL:"))
	assert.Contains(t, text, "(2 tables)")
	assert.Contains(t, text, session.SchemaText())
	assert.Contains(t, errOut.String(), "usage: .sql on|off")
	assert.Contains(t, errOut.String(), "unknown command .nope")
}

func TestREPLStopsAtEOF(t *testing.T) {
	session := &fakeSession{}
	var out bytes.Buffer
	state := &replState{session: session, out: &out, errOut: io.Discard}

	require.NoError(t, state.run(context.Background(), &scriptedLines{lines: []string{"hello"}}))
	assert.Equal(t, []string{"hello"}, session.questions)
}

func TestRemoteHealthAndSchema(t *testing.T) {
	var gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/health":
			_, _ = w.Write([]byte(`{"status":"ok","service":"askdb-api"}`))
		case "/v1/schema":
			_, _ = w.Write([]byte(`{"tables":[{"name":"Artist"}],"text":"Table Artist"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newHarness()
	out, _, err := h.run(t, "", "remote", "health", "--base-url", srv.URL, "--api-key", "k1")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ok"`)
	assert.Equal(t, "k1", gotAPIKey)

	out, _, err = h.run(t, "", "remote", "--base-url", srv.URL+"/", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Artist"`)
	assert.EqualValues(t, 0, h.opened.Load())
}

func TestRemoteAsk(t *testing.T) {
	var gotMethod, gotPath, gotQuestion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuestion = body["question"]
		_, _ = w.Write([]byte(`{"answer":"There are 275 artists.","outcome":"answered","sql":"SELECT COUNT(*) FROM Artist","run_id":"r1"}`))
	}))
	defer srv.Close()

	h := newHarness()
	out, _, err := h.run(t, "", "remote", "--base-url", srv.URL, "ask", "--show-sql", "How", "many", "artists?")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/answer", gotPath)
	assert.Equal(t, "How many artists?", gotQuestion)
	assert.Equal(t, "SQL: SELECT COUNT(*) FROM Artist\nThere are 275 artists.\n", out)

	out, _, err = h.run(t, "", "remote", "--base-url", srv.URL, "ask", "--json", "x")
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id": "r1"`)
}

func TestRemoteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	h := newHarness()
	_, _, err := h.run(t, "", "remote", "--base-url", srv.URL, "ready")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 401")
	assert.Contains(t, err.Error(), "UNAUTHORIZED")
}

func TestCollectQuestions(t *testing.T) {
	questions, err := collectQuestions([]string{"  Which", "genre?  "}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Which genre?"}, questions)

	_, err = collectQuestions(nil, "-", strings.NewReader("\n# only comments\n"))
	require.Error(t, err)

	_, err = collectQuestions(nil, filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.Error(t, err)
}
