// Package dataset acquires the SQL script of the sample database and
// materializes it once into a cached SQLite file.
package dataset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/askdb/askdb/internal/storage"
)

const maxErrorBody = 512

// Fetcher opens dataset scripts from local paths, file:// and http(s) URLs,
// or s3://bucket/key objects in the configured object store.
type Fetcher struct {
	HTTPClient *http.Client
	Objects    storage.ObjectStore
	Bucket     string
	Logger     *slog.Logger
}

func (f *Fetcher) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("dataset source is required")
	}
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return f.openHTTP(ctx, source)
	case strings.HasPrefix(source, "s3://"):
		return f.openObject(ctx, source)
	case strings.HasPrefix(source, "file://"):
		parsed, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("parse dataset source: %w", err)
		}
		return openFile(parsed.Path)
	default:
		return openFile(source)
	}
}

func (f *Fetcher) openHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download dataset: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("download dataset failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if f.Logger != nil {
		f.Logger.InfoContext(ctx, "dataset_download", slog.String("source", source), slog.Int64("content_length", resp.ContentLength))
	}
	return resp.Body, nil
}

func (f *Fetcher) openObject(ctx context.Context, source string) (io.ReadCloser, error) {
	if f.Objects == nil {
		return nil, fmt.Errorf("dataset source %q needs an object store", source)
	}
	bucket, key, err := storage.ParseObjectURL(source)
	if err != nil {
		return nil, err
	}
	if f.Bucket != "" && bucket != f.Bucket {
		return nil, fmt.Errorf("dataset bucket %q does not match object store bucket %q", bucket, f.Bucket)
	}
	reader, err := f.Objects.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset object: %w", err)
	}
	return reader, nil
}

func openFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	return file, nil
}
