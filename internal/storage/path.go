package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// TableFile is a parquet object holding rows of one table, stored as
// <prefix>/<table>/<file>.parquet.
type TableFile struct {
	Table string
	Key   string
	Size  int64
}

// GroupTableFiles maps listed objects under prefix to the tables they hold.
// Objects that are not parquet files directly below a table directory are
// skipped. The result is ordered by table, then key.
func GroupTableFiles(prefix string, objects []ObjectInfo) ([]TableFile, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	var out []TableFile
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, "/")
		if prefix != "" {
			if !strings.HasPrefix(rel, prefix+"/") {
				continue
			}
			rel = strings.TrimPrefix(rel, prefix+"/")
		}
		table, file, ok := strings.Cut(rel, "/")
		if !ok || strings.Contains(file, "/") || !strings.HasSuffix(strings.ToLower(file), ".parquet") {
			continue
		}
		if err := validatePathComponent(table, "table name"); err != nil {
			return nil, err
		}
		out = append(out, TableFile{Table: table, Key: obj.Key, Size: obj.Size})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// TableFileKey is the key of the part-th parquet file of table under prefix.
// It rejects table names GroupTableFiles would not read back.
func TableFileKey(prefix, table string, part int) (string, error) {
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join(strings.Trim(strings.TrimSpace(prefix), "/"), table, fmt.Sprintf("part-%d.parquet", part)), nil
}

// ParseObjectURL splits s3://bucket/key into its parts.
func ParseObjectURL(raw string) (bucket, key string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse object url: %w", err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("object url must use s3://, got %q", raw)
	}
	key = strings.TrimPrefix(path.Clean("/"+parsed.Path), "/")
	if parsed.Host == "" || key == "" {
		return "", "", fmt.Errorf("object url %q needs a bucket and a key", raw)
	}
	return parsed.Host, key, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
