// Package datasettest builds a small Chinook-shaped SQLite database for
// tests in other packages.
package datasettest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/dataset"
)

// Script creates a subset of the Chinook schema with a handful of rows.
const Script = `
CREATE TABLE [Artist] (
    [ArtistId] INTEGER NOT NULL,
    [Name] NVARCHAR(120),
    CONSTRAINT [PK_Artist] PRIMARY KEY ([ArtistId])
);
CREATE TABLE [Album] (
    [AlbumId] INTEGER NOT NULL,
    [Title] NVARCHAR(160) NOT NULL,
    [ArtistId] INTEGER NOT NULL,
    CONSTRAINT [PK_Album] PRIMARY KEY ([AlbumId]),
    FOREIGN KEY ([ArtistId]) REFERENCES [Artist] ([ArtistId])
);
CREATE TABLE [Genre] (
    [GenreId] INTEGER NOT NULL,
    [Name] NVARCHAR(120),
    CONSTRAINT [PK_Genre] PRIMARY KEY ([GenreId])
);
CREATE TABLE [Track] (
    [TrackId] INTEGER NOT NULL,
    [Name] NVARCHAR(200) NOT NULL,
    [AlbumId] INTEGER,
    [GenreId] INTEGER,
    [Milliseconds] INTEGER NOT NULL,
    [UnitPrice] NUMERIC(10,2) NOT NULL,
    CONSTRAINT [PK_Track] PRIMARY KEY ([TrackId]),
    FOREIGN KEY ([AlbumId]) REFERENCES [Album] ([AlbumId]),
    FOREIGN KEY ([GenreId]) REFERENCES [Genre] ([GenreId])
);
INSERT INTO [Artist] ([ArtistId], [Name]) VALUES (1, 'AC/DC');
INSERT INTO [Artist] ([ArtistId], [Name]) VALUES (2, 'Accept');
INSERT INTO [Artist] ([ArtistId], [Name]) VALUES (3, 'Aerosmith');
INSERT INTO [Album] ([AlbumId], [Title], [ArtistId]) VALUES (1, 'For Those About To Rock We Salute You', 1);
INSERT INTO [Album] ([AlbumId], [Title], [ArtistId]) VALUES (2, 'Balls to the Wall', 2);
INSERT INTO [Album] ([AlbumId], [Title], [ArtistId]) VALUES (3, 'Restless and Wild', 2);
INSERT INTO [Album] ([AlbumId], [Title], [ArtistId]) VALUES (4, 'Let There Be Rock', 1);
INSERT INTO [Genre] ([GenreId], [Name]) VALUES (1, 'Rock');
INSERT INTO [Genre] ([GenreId], [Name]) VALUES (2, 'Jazz');
INSERT INTO [Track] ([TrackId], [Name], [AlbumId], [GenreId], [Milliseconds], [UnitPrice]) VALUES (1, 'For Those About To Rock (We Salute You)', 1, 1, 343719, 0.99);
INSERT INTO [Track] ([TrackId], [Name], [AlbumId], [GenreId], [Milliseconds], [UnitPrice]) VALUES (2, 'Balls to the Wall', 2, 1, 342562, 0.99);
INSERT INTO [Track] ([TrackId], [Name], [AlbumId], [GenreId], [Milliseconds], [UnitPrice]) VALUES (3, 'Fast As a Shark', 3, 1, 230619, 0.99);
INSERT INTO [Track] ([TrackId], [Name], [AlbumId], [GenreId], [Milliseconds], [UnitPrice]) VALUES (4, 'Restless and Wild', 3, 1, 252051, 0.99);
INSERT INTO [Track] ([TrackId], [Name], [AlbumId], [GenreId], [Milliseconds], [UnitPrice]) VALUES (5, 'Go Down', 4, 1, 331180, 0.99);
`

// BuildSQLite writes the subset database into a temp dir and returns its path.
func BuildSQLite(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chinook.sqlite")
	if err := dataset.Build(context.Background(), strings.NewReader(Script), path); err != nil {
		t.Fatalf("dataset.Build() error = %v", err)
	}
	return path
}
