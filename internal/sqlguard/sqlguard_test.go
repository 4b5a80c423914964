package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/schema"
)

func chinook() *schema.Schema {
	return &schema.Schema{Tables: []schema.Table{
		{Name: "Artist", Columns: []schema.Column{{Name: "ArtistId", PrimaryKey: true}, {Name: "Name"}}},
		{Name: "Album", Columns: []schema.Column{{Name: "AlbumId", PrimaryKey: true}, {Name: "Title"}, {Name: "ArtistId"}}},
		{Name: "Track", Columns: []schema.Column{
			{Name: "TrackId", PrimaryKey: true}, {Name: "Name"}, {Name: "AlbumId"}, {Name: "GenreId"},
			{Name: "Milliseconds"}, {Name: "UnitPrice"},
		}},
		{Name: "Genre", Columns: []schema.Column{{Name: "GenreId", PrimaryKey: true}, {Name: "Name"}}},
		{Name: "Invoice", Columns: []schema.Column{{Name: "InvoiceId", PrimaryKey: true}, {Name: "InvoiceDate"}, {Name: "Total"}, {Name: "BillingCountry"}}},
	}}
}

func TestValidateAcceptsReadOnlyQueries(t *testing.T) {
	v := New(chinook())
	queries := []string{
		"SELECT COUNT(*) FROM Artist",
		"select count(*) from artist;",
		"SELECT Name FROM Artist WHERE Name LIKE 'A%' ORDER BY Name LIMIT 5",
		"SELECT a.Title, ar.Name FROM Album a JOIN Artist ar ON a.ArtistId = ar.ArtistId",
		"SELECT Album.Title FROM Album INNER JOIN Artist AS x USING (ArtistId) WHERE x.Name = 'AC/DC'",
		"SELECT g.Name, COUNT(t.TrackId) AS track_count FROM Genre g LEFT JOIN Track t ON t.GenreId = g.GenreId GROUP BY g.Name ORDER BY track_count DESC",
		"SELECT Name, Milliseconds / 60000.0 minutes FROM Track ORDER BY minutes DESC LIMIT 3",
		"WITH top AS (SELECT ArtistId, COUNT(*) AS n FROM Album GROUP BY ArtistId) SELECT Artist.Name, top.n FROM top JOIN Artist ON Artist.ArtistId = top.ArtistId",
		"WITH RECURSIVE nums(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM nums WHERE x < 3) SELECT x FROM nums",
		"SELECT sub.total FROM (SELECT SUM(Total) AS total FROM Invoice) AS sub",
		"SELECT strftime('%Y', InvoiceDate) AS year, SUM(Total) FROM Invoice GROUP BY 1",
		"SELECT EXTRACT(YEAR FROM InvoiceDate) AS y FROM Invoice",
		"SELECT BillingCountry, Total::numeric FROM Invoice",
		"SELECT \"Name\" FROM \"Artist\" -- trailing comment",
		"SELECT [Name] FROM [Artist] /* block */",
		"SELECT Name FROM Artist WHERE ArtistId IN (SELECT ArtistId FROM Album WHERE Title LIKE '%Rock%')",
		"SELECT CASE WHEN Total > 10 THEN 'big' ELSE 'small' END AS size FROM Invoice",
		"SELECT Name, RANK() OVER (PARTITION BY GenreId ORDER BY Milliseconds DESC) AS r FROM Track",
		"SELECT replace(Name, 'a', 'b') FROM Artist",
		"SELECT t.* FROM Track t WHERE t.UnitPrice > 0.99",
		"SELECT Name FROM main.Artist",
		"(SELECT Name FROM Artist) UNION (SELECT Name FROM Genre)",
		"SELECT Name FROM Artist WHERE Name IS NOT DISTINCT FROM 'x'",
	}
	for _, q := range queries {
		verdict := v.Validate(q)
		assert.True(t, verdict.Accepted, "query %q: %s", q, verdict)
	}
}

func TestValidateRejectsMutationsRegardlessOfSchema(t *testing.T) {
	for _, s := range []*schema.Schema{chinook(), nil, {}} {
		v := New(s)
		for _, q := range []string{
			"INSERT INTO Artist (Name) VALUES ('x')",
			"UPDATE Artist SET Name = 'x'",
			"DELETE FROM Artist",
			"DROP TABLE Customer",
			"ALTER TABLE Artist ADD COLUMN y INTEGER",
			"drop table Artist",
			"PRAGMA writable_schema = 1",
			"ATTACH DATABASE 'x.db' AS x",
			"CREATE TABLE t (x INTEGER)",
			"VALUES (1)",
			"DROP",
		} {
			verdict := v.Validate(q)
			require.False(t, verdict.Accepted, q)
			assert.Equal(t, ReasonNonReadOnly, verdict.Reason, "query %q: %s", q, verdict)
			assert.False(t, verdict.Reason.Retryable())
		}
	}
}

func TestValidateRejectsWriteKeywordsInsideSelect(t *testing.T) {
	v := New(chinook())
	for _, q := range []string{
		"SELECT Name INTO backup FROM Artist",
		"WITH gone AS (DELETE FROM Artist RETURNING *) SELECT * FROM gone",
		"SELECT Name FROM Artist FOR UPDATE",
	} {
		verdict := v.Validate(q)
		assert.Equal(t, ReasonNonReadOnly, verdict.Reason, "query %q: %s", q, verdict)
	}
}

func TestValidateRejectsUnknownIdentifiers(t *testing.T) {
	v := New(chinook())
	tests := []struct {
		query  string
		detail string
	}{
		{"SELECT Foo FROM Artist", `"Foo"`},
		{"SELECT Name FROM Singer", `table "Singer"`},
		{"SELECT a.Genre FROM Album a", `"Genre"`},
		{"SELECT z.Name FROM Artist a", `"z"`},
		{"SELECT Name FROM Artist JOIN Album ON Album.Singer = Artist.ArtistId", `"Singer"`},
		{"SELECT Title FROM Artist", `"Title"`},
		{"SELECT Name FROM Artist WHERE Name = \"AC/DC\"", `"AC/DC"`},
		{"SELECT Popularity", `"Popularity"`},
		{"SELECT * FROM read_text('/etc/hostname')", `table function "read_text"`},
		{"SELECT * FROM glob('/root/*')", `table function "glob"`},
		{"SELECT a.Name FROM Artist a, read_csv_auto('/etc/passwd') p", `table function "read_csv_auto"`},
		{"SELECT * FROM Artist JOIN generate_series(1, 3) g ON true", `table function "generate_series"`},
		{"SELECT name FROM pragma_table_info('Artist')", `table function "pragma_table_info"`},
		{"SELECT * FROM NoSuchTable()", `table function "NoSuchTable"`},
		{"SELECT * FROM main.read_parquet('x.parquet')", `table function "read_parquet"`},
	}
	for _, tt := range tests {
		verdict := v.Validate(tt.query)
		require.False(t, verdict.Accepted, tt.query)
		assert.Equal(t, ReasonUnknownIdentifier, verdict.Reason, "query %q: %s", tt.query, verdict)
		assert.Contains(t, verdict.Detail, tt.detail)
		assert.True(t, verdict.Reason.Retryable())
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	v := New(chinook())
	for _, q := range []string{
		"SELECT Name FROM Artist; SELECT Title FROM Album",
		"SELECT 1; SELECT 2;",
	} {
		verdict := v.Validate(q)
		assert.Equal(t, ReasonMultipleStatements, verdict.Reason, "query %q: %s", q, verdict)
	}

	verdict := v.Validate("SELECT Name FROM Artist; DROP TABLE Artist")
	assert.Equal(t, ReasonNonReadOnly, verdict.Reason)

	verdict = v.Validate("SELECT Name FROM Artist;  -- done\n")
	assert.True(t, verdict.Accepted, verdict.String())
}

func TestValidateReportsBrokenMutationsAsNonReadOnly(t *testing.T) {
	v := New(chinook())
	for _, q := range []string{
		"DELETE FROM Artist WHERE Name = 'x",
		"DROP TABLE Artist #",
		"  (UPDATE Artist SET Name = \"x",
		"insert into Artist values (1",
		"ALTER TABLE Artist /* unclosed",
	} {
		verdict := v.Validate(q)
		require.False(t, verdict.Accepted, q)
		assert.Equal(t, ReasonNonReadOnly, verdict.Reason, "query %q: %s", q, verdict)
	}
}

func TestValidateRejectsUnparseableInput(t *testing.T) {
	v := New(chinook())
	for _, q := range []string{
		"",
		"   ;  ",
		"SELECT 'unterminated FROM Artist",
		"SELECT \"Name FROM Artist",
		"SELECT Name FROM Artist /* never closed",
		"SELECT (Name FROM Artist",
		"SELECT Name) FROM Artist",
		"SELECT Name FROM Artist WHERE Name = #",
		"Here is the query you asked for",
		"SELECT",
	} {
		verdict := v.Validate(q)
		require.False(t, verdict.Accepted, q)
		assert.Equal(t, ReasonUnparseable, verdict.Reason, "query %q: %s", q, verdict)
		assert.False(t, verdict.Reason.Retryable())
	}
}

func TestValidateChecksRunInOrder(t *testing.T) {
	v := New(chinook())
	assert.Equal(t, ReasonUnparseable, v.Validate("SELECT Name FROM 'x").Reason)
	assert.Equal(t, ReasonNonReadOnly, v.Validate("DELETE FROM Nowhere").Reason)
	assert.Equal(t, ReasonUnknownIdentifier, v.Validate("SELECT Nope FROM Artist; SELECT 1").Reason)
}

func TestValidateFunctionMatchesValidator(t *testing.T) {
	verdict := Validate("SELECT Name FROM Artist", chinook())
	assert.True(t, verdict.Accepted)
	assert.Equal(t, "accepted", verdict.String())
}

func TestTokenizeHandlesQuotesAndOperators(t *testing.T) {
	tokens, err := tokenize(`SELECT 'it''s', "a""b", [c d], x->>'k', 1.5e3, ?1 FROM t`)
	require.NoError(t, err)
	var texts []string
	for _, tok := range tokens {
		texts = append(texts, tok.text)
	}
	assert.Equal(t, []string{"SELECT", "it's", ",", `a"b`, ",", "c d", ",", "x", "->>", "k", ",", "1.5e3", ",", "?1", "FROM", "t"}, texts)
	assert.Equal(t, tokString, tokens[1].kind)
	assert.Equal(t, tokQuotedIdent, tokens[3].kind)
}
