package impex

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/logger"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db := database.New(database.Config{Name: "test", Logger: logger.Discard()})
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDocs(t *testing.T) []*document.Document {
	t.Helper()
	docs, err := document.ParseJSONArray(`[
		{"_id": {"$oid": "52c9b2d4e4b0a7f3c8d1e2f3"}, "name": "alice", "age": 30, "joined": {"$date": "2014-01-05T10:00:00Z"}, "tags": ["a", "b"]},
		{"_id": 2, "name": "bob", "score": 1.5, "address": {"city": "Brno"}}
	]`)
	require.NoError(t, err)
	return docs
}

func TestJSONRoundTrip(t *testing.T) {
	docs := sampleDocs(t)

	for _, format := range []Format{FormatJSON, FormatNDJSON} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Export(&buf, docs, format, Options{Pretty: true}))

			if format == FormatNDJSON {
				assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
			} else {
				assert.True(t, strings.HasPrefix(buf.String(), "["))
			}

			back, err := Import(&buf, format, Options{})
			require.NoError(t, err)
			require.Len(t, back, 2)
			for i := range docs {
				assert.True(t, docs[i].Equal(back[i]), "document %d: %v != %v", i, docs[i], back[i])
			}
		})
	}
}

func TestJSONImportForms(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"whitespace", " \n ", 0},
		{"empty array", "[]", 0},
		{"array", `[{"a": 1}, {"a": 2}]`, 2},
		{"stream", "{\"a\": 1}\n{\"a\": 2}\n{\"a\": 3}", 3},
		{"concatenated", `{"a": 1}{"a": 2}`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := NewJSONImporter().Import(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
		})
	}

	_, err := NewJSONImporter().Import(strings.NewReader(`[{"a": 1}, 5]`))
	assert.Error(t, err)
	_, err = NewJSONImporter().Import(strings.NewReader(`{"a": `))
	assert.Error(t, err)
}

func TestCSVExport(t *testing.T) {
	docs := sampleDocs(t)

	var buf bytes.Buffer
	require.NoError(t, NewCSVExporter(nil).Export(&buf, docs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "_id,name,age,joined,tags,score,address", lines[0])
	assert.Equal(t, `52c9b2d4e4b0a7f3c8d1e2f3,alice,30,2014-01-05T10:00:00Z,"[""a"",""b""]",,`, lines[1])
	assert.Equal(t, `2,bob,,,,1.5,"{""city"":""Brno""}"`, lines[2])

	buf.Reset()
	require.NoError(t, NewCSVExporter([]string{"name", "address.city"}).Export(&buf, docs))
	assert.Equal(t, "name,address.city\nalice,\nbob,Brno\n", buf.String())
}

func TestCSVImport(t *testing.T) {
	input := "name,age,active,score,joined,address.city,tags\n" +
		"alice,30,true,1.5,2014-01-05T10:00:00Z,Prague,\"[1,2]\"\n" +
		"bob,,false,,,Brno\n"

	docs, err := NewCSVImporter(nil).Import(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	alice := docs[0]
	age, _ := alice.Get("age")
	assert.Equal(t, int32(30), age)
	active, _ := alice.Get("active")
	assert.Equal(t, true, active)
	score, _ := alice.Get("score")
	assert.Equal(t, 1.5, score)
	joined, _ := alice.Get("joined")
	assert.Equal(t, time.Date(2014, 1, 5, 10, 0, 0, 0, time.UTC), joined)
	city, ok := document.GetPath(alice, "address.city")
	require.True(t, ok)
	assert.Equal(t, "Prague", city.Interface())
	tags, _ := alice.GetValue("tags")
	assert.True(t, tags.IsArray())

	bob := docs[1]
	assert.False(t, bob.Has("age"), "empty cells are skipped")
	assert.Equal(t, []string{"name", "active", "address"}, bob.Keys())
}

func TestCSVImportWithHeaders(t *testing.T) {
	docs, err := NewCSVImporter([]string{"_id", "name"}).Import(strings.NewReader("1,alice\n2,bob\n"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	id, _ := docs[1].Get("_id")
	assert.Equal(t, int32(2), id)
}

func TestImportCollection(t *testing.T) {
	db := newTestDB(t)
	coll := db.Collection("people")

	input := `[{"_id": 1}, {"_id": 2}, {"_id": 3}, {"_id": 2}, {"_id": 5}]`
	n, err := ImportCollection(coll, strings.NewReader(input), FormatJSON, Options{BatchSize: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.DuplicateKey)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, coll.Stats().Count)

	n, err = ImportCollection(coll, strings.NewReader(`{"_id": 2}`+"\n"+`{"_id": 9}`), FormatNDJSON, Options{Drop: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, coll.Stats().Count)
}

func TestExportCollection(t *testing.T) {
	db := newTestDB(t)
	coll := db.Collection("people")
	_, err := coll.Insert(sampleDocs(t)...)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := ExportCollection(&buf, coll, document.MustParseJSON(`{"name": "bob"}`), FormatNDJSON, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), `"city":"Brno"`)
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"data.json":      FormatJSON,
		"data.JSON.gz":   FormatJSON,
		"data.ndjson":    FormatNDJSON,
		"data.jsonl.zst": FormatNDJSON,
		"dir/export.csv": FormatCSV,
		"export.csv.gz":  FormatCSV,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatFromPath("data.xml")
	assert.Error(t, err)
}

func TestFileRoundTrip(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Collection("src").Insert(sampleDocs(t)...)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"out.json", "out.ndjson.gz", "out.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			n, err := ExportFile(db, "src", path, nil, Options{})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			target := "dst_" + strings.ReplaceAll(name, ".", "_")
			n, err = ImportFile(db, target, path, Options{})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err := db.Collection(target).FindOne(document.MustParseJSON(`{"_id": 2}`), nil)
			require.NoError(t, err)
			city, _ := document.GetPath(got, "address.city")
			assert.Equal(t, "Brno", city.Interface())
		})
	}

	_, err = ImportFile(db, "x", filepath.Join(dir, "missing.json"), Options{})
	assert.Error(t, err)
}
