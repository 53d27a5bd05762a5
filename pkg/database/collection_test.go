package database

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/logger"
)

func seed(t *testing.T, c *Collection, docs ...string) {
	t.Helper()
	for _, d := range docs {
		_, err := c.Insert(doc(d))
		require.NoError(t, err)
	}
}

func ids(docs []*document.Document) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = d.ID().Interface()
	}
	return out
}

func TestInsertAssignsID(t *testing.T) {
	c := newTestDB(t).Collection("c")

	inserted, err := c.Insert(doc(`{"a": 1, "_id": 7}`), doc(`{"b": 2}`))
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, int32(7), inserted[0].Interface())
	assert.Equal(t, document.TypeObjectID, inserted[1].Type)

	first, err := c.FindOne(doc(`{"a": 1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"_id", "a"}, first.Keys(), "_id is moved to the front")
}

func TestInsertRejectsBadDocuments(t *testing.T) {
	c := newTestDB(t).Collection("c")

	for _, bad := range []string{
		`{"$set": 1}`,
		`{"a.b": 1}`,
		`{"": 1}`,
		`{"a": {"$x": 1}}`,
		`{"a": [{"b.c": 1}]}`,
	} {
		_, err := c.Insert(doc(bad))
		assert.ErrorIs(t, err, dberr.InvalidFieldName, bad)
	}

	_, err := c.Insert(doc(`{"_id": [1, 2]}`))
	assert.ErrorIs(t, err, dberr.BadValue)

	big := document.NewDocument()
	big.Set("blob", strings.Repeat("x", MaxDocumentSize))
	_, err = c.Insert(big)
	assert.Equal(t, dberr.CodeDocumentTooLarge, dberr.CodeOf(err))

	assert.Equal(t, 0, c.Len())
}

func TestInsertStopsAtFirstError(t *testing.T) {
	c := newTestDB(t).Collection("c")

	inserted, err := c.Insert(doc(`{"_id": 1}`), doc(`{"_id": 1}`), doc(`{"_id": 2}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.DuplicateKey)
	assert.Len(t, inserted, 1)
	assert.Equal(t, 1, c.Len())
}

func TestUniqueIndex(t *testing.T) {
	c := newTestDB(t).Collection("users")
	name, err := c.CreateIndex(doc(`{"email": 1}`), IndexOptions{Unique: true})
	require.NoError(t, err)
	assert.Equal(t, "email_1", name)

	seed(t, c, `{"email": "a@x", "n": 1}`)
	_, err = c.Insert(doc(`{"email": "a@x", "n": 2}`))
	require.Error(t, err)

	var e *dberr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, dberr.DuplicateKey, e.Kind)
	assert.Equal(t, dberr.CodeDuplicateKey, e.Code)
	assert.Equal(t, "email_1", e.Index)
	assert.Equal(t, 1, c.Len())
	assert.ErrorIs(t, err, dberr.DuplicateKey)
	assert.Equal(t, `failed to insert into index email_1: E11000 duplicate key error index: test.users.$email_1 dup key: { : "a@x" }`, err.Error())

	// an update producing a duplicate leaves the document and indexes alone
	seed(t, c, `{"email": "b@x", "n": 3}`)
	_, err = c.Update(doc(`{"n": 3}`), doc(`{"$set": {"email": "a@x"}}`), false, false)
	assert.ErrorIs(t, err, dberr.DuplicateKey)

	got, err := c.FindOne(doc(`{"email": "b@x"}`), nil)
	require.NoError(t, err)
	n, _ := got.Get("n")
	assert.Equal(t, int32(3), n)
}

func TestSparseUniqueIndex(t *testing.T) {
	c := newTestDB(t).Collection("c")
	_, err := c.CreateIndex(doc(`{"code": 1}`), IndexOptions{Unique: true, Sparse: true})
	require.NoError(t, err)

	seed(t, c, `{"a": 1}`, `{"a": 2}`, `{"code": "x"}`)
	_, err = c.Insert(doc(`{"code": "x"}`))
	assert.ErrorIs(t, err, dberr.DuplicateKey)
	assert.Equal(t, 3, c.Len())

	info := c.Indexes()
	require.Len(t, info, 2)
	assert.Equal(t, 1, info[1].Size, "documents without the field are not indexed")
}

func TestCreateIndexFailureLeavesNoIndex(t *testing.T) {
	c := newTestDB(t).Collection("c")
	seed(t, c, `{"a": 1}`, `{"a": 1}`)

	_, err := c.CreateIndex(doc(`{"a": 1}`), IndexOptions{Unique: true})
	assert.Equal(t, dberr.CodeDuplicateKey, dberr.CodeOf(err))
	assert.Len(t, c.Indexes(), 1)
}

func TestIndexErrors(t *testing.T) {
	c := newTestDB(t).Collection("c")
	_, err := c.CreateIndex(doc(`{"a": 1}`), IndexOptions{})
	require.NoError(t, err)

	name, err := c.CreateIndex(doc(`{"a": 1}`), IndexOptions{})
	require.NoError(t, err, "same spec is a no-op")
	assert.Equal(t, "a_1", name)

	_, err = c.CreateIndex(doc(`{"a": 1}`), IndexOptions{Unique: true})
	assert.Equal(t, dberr.CodeIndexOptionsConflict, dberr.CodeOf(err))
	assert.Contains(t, err.Error(), "Index with name: a_1 already exists with different options")

	_, err = c.CreateIndex(doc(`{"a": 1}`), IndexOptions{Name: "other"})
	assert.Equal(t, dberr.CodeIndexOptionsConflict, dberr.CodeOf(err))

	_, err = c.CreateIndex(doc(`{}`), IndexOptions{})
	assert.Equal(t, dberr.CodeBadIndexKeyPattern, dberr.CodeOf(err))

	err = c.DropIndex("_id_")
	assert.Equal(t, dberr.CodeInvalidOptions, dberr.CodeOf(err))

	err = c.DropIndex("nope")
	assert.Equal(t, dberr.CodeIndexNotFound, dberr.CodeOf(err))
	assert.EqualError(t, err, "index not found with name [nope]")

	require.NoError(t, c.DropIndex("a_1"))
	assert.Len(t, c.Indexes(), 1)
}

func TestDropAllIndexes(t *testing.T) {
	c := newTestDB(t).Collection("c")
	for _, p := range []string{`{"a": 1}`, `{"b": -1}`, `{"c": "hashed"}`} {
		_, err := c.CreateIndex(doc(p), IndexOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, c.DropIndex("*"))

	info := c.Indexes()
	require.Len(t, info, 1)
	assert.Equal(t, "_id_", info[0].Name)
}

func TestRemoveEvictsIndexEntries(t *testing.T) {
	c := newTestDB(t).Collection("c")
	_, err := c.CreateIndex(doc(`{"a": 1}`), IndexOptions{})
	require.NoError(t, err)
	seed(t, c, `{"a": 1}`, `{"a": 2}`, `{"a": 1}`)

	n, err := c.Remove(doc(`{"a": 1}`), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, b := range c.index("a_1").Buckets() {
		v, _ := b.Key.Get("a")
		assert.NotEqual(t, int32(1), v, "no bucket may remain for a removed key")
	}
	assert.Equal(t, 1, c.Len())
}

func TestRemoveJustOne(t *testing.T) {
	c := newTestDB(t).Collection("c")
	seed(t, c, `{"_id": 1, "a": 1}`, `{"_id": 2, "a": 1}`)

	n, err := c.DeleteOne(doc(`{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rest, err := c.Find(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(2)}, ids(rest))
}

func TestFindWithOptions(t *testing.T) {
	c := newTestDB(t).Collection("c")
	seed(t, c,
		`{"_id": 1, "age": 30, "name": "c"}`,
		`{"_id": 2, "age": 25, "name": "a"}`,
		`{"_id": 3, "age": 35, "name": "b"}`,
		`{"_id": 4, "name": "d"}`,
	)

	got, err := c.Find(doc(`{"age": {"$gt": 26}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1), int32(3)}, ids(got))

	got, err = c.Find(nil, &FindOptions{Sort: doc(`{"age": -1}`), Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1), int32(2)}, ids(got))

	got, err = c.Find(doc(`{"_id": {"$in": [3, 1]}}`), &FindOptions{Projection: doc(`{"name": 1, "_id": 0}`)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(doc(`{"name": "c"}`)))
	assert.True(t, got[1].Equal(doc(`{"name": "b"}`)))

	got, err = c.Find(nil, &FindOptions{Sort: doc(`{"$natural": -1}`), Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(4)}, ids(got))

	_, err = c.Find(nil, &FindOptions{Skip: -1})
	assert.ErrorIs(t, err, dberr.BadValue)

	_, err = c.FindOne(doc(`{"age": 99}`), nil)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestFindUsesIndex(t *testing.T) {
	c := newTestDB(t).Collection("c")
	_, err := c.CreateIndex(doc(`{"tags": 1}`), IndexOptions{})
	require.NoError(t, err)
	seed(t, c, `{"_id": 1, "tags": ["a", "b"]}`, `{"_id": 2, "tags": "b"}`, `{"_id": 3, "tags": ["c"]}`)

	got, err := c.Find(doc(`{"tags": "b"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1), int32(2)}, ids(got))
	assert.Positive(t, c.index("tags_1").Stats().Lookups)
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	c := newTestDB(t).Collection("c")
	input := doc(`{"_id": 1, "nested": {"a": 1}}`)
	_, err := c.Insert(input)
	require.NoError(t, err)

	input.Set("mutated", true)
	got, err := c.FindOne(nil, nil)
	require.NoError(t, err)
	got.Set("changed", true)
	nested, _ := got.GetValue("nested")
	nested.Document().Set("a", 2)

	again, err := c.FindOne(nil, nil)
	require.NoError(t, err)
	assert.True(t, again.Equal(doc(`{"_id": 1, "nested": {"a": 1}}`)), again.String())
}

func TestCountAndDistinct(t *testing.T) {
	c := newTestDB(t).Collection("c")
	seed(t, c, `{"k": 1, "t": ["x", "y"]}`, `{"k": 1.0, "t": "x"}`, `{"k": 2}`, `{"k": {"a": 1}}`, `{"k": {"a": 1}}`)

	n, err := c.Count(nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = c.Count(doc(`{"k": 1}`), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	vals, err := c.Distinct("k", nil)
	require.NoError(t, err)
	assert.Len(t, vals, 3, "1 and 1.0 are the same value")

	vals, err = c.Distinct("t", nil)
	require.NoError(t, err)
	assert.Len(t, vals, 2)
}

func TestUpdate(t *testing.T) {
	c := newTestDB(t).Collection("c")
	seed(t, c, `{"_id": 1, "g": "a", "n": 1}`, `{"_id": 2, "g": "a", "n": 1}`, `{"_id": 3, "g": "b", "n": 1}`)

	res, err := c.Update(doc(`{"g": "a"}`), doc(`{"$inc": {"n": 5}}`), false, false)
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, res)

	res, err = c.UpdateMany(doc(`{"g": "a"}`), doc(`{"$set": {"n": 6}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Modified, "the first document already has n=6")

	res, err = c.ReplaceOne(doc(`{"_id": 3}`), doc(`{"g": "c"}`), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Modified)
	got, err := c.FindOne(doc(`{"_id": 3}`), nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(doc(`{"_id": 3, "g": "c"}`)), got.String())

	_, err = c.Update(nil, doc(`{"g": "z"}`), false, true)
	assert.Equal(t, dberr.CodeFailedToParse, dberr.CodeOf(err))
	assert.Contains(t, err.Error(), "multi update only works with $ operators")

	_, err = c.ReplaceOne(nil, doc(`{"$set": {"g": 1}}`), false)
	assert.Error(t, err)
}

func TestUpsert(t *testing.T) {
	c := newTestDB(t).Collection("c")

	res, err := c.Update(doc(`{"name": "x", "age": {"$gt": 3}}`), doc(`{"$inc": {"visits": 1}}`), true, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Matched)
	require.NotNil(t, res.UpsertedID)

	got, err := c.FindOne(doc(`{"name": "x"}`), nil)
	require.NoError(t, err)
	assert.True(t, document.Equal(res.UpsertedID, got.ID()))
	visits, _ := got.Get("visits")
	assert.Equal(t, int32(1), visits)
	assert.False(t, got.Has("age"), "non-equality clauses do not seed the document")

	res, err = c.Update(doc(`{"name": "x"}`), doc(`{"$inc": {"visits": 1}}`), true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Nil(t, res.UpsertedID)
	assert.Equal(t, 1, c.Len())
}

func TestFindAndModify(t *testing.T) {
	c := newTestDB(t).Collection("c")
	seed(t, c, `{"_id": 1, "n": 5}`, `{"_id": 2, "n": 1}`)

	before, err := c.FindAndModify(FindAndModifyOptions{
		Sort:   doc(`{"n": 1}`),
		Update: doc(`{"$inc": {"n": 10}}`),
	})
	require.NoError(t, err)
	assert.True(t, before.Equal(doc(`{"_id": 2, "n": 1}`)), before.String())

	after, err := c.FindAndModify(FindAndModifyOptions{
		Query:     doc(`{"_id": 1}`),
		Update:    doc(`{"$set": {"n": 0}}`),
		ReturnNew: true,
		Fields:    doc(`{"n": 1}`),
	})
	require.NoError(t, err)
	assert.True(t, after.Equal(doc(`{"_id": 1, "n": 0}`)), after.String())

	created, err := c.FindAndModify(FindAndModifyOptions{
		Query:     doc(`{"_id": 9}`),
		Update:    doc(`{"$set": {"n": 9}}`),
		Upsert:    true,
		ReturnNew: true,
	})
	require.NoError(t, err)
	assert.True(t, created.Equal(doc(`{"_id": 9, "n": 9}`)), created.String())

	removed, err := c.FindAndModify(FindAndModifyOptions{Query: doc(`{"_id": 9}`), Remove: true})
	require.NoError(t, err)
	assert.NotNil(t, removed)
	assert.Equal(t, 2, c.Len())

	none, err := c.FindAndModify(FindAndModifyOptions{Query: doc(`{"_id": 42}`), Remove: true})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = c.FindAndModify(FindAndModifyOptions{Query: doc(`{"_id": 1}`)})
	assert.Equal(t, dberr.CodeFailedToParse, dberr.CodeOf(err))
	_, err = c.FindAndModify(FindAndModifyOptions{Remove: true, ReturnNew: true})
	assert.Equal(t, dberr.CodeFailedToParse, dberr.CodeOf(err))
}

func TestValidator(t *testing.T) {
	db := newTestDB(t)
	c, err := db.CreateCollection("people", &CollectionOptions{
		Validator: doc(`{"$jsonSchema": {"required": ["name"], "properties": {"age": {"minimum": 0}}}}`),
	})
	require.NoError(t, err)

	seed(t, c, `{"name": "ok", "age": 3}`)
	_, err = c.Insert(doc(`{"age": 3}`))
	assert.Equal(t, dberr.CodeDocumentValidation, dberr.CodeOf(err))
	assert.EqualError(t, err, "Document failed validation")

	_, err = c.Update(doc(`{"name": "ok"}`), doc(`{"$set": {"age": -1}}`), false, false)
	assert.Equal(t, dberr.CodeDocumentValidation, dberr.CodeOf(err))
	assert.Equal(t, 1, c.Len())
}

func TestCollectionFull(t *testing.T) {
	db := New(Config{Name: "test", MaxDocuments: 2, Logger: logger.Discard()})
	defer db.Close()
	c := db.Collection("small")
	seed(t, c, `{"a": 1}`, `{"a": 2}`)

	_, err := c.Insert(doc(`{"a": 3}`))
	assert.Equal(t, dberr.CodeCollectionFull, dberr.CodeOf(err))
	assert.EqualError(t, err, "collection is full")

	_, err = c.Update(doc(`{"a": 9}`), doc(`{"$set": {"b": 1}}`), true, false)
	assert.Equal(t, dberr.CodeCollectionFull, dberr.CodeOf(err))
}

func TestGeoNear(t *testing.T) {
	c := newTestDB(t).Collection("places")
	seed(t, c,
		`{"_id": 1, "loc": [0, 0], "kind": "cafe"}`,
		`{"_id": 2, "loc": [3, 4], "kind": "bar"}`,
		`{"_id": 3, "loc": [1, 0], "kind": "bar"}`,
		`{"_id": 4, "name": "nowhere"}`,
	)

	_, err := c.GeoNear(document.NewValue([]float64{0, 0}), GeoNearOptions{})
	assert.Equal(t, dberr.CodeNoGeoIndex, dberr.CodeOf(err))
	assert.EqualError(t, err, "no geo indices for geoNear")

	_, err = c.CreateIndex(doc(`{"loc": "2d"}`), IndexOptions{})
	require.NoError(t, err)

	hits, err := c.GeoNear(document.NewValue([]float64{0, 0}), GeoNearOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	var dists []float64
	for _, h := range hits {
		d, _ := h.Get("dis")
		dists = append(dists, d.(float64))
	}
	assert.Equal(t, []float64{0, 1, 5}, dists)

	hits, err = c.GeoNear(document.NewValue([]float64{0, 0}), GeoNearOptions{Query: doc(`{"kind": "bar"}`), Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	obj, _ := hits[0].GetValue("obj")
	assert.Equal(t, int32(3), obj.Document().ID().Interface())

	_, err = c.CreateIndex(doc(`{"other": "2d"}`), IndexOptions{})
	require.NoError(t, err)
	_, err = c.GeoNear(document.NewValue([]float64{0, 0}), GeoNearOptions{})
	assert.EqualError(t, err, "more than one 2d index, not sure which to run geoNear on")
}

func TestConcurrentWriters(t *testing.T) {
	c := newTestDB(t).Collection("c")
	_, err := c.CreateIndex(doc(`{"w": 1, "i": 1}`), IndexOptions{Unique: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := c.Insert(doc(fmt.Sprintf(`{"w": %d, "i": %d}`, w, i))); err != nil {
					t.Error(err)
					return
				}
				if _, err := c.Find(doc(fmt.Sprintf(`{"w": %d}`, w)), nil); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 400, c.Len())
	assert.Equal(t, 400, c.Indexes()[1].Size)
}
