package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/memdb/pkg/config"
	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/logger"
	"github.com/mnohosten/memdb/pkg/metrics"
)

type response struct {
	OK      bool            `json:"ok"`
	Code    int             `json:"code"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Count   int             `json:"count"`
	Result  json.RawMessage `json:"result"`
}

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.Port = 0
	cfg.EnableCompression = false
	return cfg
}

func setupTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	col := metrics.NewCollector("memdb")
	db := database.New(database.Config{Name: "test", Logger: logger.Discard(), Metrics: col})
	t.Cleanup(func() { db.Close() })

	srv, err := New(cfg, db, logger.Discard(), col)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func call(t *testing.T, ts *httptest.Server, method, path, body string) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+APIPrefix+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: invalid response body: %v", method, path, err)
	}
	return resp.StatusCode, out
}

// mustCall fails the test unless the request succeeds
func mustCall(t *testing.T, ts *httptest.Server, method, path, body string) response {
	t.Helper()
	status, out := call(t, ts, method, path, body)
	if status != http.StatusOK || !out.OK {
		t.Fatalf("%s %s: status %d: %s %s", method, path, status, out.Error, out.Message)
	}
	return out
}

func documents(t *testing.T, raw json.RawMessage) []*document.Document {
	t.Helper()
	var docs []*document.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		t.Fatalf("invalid documents %s: %v", raw, err)
	}
	return docs
}

func TestHealth(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())

	out := mustCall(t, ts, http.MethodGet, "/health", "")
	var health map[string]interface{}
	if err := json.Unmarshal(out.Result, &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "healthy" || health["database"] != "test" {
		t.Errorf("unexpected health %v", health)
	}
}

func TestInsertFindRoundTrip(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())

	out := mustCall(t, ts, http.MethodPost, "/collections/users/insert", `{"documents": [
		{"_id": {"$oid": "507f1f77bcf86cd799439011"}, "name": "alice", "age": 30, "joined": {"$date": "2014-01-05T00:00:00Z"}},
		{"name": "bob", "age": 25},
		{"name": "carol", "age": 35}
	]}`)
	if out.Count != 3 {
		t.Errorf("expected 3 inserted, got %d", out.Count)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/users/find",
		`{"filter": {"age": {"$gte": 30}}, "sort": {"age": -1}, "projection": {"name": 1, "_id": 0}}`)
	docs := documents(t, out.Result)
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if name, _ := docs[0].Get("name"); name != "carol" {
		t.Errorf("expected carol first, got %v", name)
	}
	if docs[0].Has("_id") || docs[0].Has("age") {
		t.Errorf("projection not applied: %s", docs[0])
	}

	// extended JSON types survive the round trip
	out = mustCall(t, ts, http.MethodPost, "/collections/users/findOne",
		`{"filter": {"_id": {"$oid": "507f1f77bcf86cd799439011"}}}`)
	var alice *document.Document
	if err := json.Unmarshal(out.Result, &alice); err != nil {
		t.Fatal(err)
	}
	joined, _ := alice.GetValue("joined")
	if joined.Type != document.TypeDate {
		t.Errorf("expected a date, got %s", joined)
	}
	if alice.Keys()[0] != "_id" {
		t.Errorf("expected _id first, got %v", alice.Keys())
	}

	status, res := call(t, ts, http.MethodPost, "/collections/users/findOne", `{"filter": {"name": "nobody"}}`)
	if status != http.StatusNotFound || res.OK {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestCountDistinctUpdateRemove(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	mustCall(t, ts, http.MethodPost, "/collections/items/insert",
		`{"documents": [{"k": "a", "n": 1}, {"k": "b", "n": 2}, {"k": "a", "n": 3}]}`)

	out := mustCall(t, ts, http.MethodPost, "/collections/items/count", `{"filter": {"k": "a"}}`)
	if string(out.Result) != `{"count":2}` {
		t.Errorf("unexpected count %s", out.Result)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/items/distinct", `{"key": "k"}`)
	if out.Count != 2 {
		t.Errorf("expected 2 distinct values, got %s", out.Result)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/items/update",
		`{"filter": {"k": "a"}, "update": {"$inc": {"n": 10}}, "multi": true}`)
	var upd map[string]interface{}
	json.Unmarshal(out.Result, &upd)
	if upd["matched"] != float64(2) || upd["modified"] != float64(2) {
		t.Errorf("unexpected update result %v", upd)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/items/update",
		`{"filter": {"k": "z"}, "update": {"$set": {"n": 0}}, "upsert": true}`)
	upd = nil
	json.Unmarshal(out.Result, &upd)
	if _, ok := upd["upsertedId"]; !ok {
		t.Errorf("expected an upserted id, got %v", upd)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/items/remove", `{"filter": {"n": {"$gt": 10}}, "justOne": true}`)
	if string(out.Result) != `{"removed":1}` {
		t.Errorf("unexpected remove result %s", out.Result)
	}
	out = mustCall(t, ts, http.MethodPost, "/collections/items/count", "")
	if string(out.Result) != `{"count":3}` {
		t.Errorf("unexpected count %s", out.Result)
	}
}

func TestFindAndModify(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	mustCall(t, ts, http.MethodPost, "/collections/counters/insert", `{"documents": [{"_id": "seq", "n": 1}]}`)

	out := mustCall(t, ts, http.MethodPost, "/collections/counters/findAndModify",
		`{"query": {"_id": "seq"}, "update": {"$inc": {"n": 1}}, "new": true}`)
	var res struct {
		Value *document.Document `json:"value"`
	}
	if err := json.Unmarshal(out.Result, &res); err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Value.Get("n"); n != int32(2) {
		t.Errorf("expected n=2, got %v", n)
	}
}

func TestBulkWrite(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())

	out := mustCall(t, ts, http.MethodPost, "/collections/users/bulk", `{"operations": [
		{"type": "insert", "document": {"_id": 1, "name": "Alice"}},
		{"type": "insert", "document": {"_id": 2, "name": "Bob"}},
		{"type": "update", "filter": {"_id": 2}, "update": {"$set": {"age": 25}}},
		{"type": "update", "filter": {"_id": 3}, "update": {"$set": {"age": 40}}, "upsert": true},
		{"type": "remove", "filter": {"_id": 1}}
	]}`)
	var result struct {
		InsertedCount int `json:"insertedCount"`
		ModifiedCount int `json:"modifiedCount"`
		DeletedCount  int `json:"deletedCount"`
		UpsertedCount int `json:"upsertedCount"`
		Errors        []struct {
			Index int `json:"index"`
			Code  int `json:"code"`
		} `json:"writeErrors"`
	}
	if err := json.Unmarshal(out.Result, &result); err != nil {
		t.Fatalf("invalid result %s: %v", out.Result, err)
	}
	if result.InsertedCount != 2 || result.ModifiedCount != 1 || result.DeletedCount != 1 || result.UpsertedCount != 1 {
		t.Errorf("unexpected result %s", out.Result)
	}

	status, resp := call(t, ts, http.MethodPost, "/collections/users/bulk", `{"ordered": false, "operations": [
		{"type": "insert", "document": {"_id": 2}},
		{"type": "insert", "document": {"_id": 4}}
	]}`)
	if status != http.StatusMultiStatus || resp.OK {
		t.Fatalf("expected 207 with ok=false, got %d", status)
	}
	if resp.Code != 11000 || resp.Error != "DuplicateKey" {
		t.Errorf("expected the duplicate key error, got %d %s", resp.Code, resp.Error)
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("invalid result %s: %v", resp.Result, err)
	}
	if result.InsertedCount != 1 || len(result.Errors) != 1 || result.Errors[0].Index != 0 {
		t.Errorf("unexpected partial result %s", resp.Result)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/users/count", `{}`)
	if !strings.Contains(string(out.Result), `"count":3`) {
		t.Errorf("expected 3 documents, got %s", out.Result)
	}
}

func TestErrorMapping(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	mustCall(t, ts, http.MethodPost, "/collections/users/indexes", `{"key": {"email": 1}, "unique": true}`)
	mustCall(t, ts, http.MethodPost, "/collections/users/insert", `{"documents": [{"email": "a@x"}]}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   int
		kind   string
	}{
		{"duplicate key", http.MethodPost, "/collections/users/insert", `{"documents": [{"email": "a@x"}]}`, http.StatusConflict, 11000, "DuplicateKey"},
		{"bad operator", http.MethodPost, "/collections/users/find", `{"filter": {"a": {"$bogus": 1}}}`, http.StatusBadRequest, 0, "QueryCompileError"},
		{"bad field name", http.MethodPost, "/collections/users/insert", `{"documents": [{"$a": 1}]}`, http.StatusBadRequest, 0, "InvalidFieldName"},
		{"missing collection", http.MethodDelete, "/collections/nope", "", http.StatusNotFound, 26, "NotFound"},
		{"missing index", http.MethodDelete, "/collections/users/indexes/nope", "", http.StatusNotFound, 27, "NotFound"},
		{"invalid json", http.MethodPost, "/collections/users/find", `{"filter": `, http.StatusBadRequest, http.StatusBadRequest, "BadRequest"},
		{"empty body", http.MethodPost, "/collections/users/insert", "", http.StatusBadRequest, http.StatusBadRequest, "BadRequest"},
		{"bad stage", http.MethodPost, "/collections/users/aggregate", `{"pipeline": [{"$frobnicate": {}}]}`, http.StatusBadRequest, 16436, "AggregationStageError"},
		{"text search without index", http.MethodPost, "/collections/users/textSearch", `{"search": "a"}`, http.StatusBadRequest, 27, "BadIndexSpec"},
		{"empty bulk", http.MethodPost, "/collections/users/bulk", `{"operations": []}`, http.StatusBadRequest, http.StatusBadRequest, "BadRequest"},
		{"unknown route", http.MethodGet, "/nothing", "", http.StatusNotFound, http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := call(t, ts, tt.method, tt.path, tt.body)
			if status != tt.status {
				t.Errorf("expected status %d, got %d (%s)", tt.status, status, out.Message)
			}
			if out.OK {
				t.Error("expected ok=false")
			}
			if tt.code != 0 && out.Code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, out.Code)
			}
			if out.Error != tt.kind {
				t.Errorf("expected error %s, got %s", tt.kind, out.Error)
			}
			if out.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestCollectionsAndIndexes(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())

	mustCall(t, ts, http.MethodPut, "/collections/people", `{"validator": {"age": {"$gte": 0}}, "max": 5}`)
	status, out := call(t, ts, http.MethodPost, "/collections/people/insert", `{"documents": [{"age": -1}]}`)
	if status != http.StatusBadRequest || out.Code != 121 {
		t.Errorf("expected validation failure, got %d %d", status, out.Code)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/people/indexes", `{"key": {"age": 1, "name": -1}}`)
	if !strings.Contains(string(out.Result), `"age_1_name_-1"`) {
		t.Errorf("unexpected index result %s", out.Result)
	}
	out = mustCall(t, ts, http.MethodGet, "/collections/people/indexes", "")
	indexes := documents(t, out.Result)
	if len(indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(indexes))
	}
	if ns, _ := indexes[1].Get("ns"); ns != "test.people" {
		t.Errorf("unexpected ns %v", ns)
	}
	mustCall(t, ts, http.MethodDelete, "/collections/people/indexes/age_1_name_-1", "")

	out = mustCall(t, ts, http.MethodGet, "/collections", "")
	if out.Count != 1 {
		t.Errorf("expected 1 collection, got %d", out.Count)
	}

	mustCall(t, ts, http.MethodPost, "/collections/people/rename", `{"to": "humans"}`)
	mustCall(t, ts, http.MethodGet, "/collections/humans/stats", "")
	mustCall(t, ts, http.MethodDelete, "/collections/humans", "")
	status, _ = call(t, ts, http.MethodGet, "/collections/humans/stats", "")
	if status != http.StatusNotFound {
		t.Errorf("expected 404 after drop, got %d", status)
	}
}

func TestAggregateMapReduceGeoNear(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	mustCall(t, ts, http.MethodPost, "/collections/sales/insert", `{"documents": [
		{"item": "a", "qty": 2, "loc": [0, 0]},
		{"item": "b", "qty": 5, "loc": [3, 4]},
		{"item": "a", "qty": 1, "loc": [1, 0]}
	]}`)

	out := mustCall(t, ts, http.MethodPost, "/collections/sales/aggregate", `{"pipeline": [
		{"$group": {"_id": "$item", "total": {"$sum": "$qty"}}},
		{"$sort": {"_id": 1}}
	]}`)
	docs := documents(t, out.Result)
	if len(docs) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(docs))
	}
	if total, _ := docs[0].Get("total"); total != int32(3) {
		t.Errorf("expected total 3, got %v", total)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/sales/mapReduce",
		`{"map": "[this.item, this.qty]", "reduce": "sum(values)"}`)
	if !strings.Contains(string(out.Result), `"output":2`) {
		t.Errorf("unexpected map/reduce result %s", out.Result)
	}

	mustCall(t, ts, http.MethodPost, "/collections/sales/indexes", `{"key": {"loc": "2d"}}`)
	out = mustCall(t, ts, http.MethodPost, "/collections/sales/geoNear", `{"near": [0, 0], "limit": 2}`)
	if out.Count != 2 {
		t.Errorf("expected 2 results, got %d", out.Count)
	}
}

func TestTextSearch(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	mustCall(t, ts, http.MethodPost, "/collections/articles/insert", `{"documents": [
		{"_id": 1, "title": "Coffee shop"},
		{"_id": 2, "title": "Tea house"},
		{"_id": 3, "title": "Coffee and tea"}
	]}`)
	mustCall(t, ts, http.MethodPost, "/collections/articles/indexes", `{"key": {"title": "text"}}`)

	out := mustCall(t, ts, http.MethodPost, "/collections/articles/textSearch",
		`{"search": "coffee shop", "projection": {"_id": 1}, "limit": 5}`)
	docs := documents(t, out.Result)
	if out.Count != 2 || len(docs) != 2 {
		t.Fatalf("expected 2 results, got %d", out.Count)
	}
	if score, _ := docs[0].Get("score"); score != 1.5 {
		t.Errorf("expected score 1.5, got %v", score)
	}
	obj, _ := docs[0].GetValue("obj")
	if id := obj.Document().ID().Interface(); id != int32(1) {
		t.Errorf("expected document 1 first, got %v", id)
	}

	out = mustCall(t, ts, http.MethodPost, "/collections/articles/find", `{"filter": {"$text": {"$search": "tea"}}}`)
	if out.Count != 2 {
		t.Errorf("expected 2 $text matches, got %d", out.Count)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequestSize = 64
	_, ts := setupTestServer(t, cfg)

	body := `{"documents": [{"data": "` + strings.Repeat("x", 200) + `"}]}`
	status, out := call(t, ts, http.MethodPost, "/collections/big/insert", body)
	if status != http.StatusRequestEntityTooLarge || out.Error != "RequestTooLarge" {
		t.Errorf("expected 413, got %d %s", status, out.Error)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	_, ts := setupTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		mustCall(t, ts, http.MethodGet, "/health", "")
	}
	status, out := call(t, ts, http.MethodGet, "/health", "")
	if status != http.StatusTooManyRequests || out.Error != "RateLimited" {
		t.Errorf("expected 429, got %d", status)
	}
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://a.example", "http://b.example"}
	_, ts := setupTestServer(t, cfg)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+APIPrefix+"/health", nil)
	req.Header.Set("Origin", "http://b.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://b.example" {
		t.Errorf("unexpected allowed origin %q", got)
	}
}

func TestCompression(t *testing.T) {
	cfg := testConfig()
	cfg.EnableCompression = true
	_, ts := setupTestServer(t, cfg)

	var docs []string
	for i := 0; i < 100; i++ {
		docs = append(docs, `{"text": "the same words over and over again"}`)
	}
	mustCall(t, ts, http.MethodPost, "/collections/c/insert", `{"documents": [`+strings.Join(docs, ",")+`]}`)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+APIPrefix+"/collections/c/find", bytes.NewBufferString(`{}`))
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("expected a gzip response, got %q", resp.Header.Get("Content-Encoding"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	mustCall(t, ts, http.MethodPost, "/collections/m/insert", `{"documents": [{"a": 1}]}`)

	resp, err := http.Get(ts.URL + APIPrefix + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "memdb_") {
		t.Errorf("expected memdb metrics, got %s", body)
	}
}

func TestWatch(t *testing.T) {
	srv, ts := setupTestServer(t, testConfig())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + APIPrefix + "/watch"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]interface{}{
		"collection": "users",
		"filter":     map[string]interface{}{"operationType": "insert"},
	}); err != nil {
		t.Fatal(err)
	}

	var msg struct {
		Type  string             `json:"type"`
		Event *document.Document `json:"event"`
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.ReadJSON(&msg); err != nil || msg.Type != "connected" {
		t.Fatalf("expected connected, got %v %v", msg.Type, err)
	}

	users := srv.GetDatabase().Collection("users")
	if _, err := users.Insert(document.MustParseJSON(`{"_id": 1, "name": "alice"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Remove(nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.GetDatabase().Collection("other").Insert(document.MustParseJSON(`{"_id": 2}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Insert(document.MustParseJSON(`{"_id": 3}`)); err != nil {
		t.Fatal(err)
	}

	var keys []interface{}
	for len(keys) < 2 {
		msg.Event = nil
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		if msg.Type != "event" {
			continue
		}
		op, _ := msg.Event.Get("operationType")
		if op != "insert" {
			t.Errorf("filter not applied, got %v", op)
		}
		key, ok := document.GetPath(msg.Event, "documentKey._id")
		if !ok {
			t.Fatalf("event without a document key: %s", msg.Event)
		}
		keys = append(keys, key.Interface())
	}
	if keys[0] != int32(1) || keys[1] != int32(3) {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestServeAndShutdown(t *testing.T) {
	db := database.New(database.Config{Name: "test", Logger: logger.Discard()})
	defer db.Close()
	srv, err := New(testConfig(), db, logger.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + APIPrefix + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get("http://" + ln.Addr().String() + APIPrefix + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected no metrics route without a collector, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
