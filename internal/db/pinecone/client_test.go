package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"skillrag/internal/domain/kb"
)

func TestQuery(t *testing.T) {
	var gotReq queryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %s, want /query", r.URL.Path)
		}
		if r.Header.Get("Api-Key") != "test-key" {
			t.Errorf("Api-Key = %q", r.Header.Get("Api-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"matches": [
			{"id": "d1_chunk_0", "score": 0.91, "metadata": {"content": "rubric", "source": "rubric.md"}},
			{"id": "d1_chunk_1", "score": 0.42, "metadata": {"content": "more"}}
		]}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "test-key", IndexHost: server.URL})
	matches, err := c.Query(context.Background(), "tenant_acme", []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if gotReq.Namespace != "tenant_acme" {
		t.Errorf("namespace = %q", gotReq.Namespace)
	}
	if gotReq.TopK != 5 || !gotReq.IncludeMetadata {
		t.Errorf("topK = %d, includeMetadata = %v", gotReq.TopK, gotReq.IncludeMetadata)
	}

	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].ID != "d1_chunk_0" || matches[0].Score != 0.91 {
		t.Errorf("match 0 = %+v", matches[0])
	}
	if matches[0].Metadata["source"] != "rubric.md" {
		t.Errorf("metadata = %v", matches[0].Metadata)
	}
}

func TestQueryHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "vector dimension mismatch"}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", IndexHost: server.URL})
	if _, err := c.Query(context.Background(), "ns", []float32{0.1}, 5); err == nil {
		t.Fatal("expected error on 400")
	}
}

func TestUpsertBatches(t *testing.T) {
	var batches []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors/upsert" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload struct {
			Namespace string      `json:"namespace"`
			Vectors   []kb.Vector `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		batches = append(batches, len(payload.Vectors))
		w.Write([]byte(`{"upsertedCount": 0}`))
	}))
	defer server.Close()

	vectors := make([]kb.Vector, 250)
	for i := range vectors {
		vectors[i] = kb.Vector{ID: "v", Values: []float32{0.1}}
	}

	c := NewClient(Config{APIKey: "k", IndexHost: server.URL})
	if err := c.Upsert(context.Background(), "ns", vectors); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	want := []int{100, 100, 50}
	if len(batches) != len(want) {
		t.Fatalf("batches = %v, want %v", batches, want)
	}
	for i := range want {
		if batches[i] != want[i] {
			t.Fatalf("batches = %v, want %v", batches, want)
		}
	}
}

func TestDeleteRequests(t *testing.T) {
	var payloads []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors/delete" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var p map[string]interface{}
		json.NewDecoder(r.Body).Decode(&p)
		payloads = append(payloads, p)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", IndexHost: server.URL})
	if err := c.DeleteByDocID(context.Background(), "ns", "d1"); err != nil {
		t.Fatalf("DeleteByDocID: %v", err)
	}
	if err := c.DeleteNamespace(context.Background(), "ns"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}

	if len(payloads) != 2 {
		t.Fatalf("payloads = %d", len(payloads))
	}
	filter, ok := payloads[0]["filter"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing filter: %v", payloads[0])
	}
	if docFilter, _ := filter["doc_id"].(map[string]interface{}); docFilter["$eq"] != "d1" {
		t.Fatalf("filter = %v", filter)
	}
	if payloads[1]["deleteAll"] != true {
		t.Fatalf("deleteAll missing: %v", payloads[1])
	}
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/describe_index_stats" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"namespaces": {"tenant_acme": {"vectorCount": 42}, "tenant_beta": {"vectorCount": 7}}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", IndexHost: server.URL})
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["tenant_acme"].VectorCount != 42 || stats["tenant_beta"].VectorCount != 7 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"namespaces": {}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", IndexHost: server.URL})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()

	c = NewClient(Config{APIKey: "wrong", IndexHost: bad.URL})
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on 401")
	}
}
