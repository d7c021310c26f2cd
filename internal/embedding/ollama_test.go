package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	var r ollamaTags
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestOllama_IsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("nomic-embed-text:latest"))
	}))
	defer srv.Close()

	if !NewOllama(srv.URL, "nomic-embed-text").IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestOllama_IsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if NewOllama(srv.URL, "nomic-embed-text").IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestOllama_HasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("mistral-nemo:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	if !NewOllama(srv.URL, "nomic-embed-text").HasModel(context.Background()) {
		t.Error("HasModel(nomic-embed-text) = false, want true")
	}
	if NewOllama(srv.URL, "all-minilm").HasModel(context.Background()) {
		t.Error("HasModel(all-minilm) = true, want false")
	}
}

func TestOllama_Embed(t *testing.T) {
	var got ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	vec, err := NewOllama(srv.URL+"/", "nomic-embed-text").Embed(context.Background(), "Skills: Go")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v, want [0.1 0.2 0.3]", vec)
	}
	if got.Model != "nomic-embed-text" || got.Input != "Skills: Go" {
		t.Errorf("request = %+v", got)
	}
}

func TestOllama_EmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"empty", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"embeddings":[]}`)) }},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`not json`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			if _, err := NewOllama(srv.URL, "m").Embed(context.Background(), "x"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOllama_EnsureReady_PullsMissingModel(t *testing.T) {
	pulled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("mistral-nemo:latest"))
		case "/api/pull":
			pulled = true
			w.Write([]byte(`{"status":"downloading","total":100,"completed":50}` + "\n"))
			w.Write([]byte(`{"status":"success"}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := NewOllama(srv.URL, "nomic-embed-text").EnsureReady(context.Background(), &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !pulled {
		t.Error("model was not pulled")
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Errorf("progress output = %q, want downloading 50%%", out.String())
	}
}

func TestOllama_EnsureReady_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := NewOllama(srv.URL, "nomic-embed-text").EnsureReady(context.Background(), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Errorf("err = %v, want not running", err)
	}
}
