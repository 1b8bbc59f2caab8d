package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

func TestComplete(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"filtered_data\":{}}"}}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL+"/", "qwen", "")
	out, err := c.Complete(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "rules"},
		{Role: types.RoleUser, Content: "question"},
	}, types.CompletionOptions{MaxTokens: 1000})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"filtered_data":{}}` {
		t.Errorf("unexpected reply %q", out)
	}
	if got.Model != "qwen" || got.MaxTokens != 1000 || got.Temperature != 0 || got.Stream {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "question" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestCompleteContentParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "", "")
	out, err := c.Complete(context.Background(), nil, types.CompletionOptions{})
	if err != nil || out != "hi" {
		t.Errorf("Expected hi, got %q (%v)", out, err)
	}
}

func TestCompleteFailures(t *testing.T) {
	for name, body := range map[string]string{
		"no choices": `{"choices":[]}`,
		"empty":      `{"choices":[{"message":{"role":"assistant","content":""}}]}`,
		"garbage":    `not json`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			c, _ := NewClient(server.URL, "", "")
			if _, err := c.Complete(context.Background(), nil, types.CompletionOptions{}); err == nil {
				t.Error("Expected error")
			}
		})
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()
	c, _ := NewClient(server.URL, "", "")
	if _, err := c.Complete(context.Background(), nil, types.CompletionOptions{}); err == nil {
		t.Error("Expected status error")
	}
}

func TestEncode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req EmbeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}
		// out of order on purpose
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "", "bge")
	vectors, err := c.Encode(context.Background(), []string{"q", "car"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("embeddings not ordered by index: %v", vectors)
	}
}
