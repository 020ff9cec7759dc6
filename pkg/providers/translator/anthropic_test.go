package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicTranslateJaEn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]interface{}{
			"content": []map[string]string{
				{"text": "good morning"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr := &Anthropic{apiKey: "test-key", url: server.URL, model: "claude-3-5-sonnet-20240620", client: server.Client()}

	got, err := tr.TranslateJaEn(context.Background(), "おはよう")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "good morning" {
		t.Fatalf("got %q, want %q", got, "good morning")
	}
	if tr.Name() != "anthropic-translator" {
		t.Fatalf("unexpected Name(): %s", tr.Name())
	}
}
