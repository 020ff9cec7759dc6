package transcriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGroqTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("language"); got != "ja" {
			t.Errorf("language field = %q, want ja", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "こんにちは。", "language": "japanese"})
	}))
	defer server.Close()

	g := &Groq{apiKey: "test-key", url: server.URL, model: "whisper-large-v3-turbo", sampleRate: 16000, client: server.Client()}

	result, err := g.Transcribe(context.Background(), make([]byte, 32000), "", "ja", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "こんにちは。" {
		t.Fatalf("Text = %q", result.Text)
	}
	if g.Name() != "groq-transcriber" {
		t.Fatalf("unexpected Name(): %s", g.Name())
	}
}

func TestGroqTranscribeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := &Groq{apiKey: "test-key", url: server.URL, model: "whisper-large-v3-turbo", sampleRate: 16000, client: server.Client()}

	_, err := g.Transcribe(context.Background(), make([]byte, 32000), "", "ja", 0)
	if err == nil {
		t.Fatal("expected error")
	}
}
