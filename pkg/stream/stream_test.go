package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kotoba-ai/kotoba-stream/pkg/pipeline"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/transcriber"
	"github.com/kotoba-ai/kotoba-stream/pkg/session"
)

func newTestServer(t *testing.T, stub *transcriber.Stub) (*httptest.Server, func()) {
	t.Helper()
	registry := session.NewRegistry(30*time.Minute, time.Hour, func() *session.State {
		return session.New(30, 5, 16000, 224)
	}, nil)

	cfg := pipeline.DefaultConfig()
	cfg.FinalizationTimeout = 2 * time.Second

	ep := New(Dependencies{
		Registry:    registry,
		Transcriber: stub,
		SampleRate:  16000,
		PipelineCfg: cfg,
	})

	srv := httptest.NewServer(http.HandlerFunc(ep.ServeHTTP))
	return srv, func() {
		srv.Close()
		registry.Close()
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func readUntilType(t *testing.T, ctx context.Context, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	for {
		var msg map[string]interface{}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read failed waiting for %q: %v", wantType, err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
}

func oneSecondPCM() []byte {
	return make([]byte, 16000*2)
}

func TestConnectedEmittedOnAccept(t *testing.T) {
	stub := transcriber.NewStub()
	srv, cleanup := newTestServer(t, stub)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readUntilType(t, ctx, conn, "connected")
	if msg["sessionId"] == "" || msg["sessionId"] == nil {
		t.Fatalf("expected non-empty sessionId, got %+v", msg)
	}
}

func TestSingleChunkThenEndProducesSessionEnd(t *testing.T) {
	stub := transcriber.NewStub()
	stub.ByLen[16000*2] = "こんにちは。"

	srv, cleanup := newTestServer(t, stub)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readUntilType(t, ctx, conn, "connected")

	if err := conn.Write(ctx, websocket.MessageBinary, oneSecondPCM()); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	update := readUntilType(t, ctx, conn, "transcription_update")
	transcription := update["transcription"].(map[string]interface{})
	if transcription["confirmed"] != "こんにちは。" {
		t.Fatalf("confirmed = %v", transcription["confirmed"])
	}

	endMsg, err := json.Marshal(map[string]string{"type": "end"})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, endMsg); err != nil {
		t.Fatalf("write end: %v", err)
	}

	sessionEnd := readUntilType(t, ctx, conn, "session_end")
	if sessionEnd["isFinal"] != true {
		t.Fatalf("expected isFinal=true, got %+v", sessionEnd)
	}
}

func TestUnknownMessageTypeEmitsProtocolError(t *testing.T) {
	stub := transcriber.NewStub()
	srv, cleanup := newTestServer(t, stub)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readUntilType(t, ctx, conn, "connected")

	bogus, _ := json.Marshal(map[string]string{"type": "frobnicate"})
	if err := conn.Write(ctx, websocket.MessageText, bogus); err != nil {
		t.Fatalf("write: %v", err)
	}

	errMsg := readUntilType(t, ctx, conn, "error")
	if errMsg["code"] != ErrCodeProtocol {
		t.Fatalf("code = %v, want %v", errMsg["code"], ErrCodeProtocol)
	}
}

func TestMalformedBinaryFrameEmitsDecodeError(t *testing.T) {
	stub := transcriber.NewStub()
	srv, cleanup := newTestServer(t, stub)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readUntilType(t, ctx, conn, "connected")

	// Not a valid WAV header and odd-length, so it's rejected as raw PCM too.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write: %v", err)
	}

	errMsg := readUntilType(t, ctx, conn, "error")
	if errMsg["code"] != ErrCodeDecode {
		t.Fatalf("code = %v, want %v", errMsg["code"], ErrCodeDecode)
	}
}
