package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramChannelSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	channel := NewTelegramChannel("token", "chat", srv.URL, time.Second, testLogger())
	msg := Message{Subject: "Price Alert: Lightning Bolt (+25.0%)", Body: "Current: $12.50"}

	if err := channel.Send(context.Background(), msg); err != nil {
		t.Fatalf("Telegram Send 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Lightning Bolt") {
		t.Fatalf("text 应包含卡名: %q", received["text"])
	}
	if !strings.Contains(received["text"], "Current: $12.50") {
		t.Fatalf("text 应包含正文: %q", received["text"])
	}
}

func TestTelegramChannelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	channel := NewTelegramChannel("token", "chat", srv.URL, time.Second, testLogger())
	msg := Message{Subject: "Price Alert: Lightning Bolt (+25.0%)", Body: "Current: $12.50"}

	if err := channel.Send(context.Background(), msg); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
