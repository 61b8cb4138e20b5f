package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPSender_Send(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL, "token-1")
	if err := sender.Send(context.Background(), "5511999999999", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/message/send-text" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "token-1" {
		t.Errorf("apikey = %q", gotKey)
	}

	var req sendRequest
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if req.Number != "5511999999999" || req.Text != "hello" {
		t.Errorf("body = %+v", req)
	}
}

func TestHTTPSender_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("instance offline"))
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL, "")
	err := sender.Send(context.Background(), "551199", "hi")
	if err == nil {
		t.Fatal("expected error for gateway failure")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "instance offline") {
		t.Errorf("error should carry gateway status and body: %v", err)
	}
}
