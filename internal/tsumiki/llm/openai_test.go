package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChat_SendsPersonaAndExtractsReply(t *testing.T) {
	var got oaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  こんにちは！元気だよ！  "}},
			},
		})
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	reply, err := p.Chat(context.Background(), "@alice:example.com", "げんき？")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "こんにちは！元気だよ！" {
		t.Errorf("reply not trimmed/extracted: %q", reply)
	}

	if got.Model != "test-model" {
		t.Errorf("model not forwarded: %q", got.Model)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || !strings.Contains(got.Messages[0].Content, "スタックチャン") {
		t.Errorf("system prompt missing: %+v", got.Messages[0])
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "げんき？" {
		t.Errorf("user message wrong: %+v", got.Messages[1])
	}
}

func TestChat_APIErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "bad", BaseURL: server.URL})
	if _, err := p.Chat(context.Background(), "u", "hi"); err == nil {
		t.Fatal("expected error from API failure")
	}
}

func TestChat_EmptyReplyFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	reply, err := p.Chat(context.Background(), "u", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == "" {
		t.Error("expected fallback phrase for empty completion")
	}
}

func TestDueSummary_BuildsPromptFromCards(t *testing.T) {
	var got oaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"もうすぐ締め切りだよ！"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	say, err := DueSummary(context.Background(), p, []string{"レポート提出", "買い物"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if say != "もうすぐ締め切りだよ！" {
		t.Errorf("unexpected summary: %q", say)
	}
	user := got.Messages[1].Content
	if !strings.Contains(user, "レポート提出") || !strings.Contains(user, "買い物") {
		t.Errorf("card names missing from prompt: %q", user)
	}
}
