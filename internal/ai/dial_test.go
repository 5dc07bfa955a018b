package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDialClient_InlineImage(t *testing.T) {
	var seenPath, seenKey string
	var seenBody dialChatReq

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenKey = r.Header.Get("Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&seenBody); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-2024-05-13","choices":[{"message":{"content":"a banner"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer ts.Close()

	c := NewDialClient(ts.URL, "k123")
	resp, err := c.Do(context.Background(), Request{
		Model:       "gpt-4o",
		Prompt:      "What do you see on this picture?",
		ImageBase64: "aGVsbG8=",
		ImageMIME:   "image/png",
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if resp.Text != "a banner" {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.Model != "gpt-4o-2024-05-13" {
		t.Fatalf("model = %q", resp.Model)
	}
	if resp.TokensIn != 10 || resp.TokensOut != 5 {
		t.Fatalf("tokens = %d/%d", resp.TokensIn, resp.TokensOut)
	}
	if len(resp.Raw) == 0 {
		t.Fatal("raw response missing")
	}

	if seenPath != "/openai/deployments/gpt-4o/chat/completions" {
		t.Fatalf("path = %q", seenPath)
	}
	if seenKey != "k123" {
		t.Fatalf("Api-Key = %q", seenKey)
	}
	if len(seenBody.Messages) != 1 {
		t.Fatalf("messages = %d", len(seenBody.Messages))
	}
	parts, ok := seenBody.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %#v", seenBody.Messages[0].Content)
	}
	img := parts[1].(map[string]any)
	url := img["image_url"].(map[string]any)["url"].(string)
	if url != "data:image/png;base64,aGVsbG8=" {
		t.Fatalf("image part url = %q", url)
	}
}

func TestDialClient_AttachmentFlow(t *testing.T) {
	var seenBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&seenBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done","custom_content":{"attachments":[{"title":"out.png","url":"files/out.png","type":"image/png"}]}}}]}`))
	}))
	defer ts.Close()

	c := NewDialClient(ts.URL, "k123")
	resp, err := c.Do(context.Background(), Request{
		Model:       "dall-e-3",
		Prompt:      "Sunny day on Bali",
		Attachments: []Attachment{{Title: "in.png", URL: "files/in.png", Type: "image/png"}},
		Options:     map[string]any{"size": "1024x1024"},
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if len(resp.Attachments) != 1 || resp.Attachments[0].URL != "files/out.png" {
		t.Fatalf("attachments = %+v", resp.Attachments)
	}

	msg := seenBody["messages"].([]any)[0].(map[string]any)
	if msg["content"] != "Sunny day on Bali" {
		t.Fatalf("content = %v", msg["content"])
	}
	cc := msg["custom_content"].(map[string]any)
	if len(cc["attachments"].([]any)) != 1 {
		t.Fatalf("custom_content = %v", cc)
	}
	cf := seenBody["custom_fields"].(map[string]any)
	if cf["size"] != "1024x1024" {
		t.Fatalf("custom_fields = %v", cf)
	}
}

func TestDialClient_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewDialClient(ts.URL, "k123")
	_, err := c.Do(context.Background(), Request{Model: "gpt-4o", Prompt: "hi", ImageURL: "https://x/y.png"})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestDialClient_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewDialClient(ts.URL, "k123")
	_, err := c.Do(context.Background(), Request{Model: "gpt-4o", Prompt: "hi", ImageURL: "https://x/y.png"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway || httpErr.Provider != "dial" {
		t.Fatalf("unexpected error: %+v", httpErr)
	}
}

func TestDialClient_MissingKey(t *testing.T) {
	c := NewDialClient("https://example.invalid", "")
	_, err := c.Do(context.Background(), Request{Model: "gpt-4o", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error without api key")
	}
}
