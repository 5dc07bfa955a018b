package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient_URLImage(t *testing.T) {
	var seenAuth string
	var seenBody openAIChatReq

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&seenBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":"an elephant"}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`))
	}))
	defer ts.Close()

	c := &OpenAIClient{http: ts.Client(), apiKey: "sk-test", url: ts.URL}
	resp, err := c.Do(context.Background(), Request{
		Model:    "gpt-4o",
		Prompt:   "What's in this image?",
		ImageURL: "https://example.com/elephant.jpg",
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if resp.Text != "an elephant" {
		t.Fatalf("text = %q", resp.Text)
	}
	if seenAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", seenAuth)
	}

	content := seenBody.Messages[0].Content
	if len(content) != 2 {
		t.Fatalf("expected text+image parts, got %d", len(content))
	}
	img := content[1]["image_url"].(map[string]any)
	if img["url"] != "https://example.com/elephant.jpg" {
		t.Fatalf("image url = %v, want literal URL", img["url"])
	}
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	c := &OpenAIClient{http: http.DefaultClient, url: "https://example.invalid"}
	if _, err := c.Do(context.Background(), Request{Model: "gpt-4o", Prompt: "hi"}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestContentParts_Exclusive(t *testing.T) {
	// base64 wins when both are somehow set upstream; the adapter layer
	// guarantees XOR before requests reach a client.
	parts := contentParts(Request{Prompt: "p", ImageBase64: "QUJD", ImageMIME: "image/jpeg"})
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	url := parts[1]["image_url"].(map[string]string)["url"]
	if url != "data:image/jpeg;base64,QUJD" {
		t.Fatalf("url = %q", url)
	}

	parts = contentParts(Request{Prompt: "p"})
	if len(parts) != 1 {
		t.Fatalf("text-only request should have a single part, got %d", len(parts))
	}
}
