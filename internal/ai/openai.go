package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAIClient talks directly to the OpenAI chat completions API.
type OpenAIClient struct {
	http   *http.Client
	apiKey string
	url    string
}

func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{http: &http.Client{}, apiKey: os.Getenv("OPENAI_API_KEY"), url: openAIChatURL}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type openAIChatReq struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// contentParts builds the ordered user message parts: one text part followed
// by at most one image part (data URI or literal URL, never both).
func contentParts(req Request) []map[string]any {
	parts := []map[string]any{
		{"type": "text", "text": req.Prompt},
	}
	switch {
	case req.ImageBase64 != "":
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": DataURI(req.ImageMIME, req.ImageBase64)},
		})
	case req.ImageURL != "":
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": req.ImageURL},
		})
	}
	return parts
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("missing OPENAI_API_KEY")
	}

	payload := openAIChatReq{
		Model:       req.Model,
		Messages:    []openAIMessage{{Role: "user", Content: contentParts(req)}},
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), Provider: c.Name()}
	}

	var r openAIChatResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(r.Choices) == 0 {
		return Response{}, fmt.Errorf("openai response has no choices")
	}

	model := r.Model
	if model == "" {
		model = req.Model
	}
	return Response{
		Text:      r.Choices[0].Message.Content,
		Model:     model,
		Raw:       raw,
		TokensIn:  r.Usage.PromptTokens,
		TokensOut: r.Usage.CompletionTokens,
	}, nil
}
