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

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	http   *http.Client
	apiKey string
	url    string
}

func NewAnthropicClient() *AnthropicClient {
	return &AnthropicClient{http: &http.Client{}, apiKey: os.Getenv("ANTHROPIC_API_KEY"), url: anthropicMessagesURL}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicMsgReq struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	Messages  []anthropicMsg `json:"messages"`
}

type anthropicMsg struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type anthropicMsgResp struct {
	Model   string `json:"model"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicBlocks mirrors contentParts for the Anthropic block schema: the
// image block precedes the text block per the vendor's multimodal guidance.
func anthropicBlocks(req Request) []map[string]any {
	var blocks []map[string]any
	switch {
	case req.ImageBase64 != "":
		blocks = append(blocks, map[string]any{
			"type": "image",
			"source": map[string]string{
				"type":       "base64",
				"media_type": req.ImageMIME,
				"data":       req.ImageBase64,
			},
		})
	case req.ImageURL != "":
		blocks = append(blocks, map[string]any{
			"type": "image",
			"source": map[string]string{
				"type": "url",
				"url":  req.ImageURL,
			},
		})
	}
	return append(blocks, map[string]any{"type": "text", "text": req.Prompt})
}

func (c *AnthropicClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload := anthropicMsgReq{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMsg{{Role: "user", Content: anthropicBlocks(req)}},
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
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

	var r anthropicMsgResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(r.Content) == 0 {
		return Response{}, fmt.Errorf("anthropic response has no content")
	}

	model := r.Model
	if model == "" {
		model = req.Model
	}
	return Response{
		Text:      r.Content[0].Text,
		Model:     model,
		Raw:       raw,
		TokensIn:  r.Usage.InputTokens,
		TokensOut: r.Usage.OutputTokens,
	}, nil
}
