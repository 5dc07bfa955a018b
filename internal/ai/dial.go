package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DialClient talks to a DIAL Core proxy. DIAL exposes every deployment
// behind an OpenAI-compatible chat completions endpoint and adapts message
// content (including bucket attachments) to the vendor behind it.
type DialClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewDialClient(baseURL, apiKey string) *DialClient {
	return &DialClient{http: &http.Client{}, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (c *DialClient) Name() string { return "dial" }

// dialMessage content is either a plain string (attachment flow, image
// generation prompts) or a list of content parts (inline images).
type dialMessage struct {
	Role          string             `json:"role"`
	Content       any                `json:"content"`
	CustomContent *dialCustomContent `json:"custom_content,omitempty"`
}

type dialCustomContent struct {
	Attachments []Attachment `json:"attachments,omitempty"`
}

type dialChatReq struct {
	Messages     []dialMessage  `json:"messages"`
	Temperature  float64        `json:"temperature"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

type dialChatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content       string             `json:"content"`
			CustomContent *dialCustomContent `json:"custom_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// completionsURL routes the request to the deployment-scoped endpoint.
func (c *DialClient) completionsURL(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions", c.baseURL, deployment)
}

func (c *DialClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("missing DIAL_API_KEY")
	}

	msg := dialMessage{Role: "user"}
	switch {
	case len(req.Attachments) > 0:
		msg.Content = req.Prompt
		msg.CustomContent = &dialCustomContent{Attachments: req.Attachments}
	case req.ImageBase64 != "" || req.ImageURL != "":
		msg.Content = contentParts(req)
	default:
		msg.Content = req.Prompt
	}

	payload := dialChatReq{
		Messages:     []dialMessage{msg},
		Temperature:  0,
		MaxTokens:    req.MaxTokens,
		CustomFields: req.Options,
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(req.Model), bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Api-Key", c.apiKey)
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

	var r dialChatResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("decode dial response: %w", err)
	}
	if len(r.Choices) == 0 {
		return Response{}, fmt.Errorf("dial response has no choices")
	}

	out := Response{
		Text:      r.Choices[0].Message.Content,
		Model:     req.Model,
		Raw:       raw,
		TokensIn:  r.Usage.PromptTokens,
		TokensOut: r.Usage.CompletionTokens,
	}
	if r.Model != "" {
		out.Model = r.Model
	}
	if cc := r.Choices[0].Message.CustomContent; cc != nil {
		out.Attachments = cc.Attachments
	}
	return out, nil
}
