package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Attachment references a file stored in the DIAL bucket. Responses of
// image-generation deployments carry generated files the same way.
type Attachment struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Request is a provider-agnostic vision completion request. Exactly one of
// ImageBase64/ImageURL/Attachments identifies the image; pure text requests
// (image generation prompts) leave all three empty.
type Request struct {
	Model       string
	Prompt      string
	ImageBase64 string // raw base64 payload, no data: prefix
	ImageMIME   string // MIME type for ImageBase64 (image/png, image/jpeg, ...)
	ImageURL    string // direct URL passed through to the provider
	Attachments []Attachment
	MaxTokens   int
	Options     map[string]any // provider custom fields (size, quality, style, ...)
}

// Response is the normalized provider response.
type Response struct {
	Text        string
	Model       string
	Attachments []Attachment
	Raw         json.RawMessage // unmodified provider response body
	TokensIn    int
	TokensOut   int
}

// Client is implemented by each provider backend.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var (
	ErrRateLimited    = errors.New("rate_limited")
	ErrContentRefused = errors.New("content_refused")
)

func IsRateLimited(err error) bool    { return errors.Is(err, ErrRateLimited) }
func IsContentRefused(err error) bool { return errors.Is(err, ErrContentRefused) }

// HTTPError is a non-2xx provider reply.
type HTTPError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// DataURI renders base64 image content as an inline data URI.
func DataURI(mime, b64 string) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, b64)
}
