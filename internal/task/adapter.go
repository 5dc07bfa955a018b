package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/config"
)

// Input describes a single image-to-text request. Exactly one of ImageData
// and ImageURL must be set.
type Input struct {
	ImageData []byte
	ImageURL  string
	Prompt    string
	Model     string
	Options   map[string]any
}

// Output is the normalized result of a describe call. Request-scoped,
// immutable after creation.
type Output struct {
	Text      string
	Raw       json.RawMessage
	ModelUsed string
}

// Adapter translates describe requests into provider calls and normalizes
// the responses. It performs no retries; failover is the dispatcher's job.
type Adapter struct {
	client   ai.Client
	apiKey   string
	keyVar   string
	defaults config.TaskConfig
}

// New builds an adapter for the given provider client. Credentials are
// resolved from the config snapshot taken at startup, not read ad hoc.
func New(client ai.Client, cfg *config.Config) *Adapter {
	return &Adapter{
		client:   client,
		apiKey:   cfg.Providers.APIKey(client.Name()),
		keyVar:   config.APIKeyVar(client.Name()),
		defaults: cfg.Task,
	}
}

// Provider returns the name of the backing provider client.
func (a *Adapter) Provider() string { return a.client.Name() }

// Run validates the input, builds the request message and delegates to the
// provider. Errors are typed: *InvalidInputError for malformed input,
// *ConfigurationError for missing credentials (raised before any network
// call), *UpstreamError for provider failures.
func (a *Adapter) Run(ctx context.Context, in Input) (Output, error) {
	hasData := len(in.ImageData) > 0
	hasURL := in.ImageURL != ""
	switch {
	case hasData && hasURL:
		return Output{}, &InvalidInputError{Reason: "both inline image data and image URL set"}
	case !hasData && !hasURL:
		return Output{}, &InvalidInputError{Reason: "no image: set inline image data or an image URL"}
	}

	if a.apiKey == "" {
		return Output{}, &ConfigurationError{Variable: a.keyVar}
	}

	req := ai.Request{
		Model:     a.model(in.Model),
		Prompt:    a.prompt(in.Prompt),
		MaxTokens: a.defaults.MaxTokens,
		Options:   in.Options,
	}
	if hasData {
		mime := mimetype.Detect(in.ImageData)
		if !strings.HasPrefix(mime.String(), "image/") {
			return Output{}, &InvalidInputError{Reason: fmt.Sprintf("payload is %s, not an image", mime.String())}
		}
		req.ImageBase64 = base64.StdEncoding.EncodeToString(in.ImageData)
		req.ImageMIME = mime.String()
	} else {
		req.ImageURL = in.ImageURL
	}

	return a.call(ctx, req)
}

// AttachmentInput describes an image already uploaded to the DIAL bucket.
type AttachmentInput struct {
	Attachment ai.Attachment
	Prompt     string
	Model      string
}

// RunAttachment sends a describe request referencing a bucket attachment.
// DIAL Core adapts the attachment to whatever format the deployment needs,
// so the same request works across vendors.
func (a *Adapter) RunAttachment(ctx context.Context, in AttachmentInput) (Output, error) {
	if in.Attachment.URL == "" {
		return Output{}, &InvalidInputError{Reason: "attachment has no url"}
	}
	if a.apiKey == "" {
		return Output{}, &ConfigurationError{Variable: a.keyVar}
	}
	req := ai.Request{
		Model:       a.model(in.Model),
		Prompt:      a.prompt(in.Prompt),
		MaxTokens:   a.defaults.MaxTokens,
		Attachments: []ai.Attachment{in.Attachment},
	}
	return a.call(ctx, req)
}

func (a *Adapter) call(ctx context.Context, req ai.Request) (Output, error) {
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return Output{}, &UpstreamError{Provider: a.client.Name(), Err: err}
	}
	if resp.Text == "" {
		return Output{}, &UpstreamError{Provider: a.client.Name(), Err: errors.New("empty completion text")}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	log.Debug().
		Str("provider", a.client.Name()).
		Str("model", model).
		Int("tokens_in", resp.TokensIn).
		Int("tokens_out", resp.TokensOut).
		Msg("describe completed")

	return Output{Text: resp.Text, Raw: resp.Raw, ModelUsed: model}, nil
}

func (a *Adapter) model(m string) string {
	if m != "" {
		return m
	}
	return a.defaults.DefaultModel
}

func (a *Adapter) prompt(p string) string {
	if p != "" {
		return p
	}
	return a.defaults.DefaultPrompt
}
