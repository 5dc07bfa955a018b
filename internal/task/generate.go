package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/local/imagetext/internal/ai"
)

// Image generation vocabularies accepted by DALL-E style deployments.
const (
	SizeSquare          = "1024x1024"
	SizeHeightRectangle = "1024x1792"
	SizeWidthRectangle  = "1792x1024"

	QualityStandard = "standard"
	QualityHD       = "hd"

	StyleNatural = "natural"
	StyleVivid   = "vivid"
)

var (
	validSizes     = map[string]bool{SizeSquare: true, SizeHeightRectangle: true, SizeWidthRectangle: true}
	validQualities = map[string]bool{QualityStandard: true, QualityHD: true}
	validStyles    = map[string]bool{StyleNatural: true, StyleVivid: true}
)

// GenerateInput describes a text-to-image request.
type GenerateInput struct {
	Prompt  string
	Model   string
	Size    string
	Quality string
	Style   string
}

// GenerateOutput carries the generation result: the textual response plus
// bucket attachments pointing at the generated files.
type GenerateOutput struct {
	Text        string
	Attachments []ai.Attachment
	Raw         json.RawMessage
	ModelUsed   string
}

// Generate submits a text-to-image request. Size, quality and style are
// validated against the deployment vocabulary before dispatch and passed as
// custom fields.
func (a *Adapter) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	if in.Prompt == "" {
		return GenerateOutput{}, &InvalidInputError{Reason: "empty prompt"}
	}
	if in.Size != "" && !validSizes[in.Size] {
		return GenerateOutput{}, &InvalidInputError{Reason: fmt.Sprintf("unknown size %q", in.Size)}
	}
	if in.Quality != "" && !validQualities[in.Quality] {
		return GenerateOutput{}, &InvalidInputError{Reason: fmt.Sprintf("unknown quality %q", in.Quality)}
	}
	if in.Style != "" && !validStyles[in.Style] {
		return GenerateOutput{}, &InvalidInputError{Reason: fmt.Sprintf("unknown style %q", in.Style)}
	}
	if a.apiKey == "" {
		return GenerateOutput{}, &ConfigurationError{Variable: a.keyVar}
	}

	fields := map[string]any{}
	if in.Size != "" {
		fields["size"] = in.Size
	}
	if in.Quality != "" {
		fields["quality"] = in.Quality
	}
	if in.Style != "" {
		fields["style"] = in.Style
	}

	req := ai.Request{
		Model:   a.model(in.Model),
		Prompt:  in.Prompt,
		Options: fields,
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return GenerateOutput{}, &UpstreamError{Provider: a.client.Name(), Err: err}
	}
	if len(resp.Attachments) == 0 && resp.Text == "" {
		return GenerateOutput{}, &UpstreamError{Provider: a.client.Name(), Err: errors.New("no images generated")}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return GenerateOutput{
		Text:        resp.Text,
		Attachments: resp.Attachments,
		Raw:         resp.Raw,
		ModelUsed:   model,
	}, nil
}
