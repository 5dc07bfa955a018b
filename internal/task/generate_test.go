package task

import (
	"context"
	"errors"
	"testing"

	"github.com/local/imagetext/internal/ai"
)

func TestGenerate_Success(t *testing.T) {
	stub := &stubClient{resp: ai.Response{
		Text:        "generated 1 image",
		Attachments: []ai.Attachment{{Title: "img.png", URL: "files/img.png", Type: "image/png"}},
	}}
	a := New(stub, testConfig())

	out, err := a.Generate(context.Background(), GenerateInput{
		Prompt:  "Sunny day on Bali",
		Model:   "dall-e-3",
		Size:    SizeSquare,
		Quality: QualityHD,
		Style:   StyleVivid,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if len(out.Attachments) != 1 || out.Attachments[0].URL != "files/img.png" {
		t.Fatalf("attachments = %+v", out.Attachments)
	}

	if stub.last.Options["size"] != SizeSquare {
		t.Fatalf("size field = %v", stub.last.Options["size"])
	}
	if stub.last.Options["quality"] != QualityHD {
		t.Fatalf("quality field = %v", stub.last.Options["quality"])
	}
	if stub.last.Options["style"] != StyleVivid {
		t.Fatalf("style field = %v", stub.last.Options["style"])
	}
	if stub.last.ImageBase64 != "" || stub.last.ImageURL != "" {
		t.Fatal("generation request must not carry an image")
	}
}

func TestGenerate_ValidatesVocabulary(t *testing.T) {
	stub := &stubClient{resp: ai.Response{Text: "x"}}
	a := New(stub, testConfig())

	var invErr *InvalidInputError
	cases := []GenerateInput{
		{},
		{Prompt: "p", Size: "512x512"},
		{Prompt: "p", Quality: "ultra"},
		{Prompt: "p", Style: "impressionist"},
	}
	for i, in := range cases {
		if _, err := a.Generate(context.Background(), in); !errors.As(err, &invErr) {
			t.Fatalf("case %d: expected InvalidInputError, got %v", i, err)
		}
	}
	if stub.calls != 0 {
		t.Fatalf("invalid inputs must not reach the client, calls = %d", stub.calls)
	}
}

func TestGenerate_UpstreamError(t *testing.T) {
	stub := &stubClient{err: ai.ErrRateLimited}
	a := New(stub, testConfig())

	_, err := a.Generate(context.Background(), GenerateInput{Prompt: "p"})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !ai.IsRateLimited(err) {
		t.Fatal("rate limit cause must stay observable through the wrap")
	}
}
