package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/bucket"
	"github.com/local/imagetext/internal/config"
	"github.com/local/imagetext/internal/filetype"
	"github.com/local/imagetext/internal/imagerender"
	"github.com/local/imagetext/internal/logger"
	"github.com/local/imagetext/internal/task"
)

// describe is a one-shot CLI: point it at a local image, a PDF page or a
// public URL and it prints what the model sees.
func main() {
	var (
		file    = flag.String("file", "", "path to a local image or PDF")
		url     = flag.String("url", "", "public image URL")
		prompt  = flag.String("prompt", "", "prompt override")
		model   = flag.String("model", "", "model/deployment override")
		engine  = flag.String("engine", "", "provider engine: dial, openai or anthropic")
		page    = flag.Int("page", 1, "PDF page to describe")
		attach  = flag.Bool("attach", false, "upload the file to the provider bucket instead of inlining it")
		timeout = flag.Duration("timeout", 2*time.Minute, "request timeout")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.FromEnv()
	_ = logger.Init(logger.Options{Level: "warn", Pretty: true})
	defer logger.Close()

	if (*file == "") == (*url == "") {
		fatal("exactly one of -file or -url is required")
	}

	adapter, err := buildAdapter(*engine, &cfg)
	if err != nil {
		fatal(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	in := task.Input{ImageURL: *url, Prompt: *prompt, Model: *model}
	var payload []byte
	if *file != "" {
		payload, err = os.ReadFile(*file)
		if err != nil {
			fatal(err.Error())
		}
		info := filetype.New().Detect(payload)
		if info.NeedsRender {
			payload, err = imagerender.RenderPageToJPEG(payload, *page, cfg.Task.RenderDPI, cfg.Task.RenderQuality)
			if err != nil {
				fatal(fmt.Sprintf("render pdf page %d: %v", *page, err))
			}
		} else if !info.Supported {
			fatal("unsupported file type: " + info.MIMEType)
		}
		in.ImageData = payload
	}

	var out task.Output
	if *attach {
		if *file == "" {
			fatal("-attach requires -file")
		}
		out, err = describeViaBucket(ctx, adapter, &cfg, *file, payload, *prompt, *model)
	} else {
		out, err = adapter.Run(ctx, in)
	}
	if err != nil {
		fatal(err.Error())
	}

	fmt.Println(out.Text)
	fmt.Fprintf(os.Stderr, "model: %s\n", out.ModelUsed)
}

func buildAdapter(engine string, cfg *config.Config) (*task.Adapter, error) {
	if engine == "" {
		engine = cfg.Providers.PrimaryEngine
	}
	switch engine {
	case "dial":
		return task.New(ai.NewDialClient(cfg.Providers.Dial.BaseURL, cfg.Providers.Dial.APIKey), cfg), nil
	case "openai":
		return task.New(ai.NewOpenAIClient(), cfg), nil
	case "anthropic":
		return task.New(ai.NewAnthropicClient(), cfg), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}

// describeViaBucket uploads the image to the DIAL bucket and describes it by
// attachment reference.
func describeViaBucket(ctx context.Context, adapter *task.Adapter, cfg *config.Config, path string, data []byte, prompt, model string) (task.Output, error) {
	info := filetype.New().Detect(data)
	bc := bucket.New(cfg.Providers.Dial.BaseURL, cfg.Providers.Dial.APIKey)
	att, err := bc.PutFile(ctx, filepath.Base(path), info.MIMEType, bytes.NewReader(data))
	if err != nil {
		return task.Output{}, fmt.Errorf("bucket upload: %w", err)
	}
	return adapter.RunAttachment(ctx, task.AttachmentInput{Attachment: att, Prompt: prompt, Model: model})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "describe: "+msg)
	os.Exit(1)
}
