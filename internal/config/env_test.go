package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	// Empty values read as unset, so this shields the test from the
	// caller's environment.
	for _, k := range []string{"PRIMARY_ENGINE", "TASK_DEFAULT_MODEL", "TASK_DEFAULT_PROMPT", "REQUEST_TIMEOUT", "QUEUE_STREAM"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	if cfg.Providers.PrimaryEngine != "dial" {
		t.Fatalf("default primary engine = %q, want dial", cfg.Providers.PrimaryEngine)
	}
	if cfg.Task.DefaultModel != "gpt-4o" {
		t.Fatalf("default model = %q, want gpt-4o", cfg.Task.DefaultModel)
	}
	if cfg.Task.DefaultPrompt == "" {
		t.Fatal("default prompt must not be empty")
	}
	if cfg.Worker.RequestTimeout != 60*time.Second {
		t.Fatalf("request timeout = %v, want 60s", cfg.Worker.RequestTimeout)
	}
	if cfg.Queue.Stream != "jobs:describe" {
		t.Fatalf("queue stream = %q", cfg.Queue.Stream)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PRIMARY_ENGINE", "openai")
	t.Setenv("TASK_DEFAULT_MODEL", "gpt-4.1")
	t.Setenv("TASK_MAX_TOKENS", "2048")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("LOG_PRETTY", "yes")

	cfg := FromEnv()

	if cfg.Providers.PrimaryEngine != "openai" {
		t.Fatalf("primary engine = %q", cfg.Providers.PrimaryEngine)
	}
	if cfg.Task.DefaultModel != "gpt-4.1" {
		t.Fatalf("default model = %q", cfg.Task.DefaultModel)
	}
	if cfg.Task.MaxTokens != 2048 {
		t.Fatalf("max tokens = %d", cfg.Task.MaxTokens)
	}
	if cfg.Worker.RequestTimeout != 5*time.Second {
		t.Fatalf("request timeout = %v", cfg.Worker.RequestTimeout)
	}
	if !cfg.Logging.Pretty {
		t.Fatal("LOG_PRETTY=yes should parse as true")
	}
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("TASK_MAX_TOKENS", "not-a-number")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := FromEnv()

	if cfg.Task.MaxTokens != 1024 {
		t.Fatalf("max tokens = %d, want default 1024", cfg.Task.MaxTokens)
	}
	if cfg.Worker.RequestTimeout != 60*time.Second {
		t.Fatalf("request timeout = %v, want default 60s", cfg.Worker.RequestTimeout)
	}
}

func TestAPIKeyVar(t *testing.T) {
	if got := APIKeyVar("openai"); got != "OPENAI_API_KEY" {
		t.Fatalf("APIKeyVar(openai) = %q", got)
	}
	if got := APIKeyVar("Anthropic"); got != "ANTHROPIC_API_KEY" {
		t.Fatalf("APIKeyVar(Anthropic) = %q", got)
	}
	if got := APIKeyVar("dial"); got != "DIAL_API_KEY" {
		t.Fatalf("APIKeyVar(dial) = %q", got)
	}
}
