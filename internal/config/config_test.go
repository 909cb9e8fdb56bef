package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
port: "8080"
logLevel: debug
databaseURL: postgres://localhost/lab
identity:
  baseURL: https://id.example.com
  jwksURL: https://id.example.com/jwks
llm:
  provider: openai-compat
  baseURL: https://llm.example.com/v1
  chatModel: chat-1
  documentModel: doc-1
rateLimits:
  chatPerMinute: 20
archive:
  endpoint: minio.example.com:9000
  bucket: strategy-lab
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Identity.BaseURL != "https://id.example.com" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LLM.DocumentModel != "doc-1" || cfg.Limits.ChatPerMinute != 20 {
		t.Fatalf("nested fields not parsed: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("PORT", "9999")
	t.Setenv("LLM_CHAT_MODEL", "chat-2")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Fatalf("PORT override ignored, got %q", cfg.Port)
	}
	if cfg.LLM.ChatModel != "chat-2" {
		t.Fatalf("LLM_CHAT_MODEL override ignored, got %q", cfg.LLM.ChatModel)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing port",
			yaml:    strings.Replace(validConfig, `port: "8080"`, "", 1),
			wantErr: "port is required",
		},
		{
			name:    "missing identity",
			yaml:    strings.Replace(validConfig, "baseURL: https://id.example.com", "", 1),
			wantErr: "identity.baseURL is required",
		},
		{
			name:    "unknown provider",
			yaml:    strings.Replace(validConfig, "provider: openai-compat", "provider: mystery", 1),
			wantErr: "unknown llm.provider",
		},
		{
			name:    "gemini without key",
			yaml:    strings.Replace(validConfig, "provider: openai-compat", "provider: gemini", 1),
			wantErr: "llm.apiKey is required",
		},
		{
			name:    "missing chat model",
			yaml:    strings.Replace(validConfig, "chatModel: chat-1", "", 1),
			wantErr: "llm.chatModel is required",
		},
		{
			name:    "archive endpoint without bucket",
			yaml:    strings.Replace(validConfig, "bucket: strategy-lab", "", 1),
			wantErr: "archive.bucket is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseJWTLeeway(t *testing.T) {
	d, err := ParseJWTLeeway("")
	if err != nil || d != 30*time.Second {
		t.Fatalf("default leeway: %v %v", d, err)
	}
	d, err = ParseJWTLeeway("1m")
	if err != nil || d != time.Minute {
		t.Fatalf("explicit leeway: %v %v", d, err)
	}
	if _, err := ParseJWTLeeway("-5s"); err == nil {
		t.Fatalf("negative leeway must be rejected")
	}
	if _, err := ParseJWTLeeway("bogus"); err == nil {
		t.Fatalf("garbage leeway must be rejected")
	}
}
