package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"strategylab/internal/app"
	"strategylab/internal/config"
	"strategylab/internal/identity"
	"strategylab/internal/ratelimit"
	"strategylab/internal/server"
	"strategylab/internal/usertoken"
	"strategylab/internal/util"
	"strategylab/pkg/ai"
	"strategylab/pkg/storage"
	"strategylab/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	dataStore, err := newStore(cfg)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}

	llm, err := newLLMClient(cfg.LLM)
	if err != nil {
		util.Fatal("failed to init llm client", "err", err)
	}

	archive, err := newArchive(cfg.Archive)
	if err != nil {
		util.Fatal("failed to init document archive", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		LLM:               llm,
		Archive:           archive,
		MaxDocumentTokens: cfg.LLM.MaxDocumentTokens,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	identityClient := identity.NewClient(cfg.Identity.BaseURL)

	var tokenVerifier *usertoken.Verifier
	if cfg.Identity.JWKSURL != "" {
		leeway, err := config.ParseJWTLeeway(cfg.Identity.JWTLeeway)
		if err != nil {
			util.Fatal("failed to parse jwt leeway", "err", err)
		}
		tokenVerifier, err = usertoken.NewVerifier(usertoken.Config{
			JWKSURL:  cfg.Identity.JWKSURL,
			Issuer:   cfg.Identity.Issuer,
			Audience: cfg.Identity.Audience,
			Leeway:   leeway,
		})
		if err != nil {
			util.Fatal("failed to init jwks verifier", "err", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	chatLimiter, auditLimiter, generateLimiter, err := newLimiters(cfg)
	if err != nil {
		util.Fatal("failed to init rate limiters", "err", err)
	}

	httpServer := server.New(server.Config{
		App:             appCore,
		Identity:        identityClient,
		TokenVerifier:   tokenVerifier,
		TrustedProxies:  trustedProxies,
		ChatLimiter:     chatLimiter,
		AuditLimiter:    auditLimiter,
		GenerateLimiter: generateLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second, // LLM calls are slow
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("strategy lab server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no database URL configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func newLLMClient(cfg config.LLMConfig) (ai.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai-compat":
		return ai.NewOpenAICompatClient(cfg.BaseURL, cfg.APIKey, cfg.ChatModel, cfg.DocumentModel)
	case "gemini":
		return ai.NewGeminiClient(cfg.APIKey, cfg.ChatModel, cfg.DocumentModel)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

func newArchive(cfg config.ArchiveConfig) (storage.ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	return storage.NewMinioStore(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.UseSSL)
}

func newLimiters(cfg config.FileConfig) (chat, audit, generate *ratelimit.FixedWindowLimiter, err error) {
	if cfg.Redis.Addr == "" {
		slog.Warn("no redis addr configured, rate limiting disabled")
		return nil, nil, nil, nil
	}
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		prefix := "strategylab:ratelimit:" + name
		return ratelimit.NewRedisFixedWindowLimiter(cfg.Redis.Addr, cfg.Redis.Password, prefix, limit, time.Minute)
	}
	if chat, err = newLimiter("chat", cfg.Limits.ChatPerMinute, 20); err != nil {
		return nil, nil, nil, err
	}
	if audit, err = newLimiter("audit", cfg.Limits.AuditPerMinute, 6); err != nil {
		return nil, nil, nil, err
	}
	if generate, err = newLimiter("generate", cfg.Limits.GeneratePerMinute, 2); err != nil {
		return nil, nil, nil, err
	}
	return chat, audit, generate, nil
}
