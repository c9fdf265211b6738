// Command tutorforge runs the personalized learning server: assessment
// interviews, course generation, and the HTTP API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tutorforge/tutorforge/assess"
	"github.com/tutorforge/tutorforge/config"
	"github.com/tutorforge/tutorforge/content"
	"github.com/tutorforge/tutorforge/course"
	"github.com/tutorforge/tutorforge/llm"
	"github.com/tutorforge/tutorforge/logx"
	"github.com/tutorforge/tutorforge/srv/api"
	"github.com/tutorforge/tutorforge/srv/tlsutil"
	"github.com/tutorforge/tutorforge/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("loading configuration")
	}
	logx.Init(logx.Opts{Environment: cfg.Env()})

	if err := run(cfg); err != nil {
		logx.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer db.Close()

	courses, err := course.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening course store: %w", err)
	}

	provider, err := llm.NewProvider(llmConfig(cfg))
	if err != nil {
		return fmt.Errorf("initializing model provider: %w", err)
	}
	provider = llm.WithDefaults(provider, cfg.MaxTokens, cfg.Temperature)

	assessments := assess.NewService(provider, db, courses)
	assessments.StartJanitor(ctx)
	defer assessments.Close()

	jobs := content.NewManager(provider, db, courses)
	defer jobs.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(cfg, assessments, jobs, courses),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         tlsutil.Config(),
	}

	if cfg.TLSEnabled {
		if err := tlsutil.EnsureCertificate(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			return fmt.Errorf("preparing TLS certificate: %w", err)
		}
	}

	errc := make(chan error, 1)
	go func() {
		logx.Info().
			Str("addr", cfg.Addr).
			Bool("tls", cfg.TLSEnabled).
			Str("store", cfg.StoreDriver).
			Str("provider", cfg.LLMProvider).
			Msg("server listening")
		if cfg.TLSEnabled {
			errc <- server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			errc <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == "sqlite" {
		return store.OpenSQLite(cfg.SQLitePath)
	}
	return store.NewMemory(), nil
}

// llmConfig maps the flat environment configuration onto the provider
// config, keeping the retry policy defaults.
func llmConfig(cfg config.Config) llm.Config {
	out := llm.DefaultConfig()
	out.Provider = cfg.LLMProvider
	out.Anthropic.APIKey = cfg.AnthropicAPIKey
	out.Anthropic.Model = cfg.AnthropicModel
	out.OpenAI.APIKey = cfg.OpenAIAPIKey
	out.OpenAI.Model = cfg.OpenAIModel
	out.OpenAI.BaseURL = cfg.OpenAIBaseURL
	return out
}
