package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cs15tutor/engine/internal/api"
	"github.com/cs15tutor/engine/internal/config"
	"github.com/cs15tutor/engine/internal/health"
	"github.com/cs15tutor/engine/internal/hpoints"
	"github.com/cs15tutor/engine/internal/platform/factory"
	"github.com/cs15tutor/engine/internal/platform/logger"
	"github.com/cs15tutor/engine/internal/quality"
	"github.com/cs15tutor/engine/internal/session"
	"github.com/cs15tutor/engine/internal/tutor"
)

func main() {
	log := logger.New("tutor-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Msg("Tutor service starting…")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// -------- Storage layer -----------------
	st, err := factory.NewStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Storage unavailable")
	}

	// -------- Collaborators -----------------
	gen, err := factory.NewGenerator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("LLM provider unavailable")
	}
	ragSvc, err := factory.NewRetriever(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Retriever unavailable")
	}

	checker := quality.NewChecker(gen, log)
	orch := tutor.NewOrchestrator(gen, ragSvc, checker, st, tutor.Options{
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		RAGThreshold:     cfg.RAGThreshold,
		RAGK:             cfg.RAGK,
		QualityThreshold: cfg.QualityThreshold,
		MaxAttempts:      cfg.MaxAttempts,
		SystemPromptPath: cfg.SystemPromptPath,
		DevelopmentMode:  cfg.DevelopmentMode,
	}, log)

	hpSvc := hpoints.NewService(st, hpoints.Options{
		MaxPoints:       cfg.MaxHealthPoints,
		RegenSeconds:    cfg.HealthRegenSeconds,
		DevelopmentMode: cfg.DevelopmentMode,
		DevUser:         cfg.DevUser,
	}, log)

	sessions := session.NewMap(cfg.MaxContextBytes)

	// -------- Health monitor ---------------
	storeCheck := health.NewPingChecker("store", st, log)
	svcHealth := health.NewServiceHealthChecker(log, storeCheck)
	go storeCheck.Start(ctx, 30*time.Second)
	go svcHealth.Start(ctx, 30*time.Second)

	// -------- Router & Server --------------
	handlers := api.NewHandlers(st, orch, hpSvc, sessions, svcHealth, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
