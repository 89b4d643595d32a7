package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"plancheck/internal/api"
	"plancheck/internal/checklist"
	"plancheck/internal/config"
	"plancheck/internal/extract"
	fileutil "plancheck/internal/file"
	"plancheck/internal/llm"
	"plancheck/internal/rag"
	"plancheck/internal/task"
)

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	checklists := loadChecklists(cfg)
	manager := buildManager(cfg, checklists)

	extractor := extract.NewService()
	documents := api.NewDocumentStore(filepath.Join(cfg.DataDir, "uploads"), extractor)

	router := setupRouter()
	api.NewAPI(manager, checklists, documents).RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func loadChecklists(cfg config.Config) *checklist.Store {
	store := checklist.NewStore()
	n, err := store.LoadAll(cfg.ChecklistsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ChecklistsDir).Msg("failed to load checklists")
	}
	if n == 0 {
		log.Warn().Str("dir", cfg.ChecklistsDir).Msg("no checklists loaded, match requests will be rejected")
	} else {
		log.Info().Int("count", n).Str("dir", cfg.ChecklistsDir).Msg("checklists loaded")
	}
	return store
}

func buildManager(cfg config.Config, checklists *checklist.Store) *task.Manager {
	if cfg.LLM.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set, document checks will fail")
	}

	embedder := rag.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.EmbeddingModel)
	collab := task.Collaborators{
		Extractor: extract.NewService(),
		Indexer:   rag.NewBuilder(embedder, cfg.ChunkSize, cfg.ChunkOverlap),
		Evaluator: llm.NewEvaluator(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model),
	}

	return task.NewManager(checklists, collab, task.Options{
		DataDir:            cfg.DataDir,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		RetrievalK:         cfg.RetrievalK,
	})
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, tm *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !tm.WaitAll(ctx) {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
