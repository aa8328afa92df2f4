package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/analysis"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/archive"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/catalog"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/config"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/db"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/httpapi"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/httpapi/handlers"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/objstore"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/rabbitmq"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	objects, err := objstore.New(gdb)
	if err != nil {
		log.Fatalf("object store: %v", err)
	}

	// Redis is a read-through cache only; run degraded without it.
	var docCache catalog.DocCache
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rds.Ping(ctx)
		cancel()
		if err != nil {
			log.Printf("redis unavailable, caching disabled: %v", err)
			rds.Close()
		} else {
			docCache = rds
		}
	}

	catalogs := map[string]*catalog.Store{
		"avatars":  catalog.New(objects, docCache, "avatars"),
		"cohorts":  catalog.New(objects, docCache, "cohorts"),
		"personas": catalog.New(objects, docCache, "personas"),
	}

	archiver := archive.New(objects, docCache, archive.Options{Compress: cfg.ChatCompression})

	jobs, err := analysis.NewRepo(gdb)
	if err != nil {
		log.Fatalf("analysis repo: %v", err)
	}
	reg := analysis.NewRegistry()
	reg.Register("http", func() (analysis.Analyzer, error) {
		return analysis.NewHTTPAnalyzer(cfg.AnalysisBaseURL), nil
	})
	reg.Register("llm", func() (analysis.Analyzer, error) {
		return analysis.NewLLMAnalyzer(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), nil
	})
	analyzer, err := reg.Get(cfg.AnalysisProvider)
	if err != nil {
		log.Fatalf("analysis provider: %v", err)
	}
	analysisSvc := analysis.NewService(jobs, archiver, objects, analyzer)

	// Best-effort: a missing broker disables queueing, not archiving.
	var publisher handlers.JobPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbitmq unavailable, analysis queueing disabled: %v", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	h := handlers.NewHandler(catalogs, archiver, jobs, analysisSvc, publisher)
	r := httpapi.NewRouter(h, cfg.JWTSecret)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
