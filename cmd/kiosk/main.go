package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/cache"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/chat"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/config"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/gateway"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/syncengine"
)

// syncer lets the loop below treat the per-type engines uniformly.
type syncer interface {
	Sync(ctx context.Context) (syncengine.Result, error)
}

func buildEngine[T entity.Entity[T]](gdb *cache.Cache[T], remote syncengine.Remote[T]) syncer {
	return syncengine.New(gdb, remote)
}

func main() {
	cfg := config.Load()

	gdb, err := cache.Open(cfg.CacheDBPath)
	if err != nil {
		log.Fatalf("open cache db: %v", err)
	}

	client := gateway.NewClient(cfg.APIBaseURL, cfg.APIToken)

	avatarsRemote := gateway.NewEntityClient[entity.Avatar](client, "avatars")
	cohortsRemote := gateway.NewEntityClient[entity.Cohort](client, "cohorts")
	personasRemote := gateway.NewEntityClient[entity.Persona](client, "personas")

	avatars, err := cache.New(gdb, "avatars", avatarsRemote, cache.Options{})
	if err != nil {
		log.Fatalf("avatar cache: %v", err)
	}
	cohorts, err := cache.New(gdb, "cohorts", cohortsRemote, cache.Options{})
	if err != nil {
		log.Fatalf("cohort cache: %v", err)
	}
	personas, err := cache.New(gdb, "personas", personasRemote, cache.Options{})
	if err != nil {
		log.Fatalf("persona cache: %v", err)
	}

	engines := map[string]syncer{
		"avatars":  buildEngine(avatars, avatarsRemote),
		"cohorts":  buildEngine(cohorts, cohortsRemote),
		"personas": buildEngine(personas, personasRemote),
	}

	manager, err := chat.NewManager(gdb, gateway.NewChatClient(client))
	if err != nil {
		log.Fatalf("chat manager: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Recover a session interrupted by a crash or power loss before serving.
	if metas, err := manager.ListCachedMeta(ctx); err == nil {
		for _, m := range metas {
			if !m.IsStored {
				log.Printf("previous session %s was never archived", m.SessionID)
			}
		}
	}

	syncAll := func(ctx context.Context) {
		for name, eng := range engines {
			res, err := eng.Sync(ctx)
			if err != nil {
				log.Printf("sync %s: %v", name, err)
				continue
			}
			if res.Offline {
				log.Printf("sync %s: offline, serving cached data", name)
				continue
			}
			if len(res.NeedsUpdate) > 0 || len(res.Conflicts) > 0 {
				log.Printf("sync %s: updated=%d conflicts=%v", name, len(res.NeedsUpdate), res.Conflicts)
			}
		}
	}

	syncAll(ctx)
	log.Printf("kiosk running, location=%q sync every %s", cfg.KioskLocation, cfg.SyncInterval)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			syncAll(ctx)

		case <-ctx.Done():
			log.Printf("kiosk shutting down")
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
			if err := manager.Flush(flushCtx); err != nil {
				log.Printf("flush active session: %v", err)
			}
			cancel()
			return
		}
	}
}
