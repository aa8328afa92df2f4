// Package syncengine reconciles the kiosk's local entity cache against the
// backend's version manifest.
package syncengine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/cache"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/gateway"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

// Remote is the slice of the backend gateway the engine needs.
type Remote[T any] interface {
	Sync(ctx context.Context, localVersions map[string]int64) (wire.SyncResponse, error)
	Fetch(ctx context.Context, id string) (T, int64, error)
}

// Result reports one reconciliation pass. Conflicts are ids the server says
// are stale locally while the local record also carries unsaved edits; their
// pull is skipped and the caller must resolve them manually. Conflicted ids
// still appear in NeedsUpdate. Offline means the backend was unreachable and
// the local view was returned unchanged.
type Result struct {
	NeedsUpdate    []string
	Conflicts      []string
	ServerVersions map[string]wire.ManifestEntry
	Offline        bool
}

// Engine drives reconciliation for one entity type.
type Engine[T entity.Entity[T]] struct {
	cache  *cache.Cache[T]
	remote Remote[T]
}

func New[T entity.Entity[T]](c *cache.Cache[T], remote Remote[T]) *Engine[T] {
	return &Engine[T]{cache: c, remote: remote}
}

// Sync performs one reconciliation pass:
//
//  1. submit the last-seen server version per cached id,
//  2. drop local copies of entities the server no longer knows (except
//     dirty never-confirmed local creations, which would otherwise be lost),
//  3. pull every stale id and overwrite the local copy clean, unless the
//     local copy is dirty, in which case the id is surfaced as a conflict.
//
// A network failure on the manifest call degrades to the offline view: the
// cache is left untouched and no error is returned.
func (e *Engine[T]) Sync(ctx context.Context) (Result, error) {
	recs, err := e.cache.ListAll(ctx)
	if err != nil {
		return Result{}, err
	}

	local := make(map[string]int64, len(recs))
	byID := make(map[string]cache.Record[T], len(recs))
	for _, r := range recs {
		id := r.Entity.EntityID()
		local[id] = r.RemoteVersion
		byID[id] = r
	}

	resp, err := e.remote.Sync(ctx, local)
	if err != nil {
		if errors.Is(err, gateway.ErrRemoteUnavailable) {
			log.Printf("sync: backend unreachable, serving cached view: %v", err)
			return Result{Offline: true, ServerVersions: map[string]wire.ManifestEntry{}}, nil
		}
		return Result{}, err
	}

	// Entities the server no longer lists were deleted remotely.
	for id, r := range byID {
		if _, ok := resp.ServerVersions[id]; ok {
			continue
		}
		if r.Dirty && r.RemoteVersion == 0 {
			// Local creation the server never confirmed; keep it.
			continue
		}
		if err := e.cache.Remove(ctx, id); err != nil {
			return Result{}, err
		}
	}

	res := Result{
		NeedsUpdate:    append([]string(nil), resp.NeedsUpdate...),
		ServerVersions: resp.ServerVersions,
	}
	sort.Strings(res.NeedsUpdate)

	for _, id := range res.NeedsUpdate {
		if r, ok := byID[id]; ok && r.Dirty {
			res.Conflicts = append(res.Conflicts, id)
			continue
		}
		ent, version, err := e.remote.Fetch(ctx, id)
		if err != nil {
			log.Printf("sync: fetch %s failed, keeping cached copy: %v", id, err)
			continue
		}
		rec := cache.Record[T]{
			Entity:        ent,
			LocalVersion:  time.Now().UnixMilli(),
			RemoteVersion: version,
			Dirty:         false,
		}
		if err := e.cache.Put(ctx, rec); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}
