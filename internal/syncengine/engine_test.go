package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/cache"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/gateway"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

type fakeBackend struct {
	manifest  map[string]wire.ManifestEntry
	entities  map[string]entity.Avatar
	syncErr   error
	fetchErr  error
	submitted map[string]int64
}

func (f *fakeBackend) Sync(ctx context.Context, localVersions map[string]int64) (wire.SyncResponse, error) {
	if f.syncErr != nil {
		return wire.SyncResponse{}, f.syncErr
	}
	f.submitted = localVersions
	resp := wire.SyncResponse{ServerVersions: f.manifest}
	for id, entry := range f.manifest {
		if entry.Version > localVersions[id] {
			resp.NeedsUpdate = append(resp.NeedsUpdate, id)
		}
	}
	return resp, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, id string) (entity.Avatar, int64, error) {
	if f.fetchErr != nil {
		return entity.Avatar{}, 0, f.fetchErr
	}
	e, ok := f.entities[id]
	if !ok {
		return entity.Avatar{}, 0, gateway.ErrNotFound
	}
	return e, f.manifest[id].Version, nil
}

func newTestCache(t *testing.T) *cache.Cache[entity.Avatar] {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := cache.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	c, err := cache.New[entity.Avatar](db, "avatars", nil, cache.Options{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func seed(t *testing.T, c *cache.Cache[entity.Avatar], id string, remoteVersion int64, dirty bool) {
	t.Helper()
	rec := cache.Record[entity.Avatar]{
		Entity:        entity.Avatar{ID: id, Name: id},
		LocalVersion:  remoteVersion,
		RemoteVersion: remoteVersion,
		Dirty:         dirty,
	}
	if err := c.Put(context.Background(), rec); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSyncPullsStaleAndDropsRemotelyDeleted(t *testing.T) {
	c := newTestCache(t)
	seed(t, c, "a", 5, false)
	seed(t, c, "b", 1, false)
	seed(t, c, "c", 2, false)

	backend := &fakeBackend{
		manifest: map[string]wire.ManifestEntry{
			"a": {Version: 5, Published: true},
			"b": {Version: 3, Published: true},
		},
		entities: map[string]entity.Avatar{
			"b": {ID: "b", Name: "b", Description: "server copy"},
		},
	}

	res, err := New(c, backend).Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if fmt.Sprint(res.NeedsUpdate) != "[b]" {
		t.Fatalf("needsUpdate = %v, want [b]", res.NeedsUpdate)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none", res.Conflicts)
	}

	// b was pulled and overwritten clean.
	rec, err := c.Get(context.Background(), "b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if rec.Dirty || rec.RemoteVersion != 3 || rec.Entity.Description != "server copy" {
		t.Fatalf("b not reconciled: %+v", rec)
	}

	// c is absent from the server manifest: treated as remotely deleted.
	if _, err := c.Get(context.Background(), "c"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("c should be removed, got %v", err)
	}

	// a was current and untouched.
	if rec, err := c.Get(context.Background(), "a"); err != nil || rec.RemoteVersion != 5 {
		t.Fatalf("a changed unexpectedly: %+v %v", rec, err)
	}
}

func TestSyncSkipsDirtyPullAndReportsConflict(t *testing.T) {
	c := newTestCache(t)
	seed(t, c, "b", 1, true)

	backend := &fakeBackend{
		manifest: map[string]wire.ManifestEntry{"b": {Version: 3}},
		entities: map[string]entity.Avatar{"b": {ID: "b", Description: "server copy"}},
	}

	res, err := New(c, backend).Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if fmt.Sprint(res.Conflicts) != "[b]" {
		t.Fatalf("conflicts = %v, want [b]", res.Conflicts)
	}
	if fmt.Sprint(res.NeedsUpdate) != "[b]" {
		t.Fatalf("needsUpdate = %v, want [b]", res.NeedsUpdate)
	}

	// The dirty local copy must not be clobbered.
	rec, err := c.Get(context.Background(), "b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if !rec.Dirty || rec.Entity.Description == "server copy" {
		t.Fatalf("dirty record clobbered: %+v", rec)
	}
}

func TestSyncKeepsUnconfirmedLocalCreation(t *testing.T) {
	c := newTestCache(t)
	// Never confirmed remotely: RemoteVersion 0, dirty.
	rec := cache.Record[entity.Avatar]{
		Entity:       entity.Avatar{ID: "draft", Name: "draft"},
		LocalVersion: 10,
		Dirty:        true,
	}
	if err := c.Put(context.Background(), rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	backend := &fakeBackend{manifest: map[string]wire.ManifestEntry{}}
	if _, err := New(c, backend).Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := c.Get(context.Background(), "draft"); err != nil {
		t.Fatalf("unconfirmed local creation was dropped: %v", err)
	}
}

func TestSyncDegradesToOfflineView(t *testing.T) {
	c := newTestCache(t)
	seed(t, c, "a", 5, false)

	backend := &fakeBackend{syncErr: fmt.Errorf("%w: dial tcp", gateway.ErrRemoteUnavailable)}
	res, err := New(c, backend).Sync(context.Background())
	if err != nil {
		t.Fatalf("offline sync must not fail the caller: %v", err)
	}
	if !res.Offline {
		t.Fatalf("expected offline result")
	}
	if _, err := c.Get(context.Background(), "a"); err != nil {
		t.Fatalf("cache must be untouched offline: %v", err)
	}
}

func TestSyncSubmitsLastSeenServerVersions(t *testing.T) {
	c := newTestCache(t)
	seed(t, c, "a", 5, false)
	backend := &fakeBackend{manifest: map[string]wire.ManifestEntry{"a": {Version: 5}}}

	if _, err := New(c, backend).Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if backend.submitted["a"] != 5 {
		t.Fatalf("submitted version = %d, want 5", backend.submitted["a"])
	}
}
