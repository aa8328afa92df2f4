// Package catalog is the backend's authoritative entity store for one
// entity type: entity bodies live as objects under {prefix}/{id}/{id}.json
// and the version manifest is a single document at {prefix}/manifest.json.
// Every write goes through a conditional manifest update, which is where
// expected-version (optimistic concurrency) enforcement happens.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/objstore"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

var (
	// ErrNotFound means the id has no manifest entry.
	ErrNotFound = errors.New("catalog: entity not found")
	// ErrConflict is the expected-version rejection.
	ErrConflict = errors.New("catalog: version conflict")
	// ErrExists rejects a create for an id already in the manifest.
	ErrExists = errors.New("catalog: entity already exists")
)

// manifestRetries bounds the conditional-write retry loop. Each concurrent
// writer can lose one round per rival commit, so the budget must exceed the
// expected writer fan-in; exhausting it indicates a problem.
const manifestRetries = 10

// DocCache is the optional hot-document cache (Redis in production).
type DocCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	Del(ctx context.Context, keys ...string) error
}

// probe is the minimal shape the catalog needs out of an entity body.
type probe struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Published bool   `json:"published"`
}

// Store manages one entity type's objects and manifest.
type Store struct {
	objects *objstore.Store
	cache   DocCache
	prefix  string
}

// New returns a catalog store for the given key prefix ("avatars",
// "cohorts", "personas"). cache may be nil.
func New(objects *objstore.Store, cache DocCache, prefix string) *Store {
	return &Store{objects: objects, cache: cache, prefix: prefix}
}

func (s *Store) entityKey(id string) string { return s.prefix + "/" + id + "/" + id + ".json" }
func (s *Store) manifestKey() string        { return s.prefix + "/manifest.json" }
func (s *Store) cacheKey() string           { return "manifest:" + s.prefix }

// loadManifest reads the manifest from the object store, creating an empty
// one lazily if the document is absent. The object-store version is returned
// for conditional rewrites.
func (s *Store) loadManifest(ctx context.Context) (*wire.Manifest, int64, error) {
	body, objVersion, err := s.objects.Get(ctx, s.manifestKey())
	if errors.Is(err, objstore.ErrNotFound) {
		return wire.NewManifest(), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var m wire.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, 0, fmt.Errorf("catalog: decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = map[string]wire.ManifestEntry{}
	}
	return &m, objVersion, nil
}

// Manifest returns the current manifest, served from the document cache
// when possible.
func (s *Store) Manifest(ctx context.Context) (*wire.Manifest, error) {
	if s.cache != nil {
		var m wire.Manifest
		hit, err := s.cache.GetJSON(ctx, s.cacheKey(), &m)
		if err != nil {
			log.Printf("catalog: manifest cache read %s: %v", s.prefix, err)
		} else if hit {
			if m.Entries == nil {
				m.Entries = map[string]wire.ManifestEntry{}
			}
			return &m, nil
		}
	}
	m, _, err := s.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, s.cacheKey(), m); err != nil {
			log.Printf("catalog: manifest cache fill %s: %v", s.prefix, err)
		}
	}
	return m, nil
}

// mutateManifest applies fn to a fresh manifest copy and writes it back
// conditionally, retrying on concurrent writers. fn may return a typed
// error (conflict, not found) to abort.
func (s *Store) mutateManifest(ctx context.Context, fn func(*wire.Manifest) error) error {
	for attempt := 0; attempt < manifestRetries; attempt++ {
		m, objVersion, err := s.loadManifest(ctx)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.OverallVersion++
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("catalog: encode manifest: %w", err)
		}
		_, err = s.objects.PutIf(ctx, s.manifestKey(), body, objVersion)
		if errors.Is(err, objstore.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return err
		}
		if s.cache != nil {
			if err := s.cache.Del(ctx, s.cacheKey()); err != nil {
				log.Printf("catalog: manifest cache invalidate %s: %v", s.prefix, err)
			}
		}
		return nil
	}
	return fmt.Errorf("catalog: manifest update for %s kept losing races", s.prefix)
}

// Create registers a new entity: version 1 in the manifest, body stored
// under the entity key. The id must be present in the body, must not be
// reserved, and must not already exist.
func (s *Store) Create(ctx context.Context, raw json.RawMessage) (int64, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("catalog: decode entity: %w", err)
	}
	if p.ID == "" {
		return 0, errors.New("catalog: entity id is empty")
	}
	if entity.IsReserved(p.ID) {
		return 0, entity.ErrReservedID
	}

	err := s.mutateManifest(ctx, func(m *wire.Manifest) error {
		if _, ok := m.Entries[p.ID]; ok {
			return fmt.Errorf("%w: %s", ErrExists, p.ID)
		}
		m.Entries[p.ID] = wire.ManifestEntry{Version: 1, Published: p.Published}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.objects.Put(ctx, s.entityKey(p.ID), raw); err != nil {
		return 0, fmt.Errorf("catalog: write body for %s after manifest update: %w", p.ID, err)
	}
	return 1, nil
}

// Edit replaces an entity body if expectedVersion matches the manifest
// entry, returning the new server version. A mismatch is ErrConflict.
func (s *Store) Edit(ctx context.Context, id string, raw json.RawMessage, expectedVersion int64) (int64, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("catalog: decode entity: %w", err)
	}

	var newVersion int64
	err := s.mutateManifest(ctx, func(m *wire.Manifest) error {
		entry, ok := m.Entries[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if entry.Version != expectedVersion {
			return fmt.Errorf("%w: %s is at v%d, expected v%d", ErrConflict, id, entry.Version, expectedVersion)
		}
		newVersion = entry.Version + 1
		m.Entries[id] = wire.ManifestEntry{Version: newVersion, Published: p.Published}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.objects.Put(ctx, s.entityKey(id), raw); err != nil {
		return 0, fmt.Errorf("catalog: write body for %s after manifest update: %w", id, err)
	}
	return newVersion, nil
}

// Fetch returns the stored entity body and its manifest version.
func (s *Store) Fetch(ctx context.Context, id string) (json.RawMessage, int64, error) {
	m, err := s.Manifest(ctx)
	if err != nil {
		return nil, 0, err
	}
	entry, ok := m.Entries[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	body, _, err := s.objects.Get(ctx, s.entityKey(id))
	if errors.Is(err, objstore.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, err
	}
	return body, entry.Version, nil
}

// Delete removes the entity body and its manifest entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.mutateManifest(ctx, func(m *wire.Manifest) error {
		if _, ok := m.Entries[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		delete(m.Entries, id)
		return nil
	})
	if err != nil {
		return err
	}
	return s.objects.Delete(ctx, s.entityKey(id))
}

// Reconcile compares the submitted last-seen versions against the manifest
// and reports which ids the client must pull, plus the full entry map so
// the client can also detect remote deletions.
func (s *Store) Reconcile(ctx context.Context, localVersions map[string]int64) (wire.SyncResponse, error) {
	m, err := s.Manifest(ctx)
	if err != nil {
		return wire.SyncResponse{}, err
	}
	resp := wire.SyncResponse{ServerVersions: m.Entries}
	for id, entry := range m.Entries {
		if entry.Version > localVersions[id] {
			resp.NeedsUpdate = append(resp.NeedsUpdate, id)
		}
	}
	return resp, nil
}
