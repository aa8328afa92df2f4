// Package cache is the kiosk's local persistent store for versioned entity
// records. Reads are always served locally; writes land locally first and
// are confirmed against the backend through a Remote gateway.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
)

// ErrNotFound is returned when a record is absent from the local cache.
var ErrNotFound = errors.New("cache: record not found")

// Open opens (or creates) the kiosk's local cache database file.
// Use ":memory:" style DSNs in tests.
func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

type row struct {
	EntityType    string `gorm:"primaryKey;size:32"`
	EntityID      string `gorm:"primaryKey;size:128"`
	Body          []byte `gorm:"not null"`
	LocalVersion  int64  `gorm:"not null"`
	RemoteVersion int64  `gorm:"not null"`
	Dirty         bool   `gorm:"not null"`
	UpdatedAt     time.Time
}

func (row) TableName() string { return "cached_records" }

// Record wraps an entity with its version bookkeeping. LocalVersion is a
// wall-clock-millis stamp advanced on every local mutation; RemoteVersion is
// only ever a value the server returned. Dirty means the local copy has
// mutations the server has not confirmed.
type Record[T entity.Entity[T]] struct {
	Entity        T
	LocalVersion  int64
	RemoteVersion int64
	Dirty         bool
}

// Remote is the slice of the backend gateway the cache needs. Create and
// Edit return the server-issued version for the write.
type Remote[T any] interface {
	Create(ctx context.Context, e T) (int64, error)
	Edit(ctx context.Context, id string, e T, expectedVersion int64) (int64, error)
	Fetch(ctx context.Context, id string) (T, int64, error)
	Delete(ctx context.Context, id string) error
}

// Options tune cache write policy.
type Options struct {
	// StrictCreate makes Add surface remote create failures to the caller.
	// The default keeps the local-only dirty copy and reports success, which
	// favors offline creation over immediate server confirmation.
	StrictCreate bool
}

// Cache is the per-entity-type versioned record store.
type Cache[T entity.Entity[T]] struct {
	db     *gorm.DB
	typ    string
	remote Remote[T]
	opts   Options
	now    func() time.Time
}

// New migrates the backing table and returns a cache for one entity type.
func New[T entity.Entity[T]](db *gorm.DB, entityType string, remote Remote[T], opts Options) (*Cache[T], error) {
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("cache: migrate: %w", err)
	}
	return &Cache[T]{db: db, typ: entityType, remote: remote, opts: opts, now: time.Now}, nil
}

func (c *Cache[T]) decode(r row) (Record[T], error) {
	var e T
	if err := json.Unmarshal(r.Body, &e); err != nil {
		return Record[T]{}, fmt.Errorf("cache: decode %s/%s: %w", r.EntityType, r.EntityID, err)
	}
	return Record[T]{
		Entity:        e,
		LocalVersion:  r.LocalVersion,
		RemoteVersion: r.RemoteVersion,
		Dirty:         r.Dirty,
	}, nil
}

func (c *Cache[T]) load(ctx context.Context, id string) (row, error) {
	var r row
	err := c.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", c.typ, id).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row{}, ErrNotFound
	}
	return r, err
}

// Get returns the cached record for id, or ErrNotFound.
func (c *Cache[T]) Get(ctx context.Context, id string) (Record[T], error) {
	r, err := c.load(ctx, id)
	if err != nil {
		return Record[T]{}, err
	}
	return c.decode(r)
}

// Put stores a record, replacing any existing one with the same id.
func (c *Cache[T]) Put(ctx context.Context, rec Record[T]) error {
	body, err := json.Marshal(rec.Entity)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", rec.Entity.EntityID(), err)
	}
	r := row{
		EntityType:    c.typ,
		EntityID:      rec.Entity.EntityID(),
		Body:          body,
		LocalVersion:  rec.LocalVersion,
		RemoteVersion: rec.RemoteVersion,
		Dirty:         rec.Dirty,
		UpdatedAt:     c.now(),
	}
	return c.db.WithContext(ctx).Save(&r).Error
}

// Remove drops the local copy only. No remote call is made.
func (c *Cache[T]) Remove(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", c.typ, id).
		Delete(&row{}).Error
}

// ListAll returns every cached record of this entity type.
func (c *Cache[T]) ListAll(ctx context.Context) ([]Record[T], error) {
	var rows []row
	if err := c.db.WithContext(ctx).
		Where("entity_type = ?", c.typ).
		Order("entity_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record[T], 0, len(rows))
	for _, r := range rows {
		rec, err := c.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// stamp returns the next local version for a record: wall-clock millis,
// forced past the previous stamp so the sequence stays strictly increasing
// even within one millisecond.
func (c *Cache[T]) stamp(prev int64) int64 {
	v := c.now().UnixMilli()
	if v <= prev {
		v = prev + 1
	}
	return v
}

// UpdateLocal applies mutate to the cached entity, advances LocalVersion and
// marks the record dirty. Pure local effect; ErrNotFound if id is absent.
func (c *Cache[T]) UpdateLocal(ctx context.Context, id string, mutate func(T) T) (Record[T], error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return Record[T]{}, err
	}
	rec.Entity = mutate(rec.Entity)
	rec.LocalVersion = c.stamp(rec.LocalVersion)
	rec.Dirty = true
	if err := c.Put(ctx, rec); err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

// Save flushes a dirty record to the backend. On a clean record it performs
// no remote call and returns the record unchanged. On remote failure the
// dirty record is left untouched and the error is propagated.
func (c *Cache[T]) Save(ctx context.Context, id string) (Record[T], error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return Record[T]{}, err
	}
	if !rec.Dirty {
		return rec, nil
	}
	version, err := c.remote.Edit(ctx, id, rec.Entity, rec.RemoteVersion)
	if err != nil {
		return Record[T]{}, err
	}
	rec.RemoteVersion = version
	rec.Dirty = false
	if err := c.Put(ctx, rec); err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

// Add derives the entity id from its name, writes a dirty local record
// immediately, then attempts the remote create. Under the default policy a
// remote failure is logged and the local-only copy kept; with StrictCreate
// the failure is returned (the local copy is still kept for retry).
func (c *Cache[T]) Add(ctx context.Context, draft T) (Record[T], error) {
	id, err := entity.DeriveID(draft.EntityName())
	if err != nil {
		return Record[T]{}, err
	}
	rec := Record[T]{
		Entity:       draft.WithIdentity(id),
		LocalVersion: c.stamp(0),
		Dirty:        true,
	}
	if err := c.Put(ctx, rec); err != nil {
		return Record[T]{}, err
	}
	version, err := c.remote.Create(ctx, rec.Entity)
	if err != nil {
		if c.opts.StrictCreate {
			return rec, err
		}
		log.Printf("cache: create %s/%s not confirmed remotely, keeping local copy: %v", c.typ, id, err)
		return rec, nil
	}
	rec.RemoteVersion = version
	rec.Dirty = false
	if err := c.Put(ctx, rec); err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

// Delete removes an entity remote-first: only after the backend confirms the
// delete is the local copy dropped, so a failed remote delete leaves the
// record intact and retrievable.
func (c *Cache[T]) Delete(ctx context.Context, id string) error {
	if err := c.remote.Delete(ctx, id); err != nil {
		return err
	}
	return c.Remove(ctx, id)
}
