// Package objstore is the backend's durable object store: opaque bodies
// under string keys, with a per-key version counter so single shared
// documents (manifest, session index) can be updated with conditional
// writes instead of blind read-modify-write.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound means no object exists under the key.
	ErrNotFound = errors.New("objstore: object not found")
	// ErrVersionMismatch is the conditional-write rejection: the object
	// changed since the caller read it.
	ErrVersionMismatch = errors.New("objstore: version mismatch")
)

type Object struct {
	Key       string `gorm:"primaryKey;size:255"`
	Body      []byte `gorm:"not null"`
	Version   int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (Object) TableName() string { return "objects" }

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Object{}); err != nil {
		return nil, fmt.Errorf("objstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the body and current version of the object under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var obj Object
	err := s.db.WithContext(ctx).First(&obj, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return obj.Body, obj.Version, nil
}

// Put writes unconditionally, creating the object if needed, and returns the
// new version.
func (s *Store) Put(ctx context.Context, key string, body []byte) (int64, error) {
	var newVersion int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var obj Object
		err := tx.First(&obj, "key = ?", key).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		obj.Key = key
		obj.Body = body
		obj.Version++
		newVersion = obj.Version
		return tx.Save(&obj).Error
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// PutIf writes only if the object is still at expectedVersion; pass 0 to
// require that the object does not exist yet. Returns the new version or
// ErrVersionMismatch.
func (s *Store) PutIf(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	if expectedVersion == 0 {
		var created int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing Object
			err := tx.First(&existing, "key = ?", key).Error
			if err == nil {
				return ErrVersionMismatch
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			created = 1
			return tx.Create(&Object{Key: key, Body: body, Version: 1}).Error
		})
		if err != nil {
			return 0, err
		}
		return created, nil
	}

	res := s.db.WithContext(ctx).Model(&Object{}).
		Where("key = ? AND version = ?", key, expectedVersion).
		Updates(map[string]any{
			"body":       body,
			"version":    expectedVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrVersionMismatch
	}
	return expectedVersion + 1, nil
}

// Exists probes for the key without loading the body.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Object{}).
		Where("key = ?", key).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the object. Deleting a missing key is not an error, which
// lets callers clean up both key variants of a partially written archive.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&Object{}, "key = ?", key).Error
}
