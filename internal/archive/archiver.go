// Package archive writes finished chat sessions to the durable object store
// and maintains the sorted session index that makes listing cheap: the index
// is one document, rewritten in full on every save/delete with a
// conditional write, and never requires scanning session bodies.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/objstore"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

// ErrNotFound means the session exists under neither key variant.
var ErrNotFound = errors.New("archive: session not found")

const (
	indexKey = "chats/index.json"
	// Each concurrent saver can lose one round per rival commit, so the
	// budget must exceed the expected writer fan-in.
	indexRetries = 10
)

// DocCache is the optional hot-document cache for the session index.
type DocCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	Del(ctx context.Context, keys ...string) error
}

// Options tune archival behavior.
type Options struct {
	// Compress gzips session bodies and stores them under the .gz key
	// variant. Reads always try both variants, so flipping this is safe
	// for existing data.
	Compress bool
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	AvatarID  string
	UserID    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

type sessionIndex struct {
	Sessions []wire.ChatSessionMetadata `json:"sessions"`
}

// Archiver persists archived sessions and their index.
type Archiver struct {
	objects *objstore.Store
	cache   DocCache
	opts    Options
	now     func() time.Time
}

func New(objects *objstore.Store, cache DocCache, opts Options) *Archiver {
	return &Archiver{objects: objects, cache: cache, opts: opts, now: time.Now}
}

func plainKey(sessionID string) string { return "chats/" + sessionID + ".json" }
func gzipKey(sessionID string) string  { return "chats/" + sessionID + ".json.gz" }

// FromSaveRequest builds the immutable archived form of a session from the
// flattened save payload. Start/end times come from the message timestamps.
func FromSaveRequest(req wire.ChatSaveRequest, now time.Time) wire.ChatSession {
	meta := wire.ChatSessionMetadata{
		SessionID:    req.SessionID,
		AvatarID:     req.AvatarID,
		AvatarName:   req.AvatarName,
		UserID:       req.UserID,
		UserName:     req.UserName,
		MessageCount: len(req.Messages),
		IsKioskMode:  req.IsKioskMode,
		Location:     req.Location,
	}
	if len(req.Messages) > 0 {
		meta.StartTime = req.Messages[0].Timestamp
		meta.EndTime = req.Messages[len(req.Messages)-1].Timestamp
	}
	return wire.ChatSession{
		Metadata:  meta,
		Messages:  req.Messages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Save stores the session body (compressed or not) and rewrites the index:
// any previous entry for the same id is replaced, entries stay sorted by
// start time descending.
func (a *Archiver) Save(ctx context.Context, session wire.ChatSession) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("archive: encode session %s: %w", session.Metadata.SessionID, err)
	}

	key := plainKey(session.Metadata.SessionID)
	stale := gzipKey(session.Metadata.SessionID)
	if a.opts.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("archive: compress session %s: %w", session.Metadata.SessionID, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("archive: compress session %s: %w", session.Metadata.SessionID, err)
		}
		body = buf.Bytes()
		key, stale = gzipKey(session.Metadata.SessionID), key
	}

	if _, err := a.objects.Put(ctx, key, body); err != nil {
		return fmt.Errorf("archive: store session %s: %w", session.Metadata.SessionID, err)
	}
	// Reads prefer the .gz variant, so a re-save after a compression flip
	// must not leave the other variant's stale body behind.
	if err := a.objects.Delete(ctx, stale); err != nil {
		return fmt.Errorf("archive: drop stale variant of %s: %w", session.Metadata.SessionID, err)
	}

	return a.mutateIndex(ctx, func(idx *sessionIndex) {
		filtered := idx.Sessions[:0]
		for _, m := range idx.Sessions {
			if m.SessionID != session.Metadata.SessionID {
				filtered = append(filtered, m)
			}
		}
		idx.Sessions = append(filtered, session.Metadata)
	})
}

func (a *Archiver) loadIndex(ctx context.Context) (*sessionIndex, int64, error) {
	body, objVersion, err := a.objects.Get(ctx, indexKey)
	if errors.Is(err, objstore.ErrNotFound) {
		return &sessionIndex{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var idx sessionIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, 0, fmt.Errorf("archive: decode index: %w", err)
	}
	return &idx, objVersion, nil
}

// mutateIndex is the conditional read-modify-write on the shared index
// document: concurrent archivers retry instead of silently dropping each
// other's entries.
func (a *Archiver) mutateIndex(ctx context.Context, fn func(*sessionIndex)) error {
	for attempt := 0; attempt < indexRetries; attempt++ {
		idx, objVersion, err := a.loadIndex(ctx)
		if err != nil {
			return err
		}
		fn(idx)
		sort.SliceStable(idx.Sessions, func(i, j int) bool {
			return idx.Sessions[i].StartTime.After(idx.Sessions[j].StartTime)
		})
		body, err := json.Marshal(idx)
		if err != nil {
			return fmt.Errorf("archive: encode index: %w", err)
		}
		_, err = a.objects.PutIf(ctx, indexKey, body, objVersion)
		if errors.Is(err, objstore.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return err
		}
		if a.cache != nil {
			if err := a.cache.Del(ctx, "doc:"+indexKey); err != nil {
				log.Printf("archive: index cache invalidate: %v", err)
			}
		}
		return nil
	}
	return errors.New("archive: index update kept losing races")
}

func (a *Archiver) index(ctx context.Context) (*sessionIndex, error) {
	if a.cache != nil {
		var idx sessionIndex
		hit, err := a.cache.GetJSON(ctx, "doc:"+indexKey, &idx)
		if err != nil {
			log.Printf("archive: index cache read: %v", err)
		} else if hit {
			return &idx, nil
		}
	}
	idx, _, err := a.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		if err := a.cache.SetJSON(ctx, "doc:"+indexKey, idx); err != nil {
			log.Printf("archive: index cache fill: %v", err)
		}
	}
	return idx, nil
}

// Get loads an archived session, trying the compressed key first and then
// the plain one for data written before compression was enabled.
func (a *Archiver) Get(ctx context.Context, sessionID string) (wire.ChatSession, error) {
	body, _, err := a.objects.Get(ctx, gzipKey(sessionID))
	switch {
	case err == nil:
		zr, zerr := gzip.NewReader(bytes.NewReader(body))
		if zerr != nil {
			return wire.ChatSession{}, fmt.Errorf("archive: decompress %s: %w", sessionID, zerr)
		}
		defer zr.Close()
		body, err = io.ReadAll(zr)
		if err != nil {
			return wire.ChatSession{}, fmt.Errorf("archive: decompress %s: %w", sessionID, err)
		}
	case errors.Is(err, objstore.ErrNotFound):
		body, _, err = a.objects.Get(ctx, plainKey(sessionID))
		if errors.Is(err, objstore.ErrNotFound) {
			return wire.ChatSession{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		if err != nil {
			return wire.ChatSession{}, err
		}
	default:
		return wire.ChatSession{}, err
	}

	var session wire.ChatSession
	if err := json.Unmarshal(body, &session); err != nil {
		return wire.ChatSession{}, fmt.Errorf("archive: decode session %s: %w", sessionID, err)
	}
	return session, nil
}

// Exists probes both key variants without downloading a body.
func (a *Archiver) Exists(ctx context.Context, sessionID string) (bool, error) {
	for _, key := range []string{gzipKey(sessionID), plainKey(sessionID)} {
		ok, err := a.objects.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a session. It fails with ErrNotFound if the session exists
// under neither variant; otherwise both possible keys are deleted (covering
// partial writes) and the index entry is removed.
func (a *Archiver) Delete(ctx context.Context, sessionID string) error {
	ok, err := a.Exists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err := a.objects.Delete(ctx, gzipKey(sessionID)); err != nil {
		return err
	}
	if err := a.objects.Delete(ctx, plainKey(sessionID)); err != nil {
		return err
	}
	return a.mutateIndex(ctx, func(idx *sessionIndex) {
		filtered := idx.Sessions[:0]
		for _, m := range idx.Sessions {
			if m.SessionID != sessionID {
				filtered = append(filtered, m)
			}
		}
		idx.Sessions = filtered
	})
}

// List filters the in-memory index; session bodies are never read, which is
// why listing stays cheap regardless of archive size.
func (a *Archiver) List(ctx context.Context, f Filter) ([]wire.ChatSessionMetadata, error) {
	idx, err := a.index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]wire.ChatSessionMetadata, 0, len(idx.Sessions))
	for _, m := range idx.Sessions {
		if f.AvatarID != "" && m.AvatarID != f.AvatarID {
			continue
		}
		if f.UserID != "" && m.UserID != f.UserID {
			continue
		}
		if !f.StartDate.IsZero() && m.StartTime.Before(f.StartDate) {
			continue
		}
		if !f.EndDate.IsZero() && m.StartTime.After(f.EndDate) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
