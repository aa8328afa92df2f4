// Package chat holds the kiosk-side chat session lifecycle: a single active
// in-memory session, write-through crash recovery in the local cache, and
// one-way archival to the backend when the session ends.
package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

var (
	// ErrSessionActive guards the single-active-session invariant: Start
	// refuses to discard a session the caller has not ended.
	ErrSessionActive = errors.New("chat: a session is already active")
	// ErrNoActiveSession is returned by AddMessage while idle.
	ErrNoActiveSession = errors.New("chat: no active session")
	// ErrSessionNotFound means neither the active slot nor the recovery
	// cache knows the session id.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrArchiveFailed means the durable save failed; the session metadata
	// was still cached locally so the messages are not lost, but it is not
	// retried automatically.
	ErrArchiveFailed = errors.New("chat: archive failed")
)

// Archiver is the durable-archive collaborator, satisfied by the backend
// chat gateway.
type Archiver interface {
	Save(ctx context.Context, req wire.ChatSaveRequest) error
}

type recoveryRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Body      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (recoveryRow) TableName() string { return "chat_recovery" }

type metaRow struct {
	SessionID      string `gorm:"primaryKey;size:64"`
	Body           []byte `gorm:"not null"`
	IsStored       bool   `gorm:"not null"`
	LocalTimestamp time.Time
}

func (metaRow) TableName() string { return "chat_session_meta" }

// Manager is the session lifecycle state machine: Idle -> Active -> Idle,
// archiving on the Active -> Idle transition. At most one session is active
// per process.
type Manager struct {
	mu       sync.Mutex
	db       *gorm.DB
	archiver Archiver
	active   *ActiveSession
	now      func() time.Time
}

// NewManager migrates the recovery and metadata tables and returns an idle
// manager.
func NewManager(db *gorm.DB, archiver Archiver) (*Manager, error) {
	if err := db.AutoMigrate(&recoveryRow{}, &metaRow{}); err != nil {
		return nil, fmt.Errorf("chat: migrate: %w", err)
	}
	return &Manager{db: db, archiver: archiver, now: time.Now}, nil
}

// NewSessionID allocates a chronologically sortable session id of the form
// {millis}_{random}. Not globally unique under clock skew; collisions are
// negligible for this workload.
func NewSessionID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// Start opens a new session. If one is already active it returns
// ErrSessionActive; the caller must End the old session first.
func (m *Manager) Start(avatarID, avatarName string, opts StartOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return "", fmt.Errorf("%w: %s", ErrSessionActive, m.active.SessionID)
	}
	m.active = &ActiveSession{
		SessionID:   NewSessionID(),
		AvatarID:    avatarID,
		AvatarName:  avatarName,
		StartTime:   m.now(),
		IsKioskMode: opts.IsKioskMode,
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		Location:    opts.Location,
	}
	return m.active.SessionID, nil
}

// Active returns a snapshot of the current session, or nil while idle.
func (m *Manager) Active() *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	snap.Messages = append([]Message(nil), m.active.Messages...)
	return &snap
}

// AddMessage appends to the active session and immediately persists the full
// message array to the crash-recovery cache. Write-through on every message
// keeps recovery trivial at the cost of rewriting the array each time.
func (m *Manager) AddMessage(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ErrNoActiveSession
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	m.active.Messages = append(m.active.Messages, msg)
	return m.persistRecovery(ctx, m.active)
}

func (m *Manager) persistRecovery(ctx context.Context, s *ActiveSession) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("chat: encode recovery state: %w", err)
	}
	return m.db.WithContext(ctx).Save(&recoveryRow{
		SessionID: s.SessionID,
		Body:      body,
		UpdatedAt: m.now(),
	}).Error
}

func (m *Manager) loadRecovery(ctx context.Context, sessionID string) (*ActiveSession, error) {
	var r recoveryRow
	err := m.db.WithContext(ctx).First(&r, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s ActiveSession
	if err := json.Unmarshal(r.Body, &s); err != nil {
		return nil, fmt.Errorf("chat: decode recovery state: %w", err)
	}
	return &s, nil
}

func (m *Manager) clearRecovery(ctx context.Context, sessionID string) {
	if err := m.db.WithContext(ctx).Delete(&recoveryRow{}, "session_id = ?", sessionID).Error; err != nil {
		log.Printf("chat: clear recovery %s: %v", sessionID, err)
	}
}

func (m *Manager) cacheMeta(ctx context.Context, s *ActiveSession, stored bool) {
	meta := s.Metadata()
	body, err := json.Marshal(meta)
	if err != nil {
		log.Printf("chat: encode meta %s: %v", s.SessionID, err)
		return
	}
	row := metaRow{
		SessionID:      s.SessionID,
		Body:           body,
		IsStored:       stored,
		LocalTimestamp: m.now(),
	}
	if err := m.db.WithContext(ctx).Save(&row).Error; err != nil {
		log.Printf("chat: cache meta %s: %v", s.SessionID, err)
	}
}

// End closes a session and archives it. sessionID may be empty to mean the
// active session. Resolution order: active slot, then the recovery cache,
// then ErrSessionNotFound. Sessions with zero messages are discarded without
// archiving. Whatever the archive outcome, the recovery entry and the active
// slot are cleared; on archive failure the metadata is cached locally
// (IsStored=false) and ErrArchiveFailed is returned; there is no automatic
// retry.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *ActiveSession
	switch {
	case m.active != nil && (sessionID == "" || sessionID == m.active.SessionID):
		target = m.active
	case sessionID != "":
		s, err := m.loadRecovery(ctx, sessionID)
		if err != nil {
			return err
		}
		target = s
	default:
		return ErrSessionNotFound
	}

	defer func() {
		m.clearRecovery(ctx, target.SessionID)
		if m.active != nil && m.active.SessionID == target.SessionID {
			m.active = nil
		}
	}()

	if len(target.Messages) == 0 {
		return nil
	}

	req := wire.ChatSaveRequest{
		SessionID:   target.SessionID,
		AvatarID:    target.AvatarID,
		AvatarName:  target.AvatarName,
		Messages:    target.Messages,
		IsKioskMode: target.IsKioskMode,
		UserID:      target.UserID,
		UserName:    target.UserName,
		Location:    target.Location,
	}
	if err := m.archiver.Save(ctx, req); err != nil {
		m.cacheMeta(ctx, target, false)
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	m.cacheMeta(ctx, target, true)
	return nil
}

// Recover rebuilds the active session from the crash-recovery cache after an
// unexpected termination. It refuses to overwrite a live session.
func (m *Manager) Recover(ctx context.Context, sessionID string) (*ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, m.active.SessionID)
	}
	s, err := m.loadRecovery(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.active = s
	snap := *s
	snap.Messages = append([]Message(nil), s.Messages...)
	return &snap, nil
}

// Flush ends the active session, if any. It is the explicit shutdown hook:
// call it with a bounded-timeout context from the host's teardown path and
// from every normal exit path.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	idle := m.active == nil
	m.mu.Unlock()
	if idle {
		return nil
	}
	return m.End(ctx, "")
}

// ListCachedMeta returns the locally cached session metadata, newest first,
// for listing without touching the backend.
func (m *Manager) ListCachedMeta(ctx context.Context) ([]CachedSessionMeta, error) {
	var rows []metaRow
	if err := m.db.WithContext(ctx).
		Order("local_timestamp DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]CachedSessionMeta, 0, len(rows))
	for _, r := range rows {
		var meta wire.ChatSessionMetadata
		if err := json.Unmarshal(r.Body, &meta); err != nil {
			return nil, fmt.Errorf("chat: decode meta %s: %w", r.SessionID, err)
		}
		out = append(out, CachedSessionMeta{
			SessionID:      r.SessionID,
			Metadata:       meta,
			IsStored:       r.IsStored,
			LocalTimestamp: r.LocalTimestamp,
		})
	}
	return out, nil
}
