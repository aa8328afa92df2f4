// Package wire holds the JSON contracts shared by the kiosk engine and the
// backend API: entity CRUD, the sync manifest exchange, and chat archival.
package wire

import (
	"encoding/json"
	"time"
)

// ManifestEntry is the authoritative version/publication state of one entity.
type ManifestEntry struct {
	Version   int64 `json:"version"`
	Published bool  `json:"published"`
}

// Manifest maps entity id to its manifest entry. OverallVersion bumps on
// every successful write so cheap "anything changed?" checks are possible.
type Manifest struct {
	OverallVersion int64                    `json:"overallVersion"`
	Entries        map[string]ManifestEntry `json:"entries"`
}

// NewManifest returns an empty manifest; the server creates one lazily on
// first read if the backing document is absent.
func NewManifest() *Manifest {
	return &Manifest{Entries: map[string]ManifestEntry{}}
}

type SyncRequest struct {
	LocalVersions map[string]int64 `json:"localVersions"`
}

type SyncResponse struct {
	NeedsUpdate    []string                 `json:"needsUpdate"`
	ServerVersions map[string]ManifestEntry `json:"serverVersions"`
}

type AddRequest struct {
	Entity json.RawMessage `json:"entity"`
}

type AddResponse struct {
	Version int64 `json:"version"`
}

type EditRequest struct {
	ID              string          `json:"id"`
	Entity          json.RawMessage `json:"entity"`
	ExpectedVersion int64           `json:"expectedVersion"`
}

type EditResponse struct {
	Version int64 `json:"version"`
}

type FetchResponse struct {
	Entity  json.RawMessage `json:"entity"`
	Version int64           `json:"version"`
}

type DeleteRequest struct {
	ID string `json:"id"`
}

// ChatMessage is one turn of an archived conversation.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSessionMetadata is the listing projection of an archived session.
// StartTime and EndTime come from the first and last message timestamps,
// not from wall-clock save time.
type ChatSessionMetadata struct {
	SessionID    string    `json:"sessionId"`
	AvatarID     string    `json:"avatarId"`
	AvatarName   string    `json:"avatarName"`
	UserID       string    `json:"userId,omitempty"`
	UserName     string    `json:"userName,omitempty"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	MessageCount int       `json:"messageCount"`
	IsKioskMode  bool      `json:"isKioskMode"`
	Location     string    `json:"location,omitempty"`
}

// ChatSession is the immutable archived form of a conversation.
type ChatSession struct {
	Metadata  ChatSessionMetadata `json:"metadata"`
	Messages  []ChatMessage       `json:"messages"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// ChatSaveRequest is the flattened session-save payload. The server derives
// the archive metadata (message count, start/end times) from the messages.
type ChatSaveRequest struct {
	SessionID   string        `json:"sessionId"`
	AvatarID    string        `json:"avatarId"`
	AvatarName  string        `json:"avatarName"`
	Messages    []ChatMessage `json:"messages"`
	IsKioskMode bool          `json:"isKioskMode"`
	UserID      string        `json:"userId,omitempty"`
	UserName    string        `json:"userName,omitempty"`
	Location    string        `json:"location,omitempty"`
}
