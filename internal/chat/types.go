package chat

import (
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

// Message is one conversation turn. Timestamps are assigned when the message
// is appended; archive start/end times derive from them.
type Message = wire.ChatMessage

// ActiveSession is the single in-memory, not-yet-archived conversation.
type ActiveSession struct {
	SessionID   string    `json:"sessionId"`
	AvatarID    string    `json:"avatarId"`
	AvatarName  string    `json:"avatarName"`
	Messages    []Message `json:"messages"`
	StartTime   time.Time `json:"startTime"`
	IsKioskMode bool      `json:"isKioskMode"`
	UserID      string    `json:"userId,omitempty"`
	UserName    string    `json:"userName,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// StartOptions carries the optional identity/context of a new session.
type StartOptions struct {
	IsKioskMode bool
	UserID      string
	UserName    string
	Location    string
}

// CachedSessionMeta is the local-cache projection of a session: metadata
// only, no message bodies, for fast listing. IsStored is false when the
// durable archive write failed and the session awaits manual reconciliation.
type CachedSessionMeta struct {
	SessionID      string                   `json:"sessionId"`
	Metadata       wire.ChatSessionMetadata `json:"metadata"`
	IsStored       bool                     `json:"isStored"`
	LocalTimestamp time.Time                `json:"localTimestamp"`
}

// Metadata derives the archive metadata for a session. Start and end times
// come from the first and last message timestamps, not wall-clock save time.
func (s *ActiveSession) Metadata() wire.ChatSessionMetadata {
	m := wire.ChatSessionMetadata{
		SessionID:    s.SessionID,
		AvatarID:     s.AvatarID,
		AvatarName:   s.AvatarName,
		UserID:       s.UserID,
		UserName:     s.UserName,
		MessageCount: len(s.Messages),
		IsKioskMode:  s.IsKioskMode,
		Location:     s.Location,
	}
	if len(s.Messages) > 0 {
		m.StartTime = s.Messages[0].Timestamp
		m.EndTime = s.Messages[len(s.Messages)-1].Timestamp
	} else {
		m.StartTime = s.StartTime
		m.EndTime = s.StartTime
	}
	return m
}
