package entity

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// ErrReservedID is returned when a derived slug collides with a reserved
// route token and therefore cannot be used as an entity identifier.
var ErrReservedID = errors.New("entity: identifier is reserved")

// reservedIDs are tokens the admin UI claims as routes ("new" is the
// create-new route). A slug equal to one of these would shadow the route.
var reservedIDs = map[string]bool{
	"new":      true,
	"edit":     true,
	"manifest": true,
}

// Audit carries the who/when fields every entity records.
type Audit struct {
	CreatedBy    string    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastEditedBy string    `json:"lastEditedBy,omitempty"`
	LastEditedAt time.Time `json:"lastEditedAt"`
}

// Avatar is a case-study persona presented on the kiosk.
type Avatar struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	VoiceID      string `json:"voiceId,omitempty"`
	ImageKey     string `json:"imageKey,omitempty"`
	Published    bool   `json:"published"`
	Audit
}

func (a Avatar) EntityID() string          { return a.ID }
func (a Avatar) EntityName() string        { return a.Name }
func (a Avatar) IsPublished() bool         { return a.Published }
func (a Avatar) WithIdentity(id string) Avatar {
	a.ID = id
	return a
}

// Cohort is a named group of students sharing avatar assignments.
type Cohort struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	AvatarIDs   []string `json:"avatarIds,omitempty"`
	MemberCount int      `json:"memberCount,omitempty"`
	Audit
}

func (c Cohort) EntityID() string   { return c.ID }
func (c Cohort) EntityName() string { return c.Name }
func (c Cohort) IsPublished() bool  { return true }
func (c Cohort) WithIdentity(id string) Cohort {
	c.ID = id
	return c
}

// Persona is a reusable behavioral template avatars can be built from.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Style       string `json:"style,omitempty"`
	Published   bool   `json:"published"`
	Audit
}

func (p Persona) EntityID() string   { return p.ID }
func (p Persona) EntityName() string { return p.Name }
func (p Persona) IsPublished() bool  { return p.Published }
func (p Persona) WithIdentity(id string) Persona {
	p.ID = id
	return p
}

// Entity is the constraint shared by every record type the versioned
// cache/sync pattern manages. WithIdentity returns a copy with the id set;
// identity is assigned once at creation and is immutable afterwards.
type Entity[T any] interface {
	EntityID() string
	EntityName() string
	IsPublished() bool
	WithIdentity(id string) T
}

// IsReserved reports whether id collides with a reserved route token.
func IsReserved(id string) bool { return reservedIDs[id] }

// Slugify derives the immutable identifier from a human-readable name:
// lower-cased, runs of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		} else {
			pendingHyphen = true
		}
	}
	return b.String()
}

// DeriveID slugifies name and rejects reserved tokens and empty results.
func DeriveID(name string) (string, error) {
	id := Slugify(name)
	if id == "" {
		return "", errors.New("entity: name produces empty identifier")
	}
	if reservedIDs[id] {
		return "", ErrReservedID
	}
	return id, nil
}
