// Package session provides live session identity, metadata and lifecycle.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata is the client-supplied description of a recording. The pipeline
// never interprets it; it is carried through to downstream events.
type Metadata struct {
	Name         string            `json:"meeting_name"`
	Topic        string            `json:"meeting_topic"`
	Participants string            `json:"participants"`
	UserEmail    string            `json:"user_email,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// WithDefaults fills blank descriptive fields.
func (m Metadata) WithDefaults() Metadata {
	if strings.TrimSpace(m.Name) == "" {
		m.Name = "Untitled meeting"
	}
	if strings.TrimSpace(m.Topic) == "" {
		m.Topic = "Not specified"
	}
	if strings.TrimSpace(m.Participants) == "" {
		m.Participants = "Not specified"
	}
	return m
}

// Session is one live recording.
type Session struct {
	ID        string
	CreatedAt time.Time
	Metadata  Metadata
	Lifecycle *Lifecycle
}

// New creates a session in CREATED state with a fresh identifier.
func New(meta Metadata) *Session {
	return &Session{
		ID:        NewID(),
		CreatedAt: time.Now().UTC(),
		Metadata:  meta.WithDefaults(),
		Lifecycle: NewLifecycle(),
	}
}

// NewID returns a random session identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
