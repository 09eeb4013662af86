// Package config maps the externally merged configuration snapshot onto
// local relational state and projects local edits back out. The merge
// algorithm itself lives behind the snapshot boundary: by the time a
// Snapshot reaches this package it has already been resolved to a single
// winning state across all devices.
package config

// ExpiryMode is the external snapshot encoding of disappearing-message
// behavior.
type ExpiryMode int

const (
	ExpiryModeNone ExpiryMode = iota
	ExpiryModeAfterSend
	ExpiryModeAfterRead
)

// ConversationSettings is one conversation entry embedded in a snapshot.
type ConversationSettings struct {
	SessionID     string
	ExpiryMode    ExpiryMode
	ExpirySeconds uint32
}

// Snapshot is the merged per-account configuration state. Field absence
// conventions: an empty ProfilePicURL means "remove avatar"; a negative
// NoteToSelfPriority means the note-to-self conversation is hidden, and
// a nil one means the snapshot carries no authority over visibility at
// all (a profile-only push must not unhide anything).
type Snapshot struct {
	ProfileName        string
	ProfilePicURL      string
	ProfilePicKey      []byte
	NoteToSelfPriority *int32
	Conversations      []ConversationSettings
}

// conversation returns the embedded settings entry for sessionID, or nil.
func (s *Snapshot) conversation(sessionID string) *ConversationSettings {
	for i := range s.Conversations {
		if s.Conversations[i].SessionID == sessionID {
			return &s.Conversations[i]
		}
	}
	return nil
}

// setConversation upserts the settings entry for sessionID and returns it.
func (s *Snapshot) setConversation(sessionID string) *ConversationSettings {
	if cs := s.conversation(sessionID); cs != nil {
		return cs
	}
	s.Conversations = append(s.Conversations, ConversationSettings{SessionID: sessionID})
	return &s.Conversations[len(s.Conversations)-1]
}
