// Package protocol defines the wire types exchanged with the swarm and
// between an account's devices. Envelopes are JSON-encoded; the legacy
// binary contact/group payloads are parsed by an external collaborator
// and arrive here already decoded.
package protocol

// Envelope types.
const (
	EnvelopeData   = "data"
	EnvelopeSync   = "sync"
	EnvelopeConfig = "config"
)

// Envelope is one inbound or outbound protocol message.
type Envelope struct {
	Type        string       `json:"type"`
	Source      string       `json:"source"`      // sender account/device id
	TimestampMs uint64       `json:"timestampMs"` // sender clock, ms
	Data        *DataMessage `json:"data,omitempty"`
	Config      *ConfigurationMessage `json:"config,omitempty"`
}

// DataMessage carries a user-visible message and optional control payloads.
type DataMessage struct {
	Body        string                `json:"body,omitempty"`
	Profile     *Profile              `json:"profile,omitempty"`
	Attachments []AttachmentPointer   `json:"attachments,omitempty"`
	Contacts    []ContactDetails      `json:"contacts,omitempty"`
	ClosedGroups []ClosedGroupDetails `json:"closedGroups,omitempty"`
	OpenGroups  []OpenGroupDetails    `json:"openGroups,omitempty"`
	FriendRequest bool                `json:"friendRequest,omitempty"`
}

// Profile is the sender's display profile embedded in a data message.
type Profile struct {
	DisplayName   string `json:"displayName,omitempty"`
	ProfileKey    []byte `json:"profileKey,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

// AttachmentPointer references an uploaded attachment.
type AttachmentPointer struct {
	URL    string `json:"url"`
	Key    []byte `json:"key,omitempty"`    // absent for community (plaintext) uploads
	Digest []byte `json:"digest,omitempty"` // SHA-256 over the ciphertext
	Size   uint64 `json:"size,omitempty"`
	FileName string `json:"fileName,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// ConfigurationMessage is the self-addressed snapshot push refreshing the
// account's remotely stored configuration. NoteToSelfPriority is a
// pointer so a profile-only push carries no authority over visibility.
type ConfigurationMessage struct {
	DisplayName        string          `json:"displayName,omitempty"`
	ProfilePicURL      string          `json:"profilePicUrl,omitempty"`
	ProfileKey         []byte          `json:"profileKey,omitempty"`
	NoteToSelfPriority *int32          `json:"noteToSelfPriority,omitempty"`
	NoteToSelfExpiry   *ExpirySettings `json:"noteToSelfExpiry,omitempty"`
}

// ExpirySettings is the disappearing-message setting carried by a
// configuration message. Mode 0 is off, 1 after-send, 2 after-read.
type ExpirySettings struct {
	Mode    int    `json:"mode"`
	Seconds uint32 `json:"seconds"`
}

// ContactDetails is one entry of a parsed legacy contact sync payload.
type ContactDetails struct {
	SessionID  string `json:"sessionId"`
	Name       string `json:"name,omitempty"`
	ProfileKey []byte `json:"profileKey,omitempty"`
}

// ClosedGroupDetails is one entry of a parsed legacy closed-group sync payload.
type ClosedGroupDetails struct {
	GroupID string   `json:"groupId"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members,omitempty"`
	Admins  []string `json:"admins,omitempty"`
}

// OpenGroupDetails is one entry of a parsed legacy community sync payload.
type OpenGroupDetails struct {
	Server string `json:"server"`
	Room   string `json:"room"`
}

// GroupUpdate describes a replayed closed-group membership or name change.
type GroupUpdate struct {
	GroupID string
	Name    string
	Members []string
}
