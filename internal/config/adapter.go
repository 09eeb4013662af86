package config

import (
	"fmt"
	"log"

	"github.com/sesh-im/sesh-go/internal/protocol"
	"github.com/sesh-im/sesh-go/internal/store"
)

// ConversationPurger deletes or leaves a conversation's content when it
// transitions to hidden. The record itself is retained as a tombstone.
type ConversationPurger interface {
	Purge(conversationID string) error
}

// Adapter is the bidirectional mapping between merged snapshots and
// local relational state.
type Adapter struct {
	store     *store.Store
	sessionID string // the account's own public identifier
	purger    ConversationPurger
	logger    *log.Logger
}

// NewAdapter creates an adapter for the account identified by sessionID.
func NewAdapter(st *store.Store, sessionID string, purger ConversationPurger, logger *log.Logger) *Adapter {
	return &Adapter{store: st, sessionID: sessionID, purger: purger, logger: logger}
}

// ApplyMergedSnapshot merges snap into local state. sentAtMs is the
// timestamp the snapshot was sent at and gates the note-to-self
// disappearing config. A snapshot without a profile name is malformed
// and discarded whole.
//
// Profile fields are applied unconditionally: the external merge layer
// already resolved which snapshot wins, so there is no local timestamp
// comparison for them.
func (a *Adapter) ApplyMergedSnapshot(snap *Snapshot, sentAtMs uint64) error {
	if snap.ProfileName == "" {
		logf(a.logger, "config: discarding snapshot without profile name")
		return nil
	}

	profile := &store.Profile{
		Name:   snap.ProfileName,
		PicURL: snap.ProfilePicURL,
		PicKey: snap.ProfilePicKey,
	}
	if err := a.store.SaveProfile(profile); err != nil {
		return fmt.Errorf("config: apply profile: %w", err)
	}

	if cs := snap.conversation(a.sessionID); cs != nil {
		candidate := &store.DisappearingConfig{
			ConversationID:  a.sessionID,
			IsEnabled:       cs.ExpiryMode != ExpiryModeNone && cs.ExpirySeconds > 0,
			DurationSeconds: cs.ExpirySeconds,
			Type:            disappearTypeForMode(cs.ExpiryMode),
			LastChangeMs:    sentAtMs,
		}
		applied, err := a.store.SetDisappearingConfig(candidate)
		if err != nil {
			return fmt.Errorf("config: apply disappearing config: %w", err)
		}
		if !applied {
			logf(a.logger, "config: note-to-self disappearing candidate at %d lost to stored state", sentAtMs)
		}
	}

	if snap.NoteToSelfPriority != nil {
		if err := a.applyNoteToSelfVisibility(*snap.NoteToSelfPriority); err != nil {
			return err
		}
	}

	if err := a.store.EnsureSelfContact(a.sessionID); err != nil {
		return fmt.Errorf("config: ensure self contact: %w", err)
	}
	return nil
}

// applyNoteToSelfVisibility derives visibility from priority (< 0 means
// hidden) and writes only the fields that differ. A conversation created
// already-hidden is purged immediately so it never surfaces.
func (a *Adapter) applyNoteToSelfVisibility(priority int32) error {
	visible := priority >= 0

	conv, err := a.store.GetConversation(a.sessionID)
	if err != nil {
		return fmt.Errorf("config: load note-to-self: %w", err)
	}

	if conv == nil {
		conv = &store.Conversation{
			SessionID:       a.sessionID,
			Kind:            store.ConversationContact,
			ShouldBeVisible: visible,
			PinnedPriority:  priority,
		}
		if err := a.store.SaveConversation(conv); err != nil {
			return fmt.Errorf("config: create note-to-self: %w", err)
		}
		if !visible {
			if err := a.purger.Purge(a.sessionID); err != nil {
				return fmt.Errorf("config: purge hidden note-to-self: %w", err)
			}
		}
		return nil
	}

	wasVisible := conv.ShouldBeVisible
	if conv.ShouldBeVisible != visible {
		if err := a.store.UpdateConversationVisibility(a.sessionID, visible); err != nil {
			return fmt.Errorf("config: update visibility: %w", err)
		}
	}
	if conv.PinnedPriority != priority {
		if err := a.store.UpdateConversationPriority(a.sessionID, priority); err != nil {
			return fmt.Errorf("config: update priority: %w", err)
		}
	}
	if wasVisible && !visible {
		if err := a.purger.Purge(a.sessionID); err != nil {
			return fmt.Errorf("config: purge hidden note-to-self: %w", err)
		}
	}
	return nil
}

// ProjectProfile writes the local profile into the outgoing snapshot
// delta. Empty URL and key act as "remove avatar" sentinels.
func (a *Adapter) ProjectProfile(p *store.Profile, snap *Snapshot) {
	snap.ProfileName = p.Name
	snap.ProfilePicURL = p.PicURL
	snap.ProfilePicKey = p.PicKey
}

// ProjectNoteToSelf writes local note-to-self settings into the outgoing
// snapshot delta. A disappearing type with no external mode mapping
// leaves the expiry fields untouched.
func (a *Adapter) ProjectNoteToSelf(priority *int32, cfg *store.DisappearingConfig, snap *Snapshot) {
	if priority != nil {
		p := *priority
		snap.NoteToSelfPriority = &p
	}
	if cfg == nil {
		return
	}
	mode, ok := modeForDisappearType(cfg)
	if !ok {
		// No external encoding for this type; skipping the field keeps
		// remote state on its previous value.
		logf(a.logger, "config: no expiry mode mapping for type %d, skipping", cfg.Type)
		return
	}
	cs := snap.setConversation(a.sessionID)
	cs.ExpiryMode = mode
	cs.ExpirySeconds = cfg.DurationSeconds
}

// ProjectConfiguration assembles the account's outbound configuration
// message from local state: profile plus the note-to-self priority and
// disappearing settings, run through the snapshot projections.
func (a *Adapter) ProjectConfiguration() (*protocol.ConfigurationMessage, error) {
	snap := &Snapshot{}

	profile, err := a.store.LoadProfile()
	if err != nil {
		return nil, fmt.Errorf("config: project profile: %w", err)
	}
	if profile != nil {
		a.ProjectProfile(profile, snap)
	}

	var priority *int32
	conv, err := a.store.GetConversation(a.sessionID)
	if err != nil {
		return nil, fmt.Errorf("config: project note-to-self: %w", err)
	}
	if conv != nil {
		p := conv.PinnedPriority
		priority = &p
	}
	cfg, err := a.store.GetDisappearingConfig(a.sessionID)
	if err != nil {
		return nil, fmt.Errorf("config: project disappearing config: %w", err)
	}
	a.ProjectNoteToSelf(priority, cfg, snap)

	msg := &protocol.ConfigurationMessage{
		DisplayName:        snap.ProfileName,
		ProfilePicURL:      snap.ProfilePicURL,
		ProfileKey:         snap.ProfilePicKey,
		NoteToSelfPriority: snap.NoteToSelfPriority,
	}
	if cs := snap.conversation(a.sessionID); cs != nil {
		msg.NoteToSelfExpiry = &protocol.ExpirySettings{
			Mode:    int(cs.ExpiryMode),
			Seconds: cs.ExpirySeconds,
		}
	}
	return msg, nil
}

// SnapshotFromConfiguration maps an inbound configuration message onto a
// merged snapshot for the account identified by sessionID. Absent fields
// stay absent: a profile-only message yields a snapshot with no
// note-to-self authority.
func SnapshotFromConfiguration(msg *protocol.ConfigurationMessage, sessionID string) *Snapshot {
	snap := &Snapshot{
		ProfileName:        msg.DisplayName,
		ProfilePicURL:      msg.ProfilePicURL,
		ProfilePicKey:      msg.ProfileKey,
		NoteToSelfPriority: msg.NoteToSelfPriority,
	}
	if e := msg.NoteToSelfExpiry; e != nil {
		cs := snap.setConversation(sessionID)
		cs.ExpiryMode = ExpiryMode(e.Mode)
		cs.ExpirySeconds = e.Seconds
	}
	return snap
}

func disappearTypeForMode(mode ExpiryMode) store.DisappearType {
	if mode == ExpiryModeAfterRead {
		return store.DisappearAfterRead
	}
	return store.DisappearAfterSend
}

func modeForDisappearType(cfg *store.DisappearingConfig) (ExpiryMode, bool) {
	if !cfg.IsEnabled {
		return ExpiryModeNone, true
	}
	switch cfg.Type {
	case store.DisappearAfterSend:
		return ExpiryModeAfterSend, true
	case store.DisappearAfterRead:
		return ExpiryModeAfterRead, true
	default:
		return ExpiryModeNone, false
	}
}

// logf logs a formatted message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
