// Package syncmsg validates and replays legacy multi-device control
// messages. Validity and duplicate checks run first and unconditionally;
// every effectful handler additionally requires the sender to be the
// account's designated master device. Drops are deliberately invisible
// to the user — they represent expected multi-device states, not faults.
package syncmsg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sesh-im/sesh-go/internal/protocol"
	"github.com/sesh-im/sesh-go/internal/store"
)

// Dispatcher is the outbound send substrate the gateway uses for
// auto-generated control messages.
type Dispatcher interface {
	SendNonDurably(ctx context.Context, msg *store.Message, attachments []*store.Attachment, destination string) error
}

// SessionEstablisher sets up a secure session with a peer when one does
// not exist yet. Key agreement itself is an external collaborator.
type SessionEstablisher interface {
	EnsureSession(ctx context.Context, sessionID string) error
}

// Gateway replays sync messages into local state.
type Gateway struct {
	store      *store.Store
	dispatcher Dispatcher
	sessions   SessionEstablisher
	dedup      *dedupCache
	logger     *log.Logger
}

// NewGateway creates a gateway. The dedup cache is process-lifetime and
// owned by the returned value.
func NewGateway(st *store.Store, d Dispatcher, se SessionEstablisher, logger *log.Logger) *Gateway {
	return &Gateway{
		store:      st,
		dispatcher: d,
		sessions:   se,
		dedup:      newDedupCache(),
		logger:     logger,
	}
}

// IsValidSyncMessage reports whether the envelope's claimed sender is one
// of the account's linked devices. Invalid messages are dropped silently.
func (g *Gateway) IsValidSyncMessage(env *protocol.Envelope) (bool, error) {
	linked, err := g.store.IsLinkedDevice(env.Source)
	if err != nil {
		return false, fmt.Errorf("syncmsg: check linked device: %w", err)
	}
	return linked, nil
}

// IsDuplicate reports whether a message with this timestamp was already
// seen from sender, recording it either way. Timestamp 0 never counts as
// a duplicate.
func (g *Gateway) IsDuplicate(timestampMs uint64, sender string) bool {
	return g.dedup.seen(sender, timestampMs)
}

// wasSentByMasterDevice resolves the designated master device and
// compares it to the envelope sender.
func (g *Gateway) wasSentByMasterDevice(sender string) (bool, error) {
	master, err := g.store.MasterDevice()
	if err != nil {
		return false, fmt.Errorf("syncmsg: resolve master device: %w", err)
	}
	return master != "" && sender == master, nil
}

// PropagateProfileIfFromMaster copies the embedded display name and
// profile key into local profile state, but only when the envelope was
// sent by the master device.
func (g *Gateway) PropagateProfileIfFromMaster(dm *protocol.DataMessage, env *protocol.Envelope) error {
	fromMaster, err := g.wasSentByMasterDevice(env.Source)
	if err != nil {
		return err
	}
	if !fromMaster || dm.Profile == nil {
		return nil
	}

	profile, err := g.store.LoadProfile()
	if err != nil {
		return fmt.Errorf("syncmsg: load profile: %w", err)
	}
	if profile == nil {
		profile = &store.Profile{}
	}
	if dm.Profile.DisplayName != "" {
		profile.Name = dm.Profile.DisplayName
	}
	if len(dm.Profile.ProfileKey) > 0 {
		profile.PicKey = dm.Profile.ProfileKey
	}
	if dm.Profile.ProfilePicURL != "" {
		profile.PicURL = dm.Profile.ProfilePicURL
	}
	if err := g.store.SaveProfile(profile); err != nil {
		return fmt.Errorf("syncmsg: save profile: %w", err)
	}
	logf(g.logger, "syncmsg: propagated profile from master device")
	return nil
}

// HandleClosedGroupUpdate replays a membership or name change,
// establishes sessions with new members, and appends a synthetic info
// message describing the change.
func (g *Gateway) HandleClosedGroupUpdate(ctx context.Context, update *protocol.GroupUpdate, env *protocol.Envelope) error {
	fromMaster, err := g.wasSentByMasterDevice(env.Source)
	if err != nil {
		return err
	}
	if !fromMaster {
		return nil
	}

	existing, err := g.store.GetClosedGroup(update.GroupID)
	if err != nil {
		return err
	}

	var known map[string]bool
	if existing != nil {
		known = make(map[string]bool, len(existing.Members))
		for _, m := range existing.Members {
			known[m] = true
		}
	}
	for _, member := range update.Members {
		if known[member] {
			continue
		}
		if err := g.sessions.EnsureSession(ctx, member); err != nil {
			return fmt.Errorf("syncmsg: establish session with %s: %w", member, err)
		}
	}

	if err := g.store.SaveClosedGroup(&store.ClosedGroup{
		GroupID: update.GroupID,
		Name:    update.Name,
		Members: update.Members,
	}); err != nil {
		return err
	}

	return g.appendInfoMessage(update.GroupID, fmt.Sprintf("Group updated: %s", update.Name))
}

// HandleClosedGroupQuit replays a departure. The departing member is
// named explicitly: the envelope source is a device identifier and may
// not match the account that left.
func (g *Gateway) HandleClosedGroupQuit(groupID, member string, env *protocol.Envelope) error {
	fromMaster, err := g.wasSentByMasterDevice(env.Source)
	if err != nil {
		return err
	}
	if !fromMaster {
		return nil
	}

	group, err := g.store.GetClosedGroup(groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return nil
	}

	members := group.Members[:0:0]
	for _, m := range group.Members {
		if m != member {
			members = append(members, m)
		}
	}
	group.Members = members
	if err := g.store.SaveClosedGroup(group); err != nil {
		return err
	}

	self, err := g.store.SessionID()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if member == self {
		return g.appendInfoMessage(groupID, "You left the group")
	}
	return g.appendInfoMessage(groupID, fmt.Sprintf("%s left the group", member))
}

// HandleContactSync replays a parsed contact list: conversations are
// created where absent and friend-request state is converged. The
// auto-generated friend request is a transient control message and is
// removed locally whether the send succeeds or fails.
func (g *Gateway) HandleContactSync(ctx context.Context, contacts []protocol.ContactDetails, env *protocol.Envelope) error {
	fromMaster, err := g.wasSentByMasterDevice(env.Source)
	if err != nil {
		return err
	}
	if !fromMaster {
		return nil
	}

	for _, cd := range contacts {
		if err := g.replayContact(ctx, cd); err != nil {
			return fmt.Errorf("syncmsg: replay contact %s: %w", cd.SessionID, err)
		}
	}
	return nil
}

func (g *Gateway) replayContact(ctx context.Context, cd protocol.ContactDetails) error {
	conv, err := g.store.GetConversation(cd.SessionID)
	if err != nil {
		return err
	}
	if conv == nil {
		if err := g.store.SaveConversation(&store.Conversation{
			SessionID:       cd.SessionID,
			Kind:            store.ConversationContact,
			Name:            cd.Name,
			ShouldBeVisible: true,
		}); err != nil {
			return err
		}
	}

	contact, err := g.store.GetContact(cd.SessionID)
	if err != nil {
		return err
	}
	if contact == nil {
		contact = &store.Contact{SessionID: cd.SessionID}
	}
	if cd.Name != "" {
		contact.Name = cd.Name
	}
	if len(cd.ProfileKey) > 0 {
		contact.ProfileKey = cd.ProfileKey
	}

	switch contact.FriendRequestStatus {
	case store.FriendRequestNone:
		if err := g.sendAutoFriendRequest(ctx, cd.SessionID); err != nil {
			return err
		}
		contact.FriendRequestStatus = store.FriendRequestSent
	case store.FriendRequestReceived:
		if err := g.acceptFriendRequest(ctx, cd.SessionID); err != nil {
			return err
		}
		contact.FriendRequestStatus = store.FriendRequestAccepted
		contact.IsApproved = true
		contact.DidApproveMe = true
	}

	return g.store.SaveContact(contact)
}

// sendAutoFriendRequest writes a transient friend-request message, sends
// it, and removes the local record on both success and failure.
func (g *Gateway) sendAutoFriendRequest(ctx context.Context, destination string) error {
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: destination,
		TimestampMs:    uint64(time.Now().UnixMilli()),
		IsOutgoing:     true,
		Variant:        store.MessageFriendRequest,
	}
	if err := g.store.SaveMessage(msg); err != nil {
		return err
	}

	sendErr := g.dispatcher.SendNonDurably(ctx, msg, nil, destination)
	if err := g.store.DeleteMessage(msg.ID); err != nil {
		return err
	}
	if sendErr != nil {
		// A failed auto-request is not a fault worth surfacing: the next
		// contact sync will retry it.
		logf(g.logger, "syncmsg: auto friend request to %s failed: %v", destination, sendErr)
	}
	return nil
}

// acceptFriendRequest answers an existing incoming request.
func (g *Gateway) acceptFriendRequest(ctx context.Context, destination string) error {
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: destination,
		TimestampMs:    uint64(time.Now().UnixMilli()),
		IsOutgoing:     true,
		Variant:        store.MessageFriendRequest,
	}
	if err := g.dispatcher.SendNonDurably(ctx, msg, nil, destination); err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	return nil
}

// HandleClosedGroupSync replays parsed legacy closed-group descriptors,
// creating missing local state without duplicating known groups.
func (g *Gateway) HandleClosedGroupSync(ctx context.Context, groups []protocol.ClosedGroupDetails, env *protocol.Envelope) error {
	fromMaster, err := g.wasSentByMasterDevice(env.Source)
	if err != nil {
		return err
	}
	if !fromMaster {
		return nil
	}

	for _, gd := range groups {
		existing, err := g.store.GetClosedGroup(gd.GroupID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		for _, member := range gd.Members {
			if err := g.sessions.EnsureSession(ctx, member); err != nil {
				return fmt.Errorf("syncmsg: establish session with %s: %w", member, err)
			}
		}
		if err := g.store.SaveClosedGroup(&store.ClosedGroup{
			GroupID: gd.GroupID,
			Name:    gd.Name,
			Members: gd.Members,
		}); err != nil {
			return err
		}
		if err := g.store.SaveConversation(&store.Conversation{
			SessionID:       gd.GroupID,
			Kind:            store.ConversationClosedGroup,
			Name:            gd.Name,
			ShouldBeVisible: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandleOpenGroupSync replays parsed community descriptors, creating
// missing community conversations.
func (g *Gateway) HandleOpenGroupSync(ogs []protocol.OpenGroupDetails, env *protocol.Envelope) error {
	fromMaster, err := g.wasSentByMasterDevice(env.Source)
	if err != nil {
		return err
	}
	if !fromMaster {
		return nil
	}

	for _, og := range ogs {
		id := og.Server + "." + og.Room
		existing, err := g.store.GetConversation(id)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := g.store.SaveConversation(&store.Conversation{
			SessionID:       id,
			Kind:            store.ConversationCommunity,
			Name:            og.Room,
			ShouldBeVisible: true,
			CommunityServer: og.Server,
			CommunityRoom:   og.Room,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) appendInfoMessage(conversationID, body string) error {
	return g.store.SaveMessage(&store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		TimestampMs:    uint64(time.Now().UnixMilli()),
		Variant:        store.MessageInfo,
	})
}

// logf logs a formatted message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
