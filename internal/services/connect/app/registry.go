package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/platform/id"
	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/catalog"
	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

// maxChannelMessages bounds the retained log per channel. Oldest entries drop
// silently; this is ephemeral chat, not an audit log.
const maxChannelMessages = 500

var errChannelNotFound = errors.New("channel does not exist")
var errNotChannelMember = errors.New("identity is not a channel member")

// channel owns one conversation's member set and ordered log. All mutation
// happens under mu; sequence assignment under this lock is the single
// serialization point that makes the per-channel total order hold.
type channel struct {
	mu           sync.Mutex
	id           string
	kind         string
	name         string
	members      map[string]struct{}
	log          []wire.Message
	byClientID   map[string]wire.Message
	nextSequence int64
}

func newChannel(channelID string, kind string, name string) *channel {
	return &channel{
		id:         channelID,
		kind:       kind,
		name:       name,
		members:    make(map[string]struct{}),
		byClientID: make(map[string]wire.Message),
	}
}

func (c *channel) snapshotLocked() wire.Joined {
	members := make([]string, 0, len(c.members))
	for member := range c.members {
		members = append(members, member)
	}
	sort.Strings(members)
	log := make([]wire.Message, len(c.log))
	copy(log, c.log)
	return wire.Joined{
		ChannelID: c.id,
		Kind:      c.kind,
		Name:      c.name,
		Members:   members,
		Log:       log,
	}
}

func (c *channel) join(identityID string) wire.Joined {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[identityID] = struct{}{}
	return c.snapshotLocked()
}

func (c *channel) leave(identityID string) {
	c.mu.Lock()
	delete(c.members, identityID)
	c.mu.Unlock()
}

func (c *channel) isMember(identityID string) bool {
	c.mu.Lock()
	_, ok := c.members[identityID]
	c.mu.Unlock()
	return ok
}

// append assigns the next sequence and stores the message. A resubmitted
// clientMessageID from the same sender returns the already-stored message
// with duplicate=true and appends nothing. deliver, when non-nil, runs with
// the channel lock held so fanout enqueue order matches sequence order.
func (c *channel) append(senderID string, senderName string, body string, kind string, clientMessageID string, deliver func(wire.Message, []string)) (wire.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind != wire.MessageKindSystem {
		if _, ok := c.members[senderID]; !ok {
			return wire.Message{}, false, errNotChannelMember
		}
	}

	idempotencyKey := ""
	if clientMessageID != "" {
		idempotencyKey = senderID + "\x00" + clientMessageID
		if msg, ok := c.byClientID[idempotencyKey]; ok {
			return msg, true, nil
		}
	}

	c.nextSequence++
	msg := wire.Message{
		ID:              newMessageID(),
		ClientMessageID: clientMessageID,
		ChannelID:       c.id,
		SenderID:        senderID,
		SenderName:      senderName,
		Body:            body,
		Kind:            kind,
		Sequence:        c.nextSequence,
		SentAt:          time.Now().UTC().Format(time.RFC3339),
	}

	c.log = append(c.log, msg)
	if len(c.log) > maxChannelMessages {
		for _, dropped := range c.log[:len(c.log)-maxChannelMessages] {
			if dropped.ClientMessageID != "" {
				delete(c.byClientID, dropped.SenderID+"\x00"+dropped.ClientMessageID)
			}
		}
		c.log = c.log[len(c.log)-maxChannelMessages:]
	}
	if idempotencyKey != "" {
		c.byClientID[idempotencyKey] = msg
	}

	if deliver != nil {
		members := make([]string, 0, len(c.members))
		for member := range c.members {
			members = append(members, member)
		}
		deliver(msg, members)
	}
	return msg, false, nil
}

func newMessageID() string {
	messageID, err := id.NewID()
	if err != nil {
		return fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	return messageID
}

// channelRegistry maps channel ids to channels. Pair channels are created on
// demand; broadcast groups exist only when seeded at startup.
type channelRegistry struct {
	mu       sync.Mutex
	channels map[string]*channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string]*channel)}
}

// Seed installs the pre-declared broadcast groups with empty logs.
func (r *channelRegistry) Seed(groups []catalog.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, group := range groups {
		groupID := strings.TrimSpace(group.ID)
		if groupID == "" {
			continue
		}
		if _, ok := r.channels[groupID]; ok {
			continue
		}
		r.channels[groupID] = newChannel(groupID, wire.KindBroadcastGroup, group.Name)
	}
}

// channelFor resolves a channel, creating pair channels on demand with the
// given kind. Non-pair ids that were never seeded are an error.
func (r *channelRegistry) channelFor(channelID string, pairKind string) (*channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if ok {
		return ch, nil
	}
	if !wire.IsPairChannelID(channelID) {
		return nil, errChannelNotFound
	}
	ch = newChannel(channelID, pairKind, "")
	r.channels[channelID] = ch
	return ch, nil
}

// Join adds identityID to the channel and returns the membership snapshot
// plus the full retained log for deterministic replay.
func (r *channelRegistry) Join(channelID string, identityID string, pairKind string) (wire.Joined, error) {
	ch, err := r.channelFor(channelID, pairKind)
	if err != nil {
		return wire.Joined{}, err
	}
	return ch.join(identityID), nil
}

// Append validates membership, assigns a sequence, and stores the message.
// deliver runs under the channel lock with the stored message and current
// member ids; duplicate reports an idempotent resubmission, for which
// deliver is not called.
func (r *channelRegistry) Append(channelID string, senderID string, senderName string, body string, kind string, clientMessageID string, deliver func(wire.Message, []string)) (wire.Message, bool, error) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return wire.Message{}, false, errChannelNotFound
	}
	return ch.append(senderID, senderName, body, kind, clientMessageID, deliver)
}

// Leave removes membership but keeps the channel and its history; other
// members still need the log.
func (r *channelRegistry) Leave(channelID string, identityID string) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return
	}
	ch.leave(identityID)
}

// Snapshot returns the joined-shaped view of a channel for the poll fallback.
func (r *channelRegistry) Snapshot(channelID string) (wire.Joined, error) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return wire.Joined{}, errChannelNotFound
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshotLocked(), nil
}

// Kind reports a channel's kind, or empty when the channel does not exist.
func (r *channelRegistry) Kind(channelID string) string {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	return ch.kind
}

// MemberIDs returns the current member ids of a channel.
func (r *channelRegistry) MemberIDs(channelID string) []string {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	members := make([]string, 0, len(ch.members))
	for member := range ch.members {
		members = append(members, member)
	}
	return members
}
