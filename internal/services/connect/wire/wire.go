// Package wire defines the JSON envelope and payload types exchanged over a
// connect websocket, shared by the server transport and the client session so
// the two sides cannot drift.
package wire

import (
	"encoding/json"
	"strings"
)

// Inbound intent frame types.
const (
	TypePresenceEnter = "presence_enter"
	TypeJoinChannel   = "join_channel"
	TypeSendMessage   = "send_message"
	TypeLeaveChannel  = "leave_channel"
	TypeRequestPair   = "request_pair"
	TypeCancelWait    = "cancel_wait"
	TypeConnectToPeer = "connect_to_peer"
)

// Outbound event frame types.
const (
	TypeJoined              = "joined"
	TypeMessage             = "message"
	TypeWaiting             = "waiting"
	TypePaired              = "paired"
	TypePartnerDisconnected = "partner_disconnected"
	TypePresenceList        = "presence_list"
	TypeError               = "error"
)

// Channel kinds.
const (
	KindBroadcastGroup = "broadcast-group"
	KindAnonymousPair  = "anonymous-pair"
	KindDirectedPair   = "directed-pair"
)

// Message kinds.
const (
	MessageKindText   = "text"
	MessageKindSystem = "system"
)

// Frame is the envelope carried on every websocket message in both
// directions. Payload holds the type-specific body.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Identity is an anonymous, self-asserted participant for one session.
type Identity struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Message is one immutable entry in a channel log. Sequence is assigned by
// the channel registry at append time and is the only ordering authority
// within a channel. ClientMessageID echoes the sender's submission tag so the
// sender can resolve its optimistic copy whether the confirmation arrives as
// a push or inside a later replay.
type Message struct {
	ID              string `json:"id"`
	ClientMessageID string `json:"client_message_id,omitempty"`
	ChannelID       string `json:"channel_id"`
	SenderID        string `json:"sender_id"`
	SenderName      string `json:"sender_name"`
	Body            string `json:"body"`
	Kind            string `json:"kind"`
	Sequence        int64  `json:"sequence"`
	SentAt          string `json:"sent_at"`
}

// PresenceEnter announces a session identity. When ID is empty the server
// assigns one and echoes it back in the presence list.
type PresenceEnter struct {
	ID       string `json:"id,omitempty"`
	Nickname string `json:"nickname"`
}

// JoinChannel asks to join a channel and receive its full log.
type JoinChannel struct {
	ChannelID string `json:"channel_id"`
}

// SendMessage submits a message body to a joined channel. ClientMessageID is
// an optional sender-chosen tag; resubmitting the same tag returns the
// already-appended message instead of a duplicate.
type SendMessage struct {
	ChannelID       string `json:"channel_id"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// LeaveChannel removes the sender from a channel's member set.
type LeaveChannel struct {
	ChannelID string `json:"channel_id"`
}

// ConnectToPeer opens the deterministic pair channel with a known peer.
type ConnectToPeer struct {
	PeerID string `json:"peer_id"`
}

// Joined confirms channel membership and replays the channel's entire
// retained log so a (re)joining client renders history deterministically.
type Joined struct {
	ChannelID string    `json:"channel_id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Members   []string  `json:"members"`
	Log       []Message `json:"log"`
}

// MessageEvent pushes one freshly appended message to a channel member.
type MessageEvent struct {
	ChannelID string  `json:"channel_id"`
	Message   Message `json:"message"`
}

// Paired notifies both sides of a completed matchmaking round.
type Paired struct {
	ChannelID string   `json:"channel_id"`
	Partner   Identity `json:"partner"`
}

// PartnerDisconnected tells the remaining pair member the other side is gone.
type PartnerDisconnected struct {
	ChannelID string `json:"channel_id"`
}

// PresenceList enumerates who is online, excluding the recipient. Self
// reports the recipient's registered identity so a client that asked the
// server to mint an id learns what it was given.
type PresenceList struct {
	Self       Identity   `json:"self"`
	Identities []Identity `json:"identities"`
}

// ErrorEvent reports a rejected intent. The connection stays open.
type ErrorEvent struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

const pairChannelPrefix = "pair:"

// PairChannelID derives the channel id for a 1:1 conversation between two
// identities. The ids are sorted before concatenation so both sides compute
// the same channel id without a negotiation round trip.
func PairChannelID(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if b < a {
		a, b = b, a
	}
	return pairChannelPrefix + a + ":" + b
}

// IsPairChannelID reports whether id names an on-demand pair channel.
func IsPairChannelID(id string) bool {
	return strings.HasPrefix(id, pairChannelPrefix)
}

// PairParticipants extracts the two participant ids from a pair channel id.
// Identity ids never contain ':' (the server rejects them), so the split is
// unambiguous.
func PairParticipants(channelID string) (string, string, bool) {
	rest, ok := strings.CutPrefix(channelID, pairChannelPrefix)
	if !ok {
		return "", "", false
	}
	left, right, ok := strings.Cut(rest, ":")
	if !ok || left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}
