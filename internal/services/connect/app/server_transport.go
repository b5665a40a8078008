package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	platformid "github.com/JaytirthJOSHI/HealthPulse-sub000/internal/platform/id"
	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes     = 2000
	maxNicknameRunes        = 64
	maxIdentityIDRunes      = 128
	maxClientMessageIDRunes = 128

	defaultNickname = "anonymous"

	peerQueueDepth = 256
)

var errPeerClosed = errors.New("peer connection is closed")
var errPeerStalled = errors.New("peer write queue is full")

// wsPeer owns all writes to one websocket connection. Frames are delivered
// in enqueue order by a single writer goroutine, so a fanout enqueued under
// the channel lock reaches the socket in sequence order.
type wsPeer struct {
	conn  *websocket.Conn
	queue chan wire.Frame
	stop  chan struct{}
	once  sync.Once
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	p := &wsPeer{
		conn:  conn,
		queue: make(chan wire.Frame, peerQueueDepth),
		stop:  make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *wsPeer) writeLoop() {
	encoder := json.NewEncoder(p.conn)
	for {
		select {
		case <-p.stop:
			return
		case frame := <-p.queue:
			if err := encoder.Encode(frame); err != nil {
				p.close()
				return
			}
		}
	}
}

// writeFrame enqueues one frame. A peer that cannot drain its queue is
// dropped rather than allowed to stall channel fanout.
func (p *wsPeer) writeFrame(frame wire.Frame) error {
	select {
	case <-p.stop:
		return errPeerClosed
	case p.queue <- frame:
		return nil
	default:
		p.close()
		return errPeerStalled
	}
}

func (p *wsPeer) close() {
	p.once.Do(func() {
		close(p.stop)
		_ = p.conn.Close()
	})
}

// wsSession tracks one connection's established identity and joined channels.
type wsSession struct {
	mu       sync.Mutex
	identity wire.Identity
	entered  bool
	channels map[string]struct{}
}

func newWSSession() *wsSession {
	return &wsSession{channels: make(map[string]struct{})}
}

func (s *wsSession) enter(identity wire.Identity) {
	s.mu.Lock()
	s.identity = identity
	s.entered = true
	s.mu.Unlock()
}

func (s *wsSession) currentIdentity() (wire.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.entered
}

func (s *wsSession) trackChannel(channelID string) {
	s.mu.Lock()
	s.channels[channelID] = struct{}{}
	s.mu.Unlock()
}

func (s *wsSession) untrackChannel(channelID string) {
	s.mu.Lock()
	delete(s.channels, channelID)
	s.mu.Unlock()
}

func (s *wsSession) drainChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]string, 0, len(s.channels))
	for channelID := range s.channels {
		channels = append(channels, channelID)
	}
	s.channels = make(map[string]struct{})
	return channels
}

// wsConn couples a session with its writer so fanout and membership updates
// can reach a routed identity in one lookup.
type wsConn struct {
	peer    *wsPeer
	session *wsSession
}

// connRegistry is the server-side routing table keyed by identity id. It
// holds non-owning references; the connection handler owns the transport.
type connRegistry struct {
	mu    sync.Mutex
	conns map[string]*wsConn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]*wsConn)}
}

func (r *connRegistry) register(identityID string, conn *wsConn) {
	r.mu.Lock()
	r.conns[identityID] = conn
	r.mu.Unlock()
}

// unregisterOwned removes the routing entry only when conn still owns it and
// reports whether it did. A later connection claiming the same identity
// takes the slot over; the older handler must then skip shared-state cleanup.
func (r *connRegistry) unregisterOwned(identityID string, conn *wsConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.conns[identityID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, identityID)
	return true
}

func (r *connRegistry) get(identityID string) *wsConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[identityID]
}

func (r *connRegistry) snapshot() map[string]*wsConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make(map[string]*wsConn, len(r.conns))
	for identityID, conn := range r.conns {
		conns[identityID] = conn
	}
	return conns
}

// core bundles the process-wide shared state every connection handler
// funnels into.
type core struct {
	registry   *channelRegistry
	presence   *presenceDirectory
	matchmaker *matchmaker
	conns      *connRegistry
}

func newCore(presenceTTL time.Duration) *core {
	return &core{
		registry:   newChannelRegistry(),
		presence:   newPresenceDirectory(presenceTTL),
		matchmaker: newMatchmaker(),
		conns:      newConnRegistry(),
	}
}

// sweepPresence reaps stale presence entries, keeping every identity that
// still holds a routable connection alive first. An open-but-quiet websocket
// is not a ghost; only identities with no connection age out.
func (c *core) sweepPresence() []string {
	for identityID, conn := range c.conns.snapshot() {
		if identity, entered := conn.session.currentIdentity(); entered && identity.ID == identityID {
			c.presence.Enter(identity)
		}
	}
	return c.presence.sweep()
}

func handleWSConn(conn *websocket.Conn, core *core) {
	wsc := &wsConn{
		peer:    newWSPeer(conn),
		session: newWSSession(),
	}
	defer wsc.peer.close()

	decoder := json.NewDecoder(conn)
	defer core.teardown(wsc)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wire.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(wsc.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(wsc.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		if frame.Type == wire.TypePresenceEnter {
			core.handlePresenceEnter(wsc, frame)
			continue
		}

		identity, entered := wsc.session.currentIdentity()
		if !entered {
			_ = writeWSError(wsc.peer, frame.RequestID, "FAILED_PRECONDITION", "presence_enter is required first")
			continue
		}
		// Any intent counts as liveness. Re-entering (not just refreshing)
		// restores the entry if a sweep raced the connection.
		core.presence.Enter(identity)

		switch frame.Type {
		case wire.TypeJoinChannel:
			core.handleJoinChannel(wsc, identity, frame)
		case wire.TypeSendMessage:
			core.handleSendMessage(wsc, identity, frame)
		case wire.TypeLeaveChannel:
			core.handleLeaveChannel(wsc, identity, frame)
		case wire.TypeRequestPair:
			core.handleRequestPair(wsc, identity, frame)
		case wire.TypeCancelWait:
			core.matchmaker.CancelWait(identity.ID)
		case wire.TypeConnectToPeer:
			core.handleConnectToPeer(wsc, identity, frame)
		default:
			_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// teardown releases everything a departed connection held: channel
// membership, the matchmaking slot, presence, and the routing entry. Pair
// partners still connected are told the other side is gone.
func (c *core) teardown(wsc *wsConn) {
	identity, entered := wsc.session.currentIdentity()
	if !entered {
		return
	}
	if !c.conns.unregisterOwned(identity.ID, wsc) {
		// The identity moved to a newer connection; shared state now
		// belongs to that handler.
		return
	}

	c.matchmaker.CancelWait(identity.ID)

	for _, channelID := range wsc.session.drainChannels() {
		kind := c.registry.Kind(channelID)
		c.registry.Leave(channelID, identity.ID)
		if kind != wire.KindAnonymousPair && kind != wire.KindDirectedPair {
			continue
		}
		frame := wire.Frame{
			Type:    wire.TypePartnerDisconnected,
			Payload: mustJSON(wire.PartnerDisconnected{ChannelID: channelID}),
		}
		for _, memberID := range c.registry.MemberIDs(channelID) {
			if member := c.conns.get(memberID); member != nil {
				_ = member.peer.writeFrame(frame)
			}
		}

		// The departure also lands in the pair log so a later rejoin replays
		// it in order.
		notice := fmt.Sprintf("%s left the chat", identity.Nickname)
		_, _, _ = c.registry.Append(channelID, "system", "system", notice, wire.MessageKindSystem, "", func(msg wire.Message, members []string) {
			c.fanout(channelID, members, msg)
		})
	}

	c.presence.Leave(identity.ID)
}

func (c *core) handlePresenceEnter(wsc *wsConn, frame wire.Frame) {
	var payload wire.PresenceEnter
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid presence payload")
		return
	}

	identityID := strings.TrimSpace(payload.ID)
	if strings.Contains(identityID, ":") {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "identity id must not contain ':'")
		return
	}
	if utf8.RuneCountInString(identityID) > maxIdentityIDRunes {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "identity id must be at most 128 characters")
		return
	}

	nickname := strings.TrimSpace(payload.Nickname)
	if nickname == "" {
		nickname = defaultNickname
	}
	if utf8.RuneCountInString(nickname) > maxNicknameRunes {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "nickname must be at most 64 characters")
		return
	}

	if current, entered := wsc.session.currentIdentity(); entered {
		if identityID != "" && identityID != current.ID {
			_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "session identity is already established")
			return
		}
		identityID = current.ID
	} else if identityID == "" {
		minted, err := platformid.NewID()
		if err != nil {
			log.Printf("connect: mint identity id: %v", err)
			_ = writeWSError(wsc.peer, frame.RequestID, "UNAVAILABLE", "could not assign identity")
			return
		}
		identityID = minted
	}

	identity := wire.Identity{ID: identityID, Nickname: nickname}
	wsc.session.enter(identity)
	c.conns.register(identityID, wsc)
	c.presence.Enter(identity)

	_ = wsc.peer.writeFrame(wire.Frame{
		Type:      wire.TypePresenceList,
		RequestID: frame.RequestID,
		Payload: mustJSON(wire.PresenceList{
			Self:       identity,
			Identities: c.presence.List(identityID),
		}),
	})
}

func (c *core) handleJoinChannel(wsc *wsConn, identity wire.Identity, frame wire.Frame) {
	var payload wire.JoinChannel
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid join payload")
		return
	}

	channelID := strings.TrimSpace(payload.ChannelID)
	if channelID == "" {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "channel_id is required")
		return
	}
	if wire.IsPairChannelID(channelID) {
		left, right, ok := wire.PairParticipants(channelID)
		if !ok || (identity.ID != left && identity.ID != right) {
			_ = writeWSError(wsc.peer, frame.RequestID, "FORBIDDEN", "pair channel belongs to other participants")
			return
		}
	}

	joined, err := c.registry.Join(channelID, identity.ID, wire.KindDirectedPair)
	if err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_FOUND", "channel does not exist")
		return
	}
	wsc.session.trackChannel(channelID)

	_ = wsc.peer.writeFrame(wire.Frame{
		Type:      wire.TypeJoined,
		RequestID: frame.RequestID,
		Payload:   mustJSON(joined),
	})

	if joined.Kind == wire.KindBroadcastGroup {
		// Transient welcome for the joiner only; not appended to the log so
		// replays stay byte-for-byte stable across rejoins.
		latest := int64(0)
		if len(joined.Log) > 0 {
			latest = joined.Log[len(joined.Log)-1].Sequence
		}
		_ = wsc.peer.writeFrame(wire.Frame{
			Type: wire.TypeMessage,
			Payload: mustJSON(wire.MessageEvent{
				ChannelID: channelID,
				Message: wire.Message{
					ID:         fmt.Sprintf("sys_%d", time.Now().UnixNano()),
					ChannelID:  channelID,
					SenderID:   "system",
					SenderName: "system",
					Body:       fmt.Sprintf("Welcome %s. You've joined %s.", identity.Nickname, joined.Name),
					Kind:       wire.MessageKindSystem,
					Sequence:   latest,
					SentAt:     time.Now().UTC().Format(time.RFC3339),
				},
			}),
		})
	}
}

func (c *core) handleSendMessage(wsc *wsConn, identity wire.Identity, frame wire.Frame) {
	var payload wire.SendMessage
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid send payload")
		return
	}

	channelID := strings.TrimSpace(payload.ChannelID)
	if channelID == "" {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "channel_id is required")
		return
	}
	body := strings.TrimSpace(payload.Body)
	if body == "" {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "body is required")
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "body must be at most 2000 characters")
		return
	}
	clientMessageID := strings.TrimSpace(payload.ClientMessageID)
	if utf8.RuneCountInString(clientMessageID) > maxClientMessageIDRunes {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "client_message_id must be at most 128 characters")
		return
	}

	msg, duplicate, err := c.registry.Append(channelID, identity.ID, identity.Nickname, body, wire.MessageKindText, clientMessageID, func(msg wire.Message, members []string) {
		c.fanout(channelID, members, msg)
	})
	if err != nil {
		if errors.Is(err, errNotChannelMember) {
			_ = writeWSError(wsc.peer, frame.RequestID, "FORBIDDEN", "must join channel before sending")
			return
		}
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_FOUND", "channel does not exist")
		return
	}

	if duplicate {
		// Retried submission; the members already saw the original, only the
		// sender needs the echo again.
		_ = wsc.peer.writeFrame(wire.Frame{
			Type:      wire.TypeMessage,
			RequestID: frame.RequestID,
			Payload:   mustJSON(wire.MessageEvent{ChannelID: channelID, Message: msg}),
		})
	}
}

// fanout enqueues one appended message for every member currently holding an
// open connection, the sender included; its client resolves the echo. Called
// under the channel lock so per-peer delivery order matches sequence order.
func (c *core) fanout(channelID string, members []string, msg wire.Message) {
	frame := wire.Frame{
		Type:    wire.TypeMessage,
		Payload: mustJSON(wire.MessageEvent{ChannelID: channelID, Message: msg}),
	}
	for _, memberID := range members {
		if member := c.conns.get(memberID); member != nil {
			_ = member.peer.writeFrame(frame)
		}
	}
}

func (c *core) handleLeaveChannel(wsc *wsConn, identity wire.Identity, frame wire.Frame) {
	var payload wire.LeaveChannel
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid leave payload")
		return
	}
	channelID := strings.TrimSpace(payload.ChannelID)
	if channelID == "" {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "channel_id is required")
		return
	}
	c.registry.Leave(channelID, identity.ID)
	wsc.session.untrackChannel(channelID)
}

func (c *core) handleRequestPair(wsc *wsConn, identity wire.Identity, frame wire.Frame) {
	for {
		partner, paired := c.matchmaker.RequestPair(identity)
		if !paired {
			_ = wsc.peer.writeFrame(wire.Frame{
				Type:      wire.TypeWaiting,
				RequestID: frame.RequestID,
			})
			return
		}

		partnerConn := c.conns.get(partner.ID)
		if partnerConn == nil {
			// The waiter vanished between enqueue and match; try again.
			continue
		}

		channelID := wire.PairChannelID(identity.ID, partner.ID)
		if _, err := c.registry.Join(channelID, identity.ID, wire.KindAnonymousPair); err != nil {
			_ = writeWSError(wsc.peer, frame.RequestID, "UNAVAILABLE", "could not open pair channel")
			return
		}
		if _, err := c.registry.Join(channelID, partner.ID, wire.KindAnonymousPair); err != nil {
			_ = writeWSError(wsc.peer, frame.RequestID, "UNAVAILABLE", "could not open pair channel")
			return
		}
		wsc.session.trackChannel(channelID)
		partnerConn.session.trackChannel(channelID)

		_ = wsc.peer.writeFrame(wire.Frame{
			Type:      wire.TypePaired,
			RequestID: frame.RequestID,
			Payload:   mustJSON(wire.Paired{ChannelID: channelID, Partner: partner}),
		})
		_ = partnerConn.peer.writeFrame(wire.Frame{
			Type:    wire.TypePaired,
			Payload: mustJSON(wire.Paired{ChannelID: channelID, Partner: identity}),
		})
		return
	}
}

func (c *core) handleConnectToPeer(wsc *wsConn, identity wire.Identity, frame wire.Frame) {
	var payload wire.ConnectToPeer
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid connect payload")
		return
	}

	peerID := strings.TrimSpace(payload.PeerID)
	if peerID == "" {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "peer_id is required")
		return
	}
	if peerID == identity.ID {
		_ = writeWSError(wsc.peer, frame.RequestID, "INVALID_ARGUMENT", "cannot open a chat with yourself")
		return
	}
	if _, online := c.presence.Get(peerID); !online {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_FOUND", "peer is not online")
		return
	}

	channelID := wire.PairChannelID(identity.ID, peerID)
	joined, err := c.registry.Join(channelID, identity.ID, wire.KindDirectedPair)
	if err != nil {
		_ = writeWSError(wsc.peer, frame.RequestID, "UNAVAILABLE", "could not open pair channel")
		return
	}
	wsc.session.trackChannel(channelID)

	_ = wsc.peer.writeFrame(wire.Frame{
		Type:      wire.TypeJoined,
		RequestID: frame.RequestID,
		Payload:   mustJSON(joined),
	})

	// Pull the peer in as well so the conversation shows up on their side
	// without a second rendezvous.
	peerJoined, err := c.registry.Join(channelID, peerID, wire.KindDirectedPair)
	if err != nil {
		return
	}
	if peerConn := c.conns.get(peerID); peerConn != nil {
		peerConn.session.trackChannel(channelID)
		_ = peerConn.peer.writeFrame(wire.Frame{
			Type:    wire.TypeJoined,
			Payload: mustJSON(peerJoined),
		})
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wire.Frame{
		Type:      wire.TypeError,
		RequestID: requestID,
		Payload: mustJSON(wire.ErrorEvent{
			Code:      code,
			Message:   message,
			Retryable: code == "UNAVAILABLE" || code == "RESOURCE_EXHAUSTED",
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("connect: marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
