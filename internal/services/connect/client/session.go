// Package client implements the widget-facing side of a connect websocket:
// one reusable connection session with a single reconnect policy, and the
// transcript reconciliation that keeps optimistic echoes from rendering
// twice. Every widget that needs a live channel shares this state machine
// instead of running its own timers.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

// State is the session's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosed       State = "closed"
)

// ErrNotConnected is returned by intent methods while the transport is down.
// Callers re-issue after reconnection; nothing is queued.
var ErrNotConnected = errors.New("session is not connected")

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("session is closed")

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
)

// Options configures a Session.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8086/ws.
	URL string
	// Nickname is the self-asserted display name.
	Nickname string
	// IdentityID overrides the generated session identity token.
	IdentityID string
	// Handler receives every inbound event frame, called from the reader
	// goroutine in arrival order.
	Handler func(wire.Frame)
	// OnStateChange, when set, observes every session state transition.
	OnStateChange func(State)
}

// Session owns one persistent duplex connection to the connect service and
// translates user intents into wire frames. A closed transport is re-dialed
// with exponential backoff for as long as the session is wanted; Close tears
// everything down synchronously, pending reconnect timer included.
type Session struct {
	url      string
	origin   string
	identity wire.Identity
	handler  func(wire.Frame)
	onState  func(State)

	mu             sync.Mutex
	state          State
	wantOpen       bool
	conn           *websocket.Conn
	encoder        *json.Encoder
	writeMu        sync.Mutex
	reconnectTimer *time.Timer
	retry          *backoff.ExponentialBackOff
	readers        sync.WaitGroup
}

// New validates options and prepares a session in the disconnected state.
// The identity token is generated once per session when not supplied.
func New(opts Options) (*Session, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errors.New("websocket url is required")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("websocket url must use ws or wss scheme: %q", url)
	}
	if opts.Handler == nil {
		return nil, errors.New("event handler is required")
	}

	identityID := strings.TrimSpace(opts.IdentityID)
	if identityID == "" {
		identityID = uuid.NewString()
	}
	nickname := strings.TrimSpace(opts.Nickname)
	if nickname == "" {
		nickname = "anonymous"
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = reconnectBaseDelay
	retry.MaxInterval = reconnectMaxDelay

	return &Session{
		url:      url,
		origin:   "http" + strings.TrimPrefix(url, "ws"),
		identity: wire.Identity{ID: identityID, Nickname: nickname},
		handler:  opts.Handler,
		onState:  opts.OnStateChange,
		state:    StateDisconnected,
		retry:    retry,
	}, nil
}

// Identity returns the session's identity.
func (s *Session) Identity() wire.Identity {
	return s.identity
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.onState != nil {
		// Observers must not re-enter the session under our lock.
		go s.onState(next)
	}
}

// Start dials the service. A failed first dial is handled by the reconnect
// policy, not returned; Start errors only when the session was closed.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.wantOpen {
		s.mu.Unlock()
		return nil
	}
	s.wantOpen = true
	s.mu.Unlock()

	s.connect()
	return nil
}

// connect performs one dial attempt and either installs the open transport
// or schedules the next attempt.
func (s *Session) connect() {
	s.mu.Lock()
	if !s.wantOpen {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	conn, err := websocket.Dial(s.url, "", s.origin)

	s.mu.Lock()
	if !s.wantOpen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.setStateLocked(StateDisconnected)
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.encoder = json.NewEncoder(conn)
	s.setStateLocked(StateOpen)
	s.retry.Reset()
	s.readers.Add(1)
	go s.readLoop(conn)
	s.mu.Unlock()

	// Announce identity so the server can route to us.
	_ = s.writeFrame(wire.Frame{
		Type:    wire.TypePresenceEnter,
		Payload: marshalPayload(wire.PresenceEnter{ID: s.identity.ID, Nickname: s.identity.Nickname}),
	})
}

func (s *Session) scheduleReconnectLocked() {
	if s.reconnectTimer != nil {
		return
	}
	delay := s.retry.NextBackOff()
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		wanted := s.wantOpen
		s.mu.Unlock()
		if wanted {
			s.connect()
		}
	})
}

// readLoop surfaces inbound frames to the handler until the transport
// drops, then hands control back to the reconnect policy.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.readers.Done()

	decoder := json.NewDecoder(conn)
	for {
		var frame wire.Frame
		if err := decoder.Decode(&frame); err != nil {
			break
		}
		s.handler(frame)
	}

	_ = conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		s.encoder = nil
	}
	if !s.wantOpen {
		return
	}
	s.setStateLocked(StateDisconnected)
	s.scheduleReconnectLocked()
}

// Close tears the session down immediately: the pending reconnect timer is
// cancelled, the transport closed, and the reader goroutine joined before
// returning. No background reconnect survives.
func (s *Session) Close() {
	s.mu.Lock()
	s.wantOpen = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.encoder = nil
	}
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.readers.Wait()
}

func (s *Session) writeFrame(frame wire.Frame) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	encoder := s.encoder
	s.mu.Unlock()
	if encoder == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := encoder.Encode(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

func (s *Session) sendIntent(frameType string, payload any) error {
	frame := wire.Frame{Type: frameType}
	if payload != nil {
		frame.Payload = marshalPayload(payload)
	}
	return s.writeFrame(frame)
}

// JoinChannel asks to (re)join a channel; the server replies with the full
// log so rendering after reconnect needs no gap-filling.
func (s *Session) JoinChannel(channelID string) error {
	return s.sendIntent(wire.TypeJoinChannel, wire.JoinChannel{ChannelID: channelID})
}

// SendMessage submits a message body to a joined channel. clientMessageID is
// the tag returned by Transcript.AppendLocal; the server echoes it on the
// stored message and treats resubmissions of the same tag as idempotent, so
// retries after a reconnect cannot double-post.
func (s *Session) SendMessage(channelID string, body string, clientMessageID string) error {
	return s.sendIntent(wire.TypeSendMessage, wire.SendMessage{
		ChannelID:       channelID,
		Body:            body,
		ClientMessageID: clientMessageID,
	})
}

// LeaveChannel drops membership in a channel.
func (s *Session) LeaveChannel(channelID string) error {
	return s.sendIntent(wire.TypeLeaveChannel, wire.LeaveChannel{ChannelID: channelID})
}

// RequestPair enters the anonymous matchmaking queue.
func (s *Session) RequestPair() error {
	return s.sendIntent(wire.TypeRequestPair, nil)
}

// CancelWait leaves the matchmaking queue if still unpaired.
func (s *Session) CancelWait() error {
	return s.sendIntent(wire.TypeCancelWait, nil)
}

// ConnectToPeer opens the deterministic pair channel with a known peer and
// returns its id, which both sides compute identically.
func (s *Session) ConnectToPeer(peerID string) (string, error) {
	if err := s.sendIntent(wire.TypeConnectToPeer, wire.ConnectToPeer{PeerID: peerID}); err != nil {
		return "", err
	}
	return wire.PairChannelID(s.identity.ID, peerID), nil
}

func marshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
