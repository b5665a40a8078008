package client

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

// Transcript is the render model for one channel. It reconciles three input
// streams into a single ordered view: optimistic local echoes appended before
// the server confirms them, pushed message events, and full log replays from
// join responses or the poll fallback. A message is identified by its server
// id, so the same message arriving over both push and poll renders once.
type Transcript struct {
	mu        sync.Mutex
	selfID    string
	confirmed []wire.Message
	pending   []pendingEntry
	seen      map[string]struct{}
}

type pendingEntry struct {
	clientMessageID string
	body            string
}

// NewTranscript creates an empty transcript for the given sender identity.
func NewTranscript(selfID string) *Transcript {
	return &Transcript{
		selfID: selfID,
		seen:   make(map[string]struct{}),
	}
}

// AppendLocal records an optimistic echo for a message the user just sent
// and returns the client message id that must accompany the send intent.
// The echo stays pending until a push or replay carries the same id back.
func (t *Transcript) AppendLocal(body string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	clientMessageID := uuid.NewString()
	t.pending = append(t.pending, pendingEntry{clientMessageID: clientMessageID, body: body})
	return clientMessageID
}

// ApplyPush folds one pushed message event into the transcript. The server
// echoes sent messages back to the sender with the submitted client message
// id, which resolves the matching pending echo instead of appending a second
// bubble. Returns false when the message was already rendered.
func (t *Transcript) ApplyPush(msg wire.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[msg.ID]; dup {
		return false
	}
	t.seen[msg.ID] = struct{}{}

	if msg.SenderID == t.selfID {
		t.resolvePendingLocked(msg.ClientMessageID)
	}
	t.confirmed = append(t.confirmed, msg)
	sortBySequence(t.confirmed)
	return true
}

// ApplyReplay replaces the confirmed view with a full log replay, as
// delivered by a join response after reconnect. Pending echoes whose client
// message id appears in the replay were accepted before the disconnect and
// resolve here; the rest stay pending for a retry.
func (t *Transcript) ApplyReplay(log []wire.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.confirmed = t.confirmed[:0]
	t.seen = make(map[string]struct{}, len(log))
	replayed := make(map[string]struct{})
	for _, msg := range log {
		if _, dup := t.seen[msg.ID]; dup {
			continue
		}
		t.seen[msg.ID] = struct{}{}
		t.confirmed = append(t.confirmed, msg)
		if msg.SenderID == t.selfID && msg.ClientMessageID != "" {
			replayed[msg.ClientMessageID] = struct{}{}
		}
	}
	sortBySequence(t.confirmed)

	kept := t.pending[:0]
	for _, entry := range t.pending {
		if _, accepted := replayed[entry.clientMessageID]; !accepted {
			kept = append(kept, entry)
		}
	}
	t.pending = kept
}

// resolvePendingLocked removes the pending echo matching clientMessageID.
// An empty id falls back to the oldest pending entry, for servers or tabs
// that do not tag messages.
func (t *Transcript) resolvePendingLocked(clientMessageID string) {
	if len(t.pending) == 0 {
		return
	}
	if clientMessageID == "" {
		t.pending = t.pending[1:]
		return
	}
	for i, entry := range t.pending {
		if entry.clientMessageID == clientMessageID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// Messages returns the confirmed messages in render order.
func (t *Transcript) Messages() []wire.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]wire.Message, len(t.confirmed))
	copy(out, t.confirmed)
	return out
}

// PendingBodies returns the bodies of optimistic echoes not yet confirmed,
// rendered after the confirmed messages.
func (t *Transcript) PendingBodies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.pending))
	for i, p := range t.pending {
		out[i] = p.body
	}
	return out
}

func sortBySequence(msgs []wire.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Sequence < msgs[j].Sequence
	})
}
