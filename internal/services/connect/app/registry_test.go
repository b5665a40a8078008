package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/catalog"
	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

func seededRegistry(t *testing.T) *channelRegistry {
	t.Helper()
	registry := newChannelRegistry()
	registry.Seed([]catalog.Group{
		{ID: "wellness", Name: "Wellness Check-ins"},
		{ID: "recovery", Name: "Recovery Stories"},
	})
	return registry
}

func TestJoinSeededGroupReplaysLog(t *testing.T) {
	registry := seededRegistry(t)

	if _, _, err := registry.Append("wellness", "alice", "alice", "ignored", wire.MessageKindText, "", nil); !errors.Is(err, errNotChannelMember) {
		t.Fatalf("append before join = %v, want errNotChannelMember", err)
	}

	joined, err := registry.Join("wellness", "alice", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.Kind != wire.KindBroadcastGroup || joined.Name != "Wellness Check-ins" {
		t.Fatalf("joined = %+v, want seeded broadcast group", joined)
	}
	if len(joined.Log) != 0 {
		t.Fatalf("fresh group log has %d entries, want 0", len(joined.Log))
	}

	if _, _, err := registry.Append("wellness", "alice", "alice", "hello", wire.MessageKindText, "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rejoined, err := registry.Join("wellness", "bob", "")
	if err != nil {
		t.Fatalf("Join as bob: %v", err)
	}
	if len(rejoined.Log) != 1 || rejoined.Log[0].Body != "hello" {
		t.Fatalf("log after append = %+v, want single hello", rejoined.Log)
	}
	if got := rejoined.Members; len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("members = %v, want [alice bob]", got)
	}
}

func TestJoinUnknownChannel(t *testing.T) {
	registry := seededRegistry(t)
	if _, err := registry.Join("symptom-db", "alice", ""); !errors.Is(err, errChannelNotFound) {
		t.Fatalf("join unseeded group = %v, want errChannelNotFound", err)
	}
}

func TestPairChannelCreatedOnDemand(t *testing.T) {
	registry := seededRegistry(t)
	channelID := wire.PairChannelID("alice", "bob")

	joined, err := registry.Join(channelID, "alice", wire.KindDirectedPair)
	if err != nil {
		t.Fatalf("Join pair channel: %v", err)
	}
	if joined.Kind != wire.KindDirectedPair {
		t.Fatalf("pair channel kind = %q, want %q", joined.Kind, wire.KindDirectedPair)
	}

	// Both orderings resolve to the same channel.
	if _, err := registry.Join(wire.PairChannelID("bob", "alice"), "bob", wire.KindDirectedPair); err != nil {
		t.Fatalf("Join pair channel reversed: %v", err)
	}
	if members := registry.MemberIDs(channelID); len(members) != 2 {
		t.Fatalf("pair members = %v, want both participants", members)
	}
}

func TestSequenceTotalOrderUnderConcurrency(t *testing.T) {
	registry := seededRegistry(t)
	const senders = 8
	const perSender = 25

	ids := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7"}
	for _, identityID := range ids {
		if _, err := registry.Join("wellness", identityID, ""); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, identityID := range ids {
		wg.Add(1)
		go func(identityID string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, _, err := registry.Append("wellness", identityID, identityID, "ping", wire.MessageKindText, "", nil); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(identityID)
	}
	wg.Wait()

	snapshot, err := registry.Snapshot("wellness")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Log) != senders*perSender {
		t.Fatalf("log has %d entries, want %d", len(snapshot.Log), senders*perSender)
	}
	for i, msg := range snapshot.Log {
		if want := int64(i + 1); msg.Sequence != want {
			t.Fatalf("log[%d].Sequence = %d, want %d", i, msg.Sequence, want)
		}
	}
}

func TestAppendResubmissionIsIdempotent(t *testing.T) {
	registry := seededRegistry(t)
	if _, err := registry.Join("wellness", "alice", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	deliveries := 0
	deliver := func(wire.Message, []string) { deliveries++ }

	first, duplicate, err := registry.Append("wellness", "alice", "alice", "only once", wire.MessageKindText, "cmid-1", deliver)
	if err != nil || duplicate {
		t.Fatalf("first append = (dup=%v, err=%v), want fresh", duplicate, err)
	}
	if first.ClientMessageID != "cmid-1" {
		t.Fatalf("stored client id = %q, want cmid-1", first.ClientMessageID)
	}

	second, duplicate, err := registry.Append("wellness", "alice", "alice", "only once", wire.MessageKindText, "cmid-1", deliver)
	if err != nil || !duplicate {
		t.Fatalf("resubmission = (dup=%v, err=%v), want duplicate", duplicate, err)
	}
	if second.ID != first.ID || second.Sequence != first.Sequence {
		t.Fatalf("resubmission returned %+v, want stored %+v", second, first)
	}
	if deliveries != 1 {
		t.Fatalf("deliver ran %d times, want once", deliveries)
	}

	// Another member reusing the same tag is a distinct message.
	if _, err := registry.Join("wellness", "bob", ""); err != nil {
		t.Fatalf("Join as bob: %v", err)
	}
	third, duplicate, err := registry.Append("wellness", "bob", "bob", "only once", wire.MessageKindText, "cmid-1", nil)
	if err != nil || duplicate {
		t.Fatalf("other sender append = (dup=%v, err=%v), want fresh", duplicate, err)
	}
	if third.ID == first.ID {
		t.Fatal("different senders must not share stored messages")
	}

	snapshot, err := registry.Snapshot("wellness")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Log) != 2 {
		t.Fatalf("log has %d entries, want 2", len(snapshot.Log))
	}
}

func TestRetentionDropsOldest(t *testing.T) {
	registry := seededRegistry(t)
	if _, err := registry.Join("wellness", "alice", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	const total = maxChannelMessages + 20
	for i := 0; i < total; i++ {
		if _, _, err := registry.Append("wellness", "alice", "alice", "tick", wire.MessageKindText, "", nil); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	snapshot, err := registry.Snapshot("wellness")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Log) != maxChannelMessages {
		t.Fatalf("retained %d messages, want %d", len(snapshot.Log), maxChannelMessages)
	}
	if got := snapshot.Log[0].Sequence; got != 21 {
		t.Fatalf("oldest retained sequence = %d, want 21", got)
	}
	if got := snapshot.Log[len(snapshot.Log)-1].Sequence; got != total {
		t.Fatalf("newest retained sequence = %d, want %d", got, total)
	}
}

func TestLeaveKeepsHistory(t *testing.T) {
	registry := seededRegistry(t)
	if _, err := registry.Join("wellness", "alice", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := registry.Append("wellness", "alice", "alice", "I was here", wire.MessageKindText, "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	registry.Leave("wellness", "alice")

	if _, _, err := registry.Append("wellness", "alice", "alice", "after leave", wire.MessageKindText, "", nil); !errors.Is(err, errNotChannelMember) {
		t.Fatalf("append after leave = %v, want errNotChannelMember", err)
	}

	snapshot, err := registry.Snapshot("wellness")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Log) != 1 || snapshot.Log[0].Body != "I was here" {
		t.Fatalf("log after leave = %+v, want history preserved", snapshot.Log)
	}
	if len(snapshot.Members) != 0 {
		t.Fatalf("members after leave = %v, want empty", snapshot.Members)
	}
}
