package server

import (
	"testing"
	"time"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

func TestPresenceListExcludesCaller(t *testing.T) {
	directory := newPresenceDirectory(time.Minute)
	directory.Enter(wire.Identity{ID: "carol", Nickname: "carol"})
	directory.Enter(wire.Identity{ID: "alice", Nickname: "alice"})
	directory.Enter(wire.Identity{ID: "bob", Nickname: "bob"})

	list := directory.List("carol")
	if len(list) != 2 || list[0].ID != "alice" || list[1].ID != "bob" {
		t.Fatalf("List(carol) = %v, want [alice bob]", list)
	}

	// An id that never entered sees everyone.
	if list := directory.List("stranger"); len(list) != 3 {
		t.Fatalf("List(stranger) has %d entries, want 3", len(list))
	}
}

func TestPresenceEnterIdempotent(t *testing.T) {
	directory := newPresenceDirectory(time.Minute)
	directory.Enter(wire.Identity{ID: "alice", Nickname: "alice"})
	directory.Enter(wire.Identity{ID: "alice", Nickname: "ada"})

	identity, ok := directory.Get("alice")
	if !ok {
		t.Fatal("alice should be present")
	}
	if identity.Nickname != "ada" {
		t.Fatalf("nickname = %q, want refreshed ada", identity.Nickname)
	}
	if list := directory.List(""); len(list) != 1 {
		t.Fatalf("directory has %d entries, want 1", len(list))
	}
}

func TestPresenceLeaveSilentWhenAbsent(t *testing.T) {
	directory := newPresenceDirectory(time.Minute)
	directory.Leave("ghost")
	if _, ok := directory.Get("ghost"); ok {
		t.Fatal("ghost should not be present")
	}
}

func TestPresenceSweepReapsStale(t *testing.T) {
	directory := newPresenceDirectory(90 * time.Second)
	current := time.Unix(1000, 0)
	directory.now = func() time.Time { return current }

	directory.Enter(wire.Identity{ID: "alice", Nickname: "alice"})
	directory.Enter(wire.Identity{ID: "bob", Nickname: "bob"})

	current = current.Add(60 * time.Second)
	directory.Enter(wire.Identity{ID: "bob", Nickname: "bob"})

	current = current.Add(45 * time.Second)
	reaped := directory.sweep()
	if len(reaped) != 1 || reaped[0] != "alice" {
		t.Fatalf("sweep reaped %v, want [alice]", reaped)
	}
	if _, ok := directory.Get("alice"); ok {
		t.Fatal("alice should be reaped")
	}
	if _, ok := directory.Get("bob"); !ok {
		t.Fatal("bob re-entered and should survive")
	}

	if reaped := directory.sweep(); len(reaped) != 0 {
		t.Fatalf("second sweep reaped %v, want none", reaped)
	}
}
