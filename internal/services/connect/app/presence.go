package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

type presenceEntry struct {
	identity wire.Identity
	lastSeen time.Time
}

// presenceDirectory is the authoritative list of who is online. Entries are
// removed on explicit leave and, as a second path, by a lastSeen timeout
// sweep; both must exist or abrupt client crashes leave ghost users behind.
type presenceDirectory struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
	ttl     time.Duration
	now     func() time.Time
}

func newPresenceDirectory(ttl time.Duration) *presenceDirectory {
	return &presenceDirectory{
		entries: make(map[string]*presenceEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Enter registers an identity; idempotent when already present (refreshes
// lastSeen and nickname).
func (d *presenceDirectory) Enter(identity wire.Identity) {
	identityID := strings.TrimSpace(identity.ID)
	if identityID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[identityID]
	if !ok {
		d.entries[identityID] = &presenceEntry{identity: identity, lastSeen: d.now()}
		return
	}
	entry.identity = identity
	entry.lastSeen = d.now()
}

// Leave removes an identity; silent when absent.
func (d *presenceDirectory) Leave(identityID string) {
	d.mu.Lock()
	delete(d.entries, identityID)
	d.mu.Unlock()
}

// Get looks up a present identity.
func (d *presenceDirectory) Get(identityID string) (wire.Identity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[identityID]
	if !ok {
		return wire.Identity{}, false
	}
	return entry.identity, true
}

// List returns every present identity except excludingID, ordered by id for
// stable listings.
func (d *presenceDirectory) List(excludingID string) []wire.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	identities := make([]wire.Identity, 0, len(d.entries))
	for identityID, entry := range d.entries {
		if identityID == excludingID {
			continue
		}
		identities = append(identities, entry.identity)
	}
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].ID < identities[j].ID
	})
	return identities
}

// sweep reaps entries whose lastSeen exceeded the TTL and returns their ids.
func (d *presenceDirectory) sweep() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.ttl)
	var reaped []string
	for identityID, entry := range d.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(d.entries, identityID)
			reaped = append(reaped, identityID)
		}
	}
	return reaped
}
