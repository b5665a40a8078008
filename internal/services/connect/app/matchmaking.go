package server

import (
	"sync"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/wire"
)

// matchmaker pairs strangers. A single waiting slot under one mutex is
// enough: whichever request is processed first occupies the slot and the
// next distinct request is paired against it immediately, so two concurrent
// requesters can never both end up waiting.
type matchmaker struct {
	mu      sync.Mutex
	waiting wire.Identity
}

func newMatchmaker() *matchmaker {
	return &matchmaker{}
}

// RequestPair either occupies the wait slot (paired=false) or clears it and
// returns the waiting partner (paired=true). A repeat request from the
// current waiter stays waiting.
func (m *matchmaker) RequestPair(identity wire.Identity) (wire.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting.ID == "" || m.waiting.ID == identity.ID {
		m.waiting = identity
		return wire.Identity{}, false
	}

	partner := m.waiting
	m.waiting = wire.Identity{}
	return partner, true
}

// CancelWait clears the slot only when identityID currently holds it.
func (m *matchmaker) CancelWait(identityID string) {
	m.mu.Lock()
	if m.waiting.ID == identityID {
		m.waiting = wire.Identity{}
	}
	m.mu.Unlock()
}

// WaitingID reports who currently holds the slot, if anyone.
func (m *matchmaker) WaitingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting.ID
}
