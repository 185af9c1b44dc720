package tokenring

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNotInRing is returned when an address is not a ring member.
	ErrNotInRing = errors.New("address not in ring")

	// ErrSelfNotInRing is returned when the local address is missing from the startup ring.
	ErrSelfNotInRing = errors.New("own address must be a ring member")

	// ErrDuplicateMember is returned when the startup ring lists an address twice.
	ErrDuplicateMember = errors.New("ring members must be unique")
)

// Ring is this node's ordered view of the ring membership.
// Insertion order is ring order. The local address is always a member.
type Ring struct {
	mu      sync.RWMutex
	self    NodeAddress
	members []NodeAddress
}

// Position is a node's place in the ring, derived from the current membership.
// It is invalidated by the next mutation.
type Position struct {
	Index       int
	Size        int
	Predecessor NodeAddress
	Successor   NodeAddress
}

// NewRing creates the ring view for self from the startup member list.
func NewRing(self NodeAddress, members []NodeAddress) (*Ring, error) {
	var seen = make(map[NodeAddress]bool, len(members))
	for _, m := range members {
		if seen[m] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, m)
		}
		seen[m] = true
	}
	if !seen[self] {
		return nil, fmt.Errorf("%w: %s", ErrSelfNotInRing, self)
	}

	return &Ring{
		self:    self,
		members: append([]NodeAddress(nil), members...),
	}, nil
}

// Self returns the local address.
func (r *Ring) Self() NodeAddress {
	return r.self
}

// Size returns the number of members.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a copy of the membership in ring order.
func (r *Ring) Members() []NodeAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]NodeAddress(nil), r.members...)
}

// Contains reports whether addr is a member.
func (r *Ring) Contains(addr NodeAddress) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOf(addr) >= 0
}

// IndexOf returns the position of addr in the ring.
func (r *Ring) IndexOf(addr NodeAddress) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idx = r.indexOf(addr)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNotInRing, addr)
	}
	return idx, nil
}

// Position returns the local node's index, predecessor and successor.
func (r *Ring) Position() Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position()
}

// Successor returns the next member after the local node.
func (r *Ring) Successor() NodeAddress {
	return r.Position().Successor
}

// Predecessor returns the member before the local node.
func (r *Ring) Predecessor() NodeAddress {
	return r.Position().Predecessor
}

// Remove drops addr if present and returns the recomputed local position.
// Removing the local address re-adds it at the end.
func (r *Ring) Remove(addr NodeAddress) Position {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.indexOf(addr); idx >= 0 {
		r.members = append(r.members[:idx], r.members[idx+1:]...)
	}
	r.heal()
	return r.position()
}

// Add appends addr if absent and returns the recomputed local position.
func (r *Ring) Add(addr NodeAddress) Position {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(addr) < 0 {
		r.members = append(r.members, addr)
	}
	r.heal()
	return r.position()
}

// heal re-adds the local address if a mutation dropped it.
// Must be called with lock held.
func (r *Ring) heal() {
	if r.indexOf(r.self) < 0 {
		r.members = append(r.members, r.self)
	}
}

// indexOf must be called with lock held.
func (r *Ring) indexOf(addr NodeAddress) int {
	for i, m := range r.members {
		if m == addr {
			return i
		}
	}
	return -1
}

// position must be called with lock held, after heal.
func (r *Ring) position() Position {
	var (
		n   = len(r.members)
		idx = r.indexOf(r.self)
	)
	return Position{
		Index:       idx,
		Size:        n,
		Predecessor: r.members[(idx-1+n)%n],
		Successor:   r.members[(idx+1)%n],
	}
}

// String returns a visual representation of the ring state.
func (r *Ring) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		b   strings.Builder
		pos = r.position()
	)

	b.WriteString(fmt.Sprintf("Ring (Node: %s)\n", r.self))
	b.WriteString(fmt.Sprintf("Size: %d | Index: %d | Predecessor: %s | Successor: %s\n",
		pos.Size, pos.Index, pos.Predecessor, pos.Successor))

	b.WriteString("\nRing Order:\n")
	b.WriteString("┌─────────────────────────────────────────────┐\n")
	for i, m := range r.members {
		var marker = " "
		if m == r.self {
			marker = "●"
		}
		b.WriteString(fmt.Sprintf("│ %s %-3d %-25s slot:%d\n", marker, i, m, i+1))
	}
	b.WriteString("└─────────────────────────────────────────────┘\n")

	return b.String()
}
