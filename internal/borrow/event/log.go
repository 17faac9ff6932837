package event

import (
	"sync"
	"sync/atomic"
)

// Log is the shared, append-only event sequence for one tracked run.
//
// Record calls are safe from multiple goroutines. Timestamp assignment is a
// single fetch-and-increment on an atomic counter, which establishes a total
// order across all events regardless of the producing goroutine. The append
// itself is a short, bounded critical section; no Record call ever triggers
// another Record call while holding the lock.
//
// Site indirection:
//
// The source transformer emits static site ids, one per binding or borrow
// site in the rewritten source. A site can execute many times (loop bodies,
// repeated calls), but event ids must be unique for the run, so the log
// allocates a fresh runtime id for every creation-class record and keeps a
// site -> latest-runtime-id table. Borrow, move and drop records carry site
// ids and are resolved against that table at record time. A site that has
// not executed yet resolves to id 0, the "unresolved" placeholder the graph
// builder understands.
type Log struct {
	clock atomic.Uint64
	ids   atomic.Uint64

	mu     sync.Mutex
	events []Event
	sites  map[uint64]uint64 // site id -> latest runtime id
}

// NewLog creates an empty event log.
//
// The first allocated runtime id is 1; id 0 is reserved for unresolved
// references. The first timestamp is 1 as well, so a zero Time always means
// "never observed".
func NewLog() *Log {
	return &Log{sites: make(map[uint64]uint64)}
}

// tick returns the next logical timestamp.
func (l *Log) tick() uint64 {
	return l.clock.Add(1)
}

// nextID allocates a fresh runtime id. Ids are monotone and never reused.
func (l *Log) nextID() uint64 {
	return l.ids.Add(1)
}

// RecordNew records a variable creation at the given site and returns the
// runtime id allocated for this incarnation of the site.
func (l *Log) RecordNew(site uint64, name, typeName, loc string, depth int) uint64 {
	id := l.nextID()
	l.mu.Lock()
	l.sites[site] = id
	l.events = append(l.events, Event{
		Time:       l.tick(),
		Kind:       KindNew,
		ID:         id,
		Name:       name,
		TypeName:   typeName,
		ScopeDepth: depth,
		Loc:        loc,
	})
	l.mu.Unlock()
	return id
}

// RecordBorrow records a reference being formed against the owner site.
// The borrow itself is a trackable binding that can in turn be borrowed
// or dropped, so it gets a fresh runtime id like any creation.
//
// Two events are appended under one critical section: a creation for the
// borrow binding (carrying its name and declared type, empty for borrows
// taken in expression position), then the borrow edge against the owner.
func (l *Log) RecordBorrow(site, ownerSite uint64, exclusive bool, name, typeName, loc string, depth int) uint64 {
	id := l.nextID()
	l.mu.Lock()
	owner := l.sites[ownerSite] // 0 when the owner site never executed
	l.sites[site] = id
	l.events = append(l.events,
		Event{
			Time:       l.tick(),
			Kind:       KindNew,
			ID:         id,
			Name:       name,
			TypeName:   typeName,
			ScopeDepth: depth,
			Loc:        loc,
		},
		Event{
			Time:      l.tick(),
			Kind:      KindBorrow,
			ID:        id,
			OwnerID:   owner,
			Exclusive: exclusive,
			Loc:       loc,
		})
	l.mu.Unlock()
	return id
}

// RecordMove records an ownership transfer into the destination site.
//
// Two events are appended under one critical section: a creation for the
// destination binding, then the move edge from the destination to the source.
// The source binding is not terminated here; only its Drop event, emitted at
// its own scope exit, ends it.
func (l *Log) RecordMove(site, fromSite uint64, name, typeName, loc string, depth int) uint64 {
	id := l.nextID()
	l.mu.Lock()
	from := l.sites[fromSite]
	l.sites[site] = id
	l.events = append(l.events,
		Event{
			Time:       l.tick(),
			Kind:       KindNew,
			ID:         id,
			Name:       name,
			TypeName:   typeName,
			ScopeDepth: depth,
			Loc:        loc,
		},
		Event{
			Time:    l.tick(),
			Kind:    KindMove,
			ID:      id,
			OwnerID: from,
			Loc:     loc,
		})
	l.mu.Unlock()
	return id
}

// RecordDrop records the current incarnation of a site going out of scope.
//
// A drop for a site that never executed is silently skipped: the transformer
// only schedules drops for sites it created, so the site table can miss an
// entry only when the creating statement was never reached on this control
// path (for example a binding after an early return).
func (l *Log) RecordDrop(site uint64, loc string) {
	l.mu.Lock()
	id, ok := l.sites[site]
	if ok {
		delete(l.sites, site)
		l.events = append(l.events, Event{
			Time: l.tick(),
			Kind: KindDrop,
			ID:   id,
			Loc:  loc,
		})
	}
	l.mu.Unlock()
}

// RecordRcClone records a reference-counted handle being cloned from the
// owner site. The resulting count is stored, never interpreted.
func (l *Log) RecordRcClone(site, ownerSite uint64, count int, name, loc string) uint64 {
	id := l.nextID()
	l.mu.Lock()
	owner := l.sites[ownerSite]
	l.sites[site] = id
	l.events = append(l.events, Event{
		Time:    l.tick(),
		Kind:    KindRcClone,
		ID:      id,
		OwnerID: owner,
		Name:    name,
		Count:   count,
		Loc:     loc,
	})
	l.mu.Unlock()
	return id
}

// RecordCellBorrow records a runtime-checked interior-mutability borrow
// against the owner site.
func (l *Log) RecordCellBorrow(site, ownerSite uint64, exclusive bool, loc string) uint64 {
	id := l.nextID()
	l.mu.Lock()
	owner := l.sites[ownerSite]
	l.sites[site] = id
	l.events = append(l.events, Event{
		Time:      l.tick(),
		Kind:      KindCellBorrow,
		ID:        id,
		OwnerID:   owner,
		Exclusive: exclusive,
		Loc:       loc,
	})
	l.mu.Unlock()
	return id
}

// Snapshot returns a consistent, immutable copy of the event sequence so
// far congruent with timestamp order. Safe to call while records are in
// flight; events recorded after the snapshot is taken are not included.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	l.mu.Unlock()
	return out
}

// Len reports the number of events recorded so far.
func (l *Log) Len() int {
	l.mu.Lock()
	n := len(l.events)
	l.mu.Unlock()
	return n
}

// Reset clears all state for test isolation.
//
// Not safe to call concurrently with in-flight Record calls; callers must
// quiesce the instrumented code first.
func (l *Log) Reset() {
	l.mu.Lock()
	l.events = nil
	l.sites = make(map[uint64]uint64)
	l.mu.Unlock()
	l.clock.Store(0)
	l.ids.Store(0)
}
