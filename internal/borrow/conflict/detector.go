// Package conflict detects borrowing-discipline violations over an
// ownership graph.
//
// Two rules are checked per owner, over logical-time intervals:
//
//   - at most one exclusive borrow may be active at a time;
//   - an exclusive borrow may not overlap any shared borrow.
//
// Overlap is strict: intervals that merely touch (one ends exactly where
// the next begins) are legal, mirroring "the borrow ends before the next
// one begins".
//
// The detector is a pure read-only analysis; it never mutates the graph and
// can be re-run after any rebuild.
package conflict

import (
	"fmt"
	"sort"

	"github.com/kolkov/borrowtrace/internal/borrow/graph"
)

// Kind classifies a detected conflict.
type Kind int

const (
	// MultipleExclusiveBorrows is two or more overlapping exclusive borrows
	// of the same owner.
	MultipleExclusiveBorrows Kind = iota
	// ExclusiveWithShared is an exclusive borrow overlapping a shared one.
	ExclusiveWithShared
)

// String returns the report name of the kind.
func (k Kind) String() string {
	switch k {
	case MultipleExclusiveBorrows:
		return "multiple-exclusive-borrows"
	case ExclusiveWithShared:
		return "exclusive-with-shared"
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its report name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", k.String())), nil
}

// UnmarshalJSON decodes a kind from its report name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"multiple-exclusive-borrows"`:
		*k = MultipleExclusiveBorrows
	case `"exclusive-with-shared"`:
		*k = ExclusiveWithShared
	default:
		return fmt.Errorf("unknown conflict kind %s", data)
	}
	return nil
}

// Conflict is one detected violation: the owner, the offending borrowers,
// and the logical-time range over which their intervals overlapped.
type Conflict struct {
	OwnerID     uint64   `json:"owner_id"`
	Kind        Kind     `json:"kind"`
	BorrowerIDs []uint64 `json:"borrower_ids"`
	Start       uint64   `json:"start"`
	End         uint64   `json:"end"`
}

// String renders the conflict for reports.
func (c Conflict) String() string {
	return fmt.Sprintf("%s on owner #%d by %v over [%d,%d)",
		c.Kind, c.OwnerID, c.BorrowerIDs, c.Start, c.End)
}

// interval is one borrow of an owner, closed at dropped-at or open to the
// end of the observed run.
type interval struct {
	borrower  uint64
	exclusive bool
	start     uint64
	end       uint64
}

// Find reports every borrow-discipline violation in the graph.
//
// Per owner the borrow-class edges are collected as [start, end) intervals,
// sorted by start, and swept once. The sweep keeps the running
// furthest-reaching active exclusive and shared intervals, so each incoming
// interval is compared against at most two predecessors: O(n log n) per
// owner, dominated by the sort. Owners are visited in ascending id order so
// the output is deterministic.
func Find(g *graph.Graph) []Conflict {
	byOwner := make(map[uint64][]interval)
	for _, e := range g.Edges {
		iv, ok := edgeInterval(g, e)
		if !ok {
			continue
		}
		byOwner[e.ToID] = append(byOwner[e.ToID], iv)
	}

	owners := make([]uint64, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	var out []Conflict
	for _, owner := range owners {
		out = append(out, sweep(owner, byOwner[owner])...)
	}
	return out
}

// edgeInterval converts a borrow-class edge to its validity interval.
// Interior borrows participate with their recorded exclusivity; other edge
// kinds do not participate at all.
func edgeInterval(g *graph.Graph, e *graph.Edge) (interval, bool) {
	var exclusive bool
	switch e.Relationship {
	case graph.RelBorrowExclusive:
		exclusive = true
	case graph.RelBorrowShared:
		exclusive = false
	case graph.RelInteriorBorrow:
		exclusive = e.Exclusive
	default:
		return interval{}, false
	}

	end := g.EndOfRun
	if e.End != nil {
		end = *e.End
	}
	return interval{
		borrower:  e.FromID,
		exclusive: exclusive,
		start:     e.Start,
		end:       end,
	}, true
}

// sweep detects overlaps among one owner's borrow intervals.
//
// Intervals arrive unsorted; after sorting by start, any interval that
// overlaps some earlier exclusive interval necessarily overlaps the earlier
// exclusive interval with the greatest end, so tracking that one suffices
// (and symmetrically for shared, checked only against exclusives).
func sweep(owner uint64, ivs []interval) []Conflict {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].start != ivs[j].start {
			return ivs[i].start < ivs[j].start
		}
		return ivs[i].end < ivs[j].end
	})

	var conflicts []Conflict
	var maxExcl, maxShared *interval

	for i := range ivs {
		iv := &ivs[i]
		if iv.exclusive {
			if maxExcl != nil && iv.start < maxExcl.end {
				conflicts = append(conflicts, overlapConflict(owner, MultipleExclusiveBorrows, maxExcl, iv))
			}
			if maxShared != nil && iv.start < maxShared.end {
				conflicts = append(conflicts, overlapConflict(owner, ExclusiveWithShared, maxShared, iv))
			}
			if maxExcl == nil || iv.end > maxExcl.end {
				maxExcl = iv
			}
		} else {
			if maxExcl != nil && iv.start < maxExcl.end {
				conflicts = append(conflicts, overlapConflict(owner, ExclusiveWithShared, maxExcl, iv))
			}
			if maxShared == nil || iv.end > maxShared.end {
				maxShared = iv
			}
		}
	}
	return conflicts
}

// overlapConflict builds the conflict for two strictly overlapping
// intervals. The reported range is the intersection.
func overlapConflict(owner uint64, kind Kind, a, b *interval) Conflict {
	start := a.start
	if b.start > start {
		start = b.start
	}
	end := a.end
	if b.end < end {
		end = b.end
	}
	return Conflict{
		OwnerID:     owner,
		Kind:        kind,
		BorrowerIDs: []uint64{a.borrower, b.borrower},
		Start:       start,
		End:         end,
	}
}
