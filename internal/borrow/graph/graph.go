// Package graph builds the ownership graph from a recorded event sequence.
//
// Nodes are variables, edges are the relationships between them (borrows,
// moves, reference-count clones, interior borrows), each annotated with the
// logical-time interval over which it was valid. Building is a pure forward
// pass over the events; the same sequence always produces a structurally
// equal graph.
package graph

import "fmt"

// UnresolvedID is the synthetic node id used when an edge endpoint could not
// be resolved at record time. These edges are kept rather than dropped so
// the information survives into the report.
const UnresolvedID uint64 = 0

// Relationship tags a graph edge.
type Relationship string

const (
	// RelBorrowShared is a read-only reference to the owner.
	RelBorrowShared Relationship = "borrows-shared"
	// RelBorrowExclusive is a sole-write-access reference to the owner.
	RelBorrowExclusive Relationship = "borrows-exclusive"
	// RelMovedFrom links a binding to the binding its value moved out of.
	RelMovedFrom Relationship = "moved-from"
	// RelRcClone links a reference-counted clone to its owner.
	RelRcClone Relationship = "ref-count-clone"
	// RelInteriorBorrow is a runtime-checked interior-mutability borrow.
	RelInteriorBorrow Relationship = "interior-borrow"
)

// Variable is a graph node: one tracked binding.
//
// DroppedAt is nil while the binding is alive; a node still missing it when
// the run ends was alive at the end of the observed run.
type Variable struct {
	ID         uint64  `json:"id"`
	Name       string  `json:"name"`
	TypeName   string  `json:"type"`
	CreatedAt  uint64  `json:"created_at"`
	DroppedAt  *uint64 `json:"dropped_at,omitempty"`
	ScopeDepth int     `json:"scope_depth"`
}

// Alive reports whether the variable was still live at the end of the run.
func (v *Variable) Alive() bool {
	return v.DroppedAt == nil
}

// Edge is a directed relationship from a borrower/mover to its owner/source.
//
// Start is the timestamp the relationship was formed. For borrow-class edges
// End is set once the borrower is dropped; a nil End means the borrow was
// still open when the run ended. Exclusive is meaningful for borrow-class
// edges, Count for ref-count-clone edges.
type Edge struct {
	FromID       uint64       `json:"from_id"`
	ToID         uint64       `json:"to_id"`
	Relationship Relationship `json:"relationship"`
	Start        uint64       `json:"start"`
	End          *uint64      `json:"end,omitempty"`
	Exclusive    bool         `json:"exclusive,omitempty"`
	Count        int          `json:"count,omitempty"`
}

// borrowClass reports whether the edge participates in borrow-discipline
// conflict analysis.
func (e *Edge) borrowClass() bool {
	switch e.Relationship {
	case RelBorrowShared, RelBorrowExclusive, RelInteriorBorrow:
		return true
	}
	return false
}

// Graph is the ownership graph for one observed run.
type Graph struct {
	Nodes map[uint64]*Variable
	Edges []*Edge

	// EndOfRun is one past the largest observed timestamp. Open borrow
	// intervals extend to it for overlap analysis.
	EndOfRun uint64

	// UnresolvedReferences counts edges whose endpoint degraded to the
	// synthetic unresolved node. Reported as a warning, never an error.
	UnresolvedReferences int
}

// Node returns the variable with the given id, or nil.
func (g *Graph) Node(id uint64) *Variable {
	return g.Nodes[id]
}

// BorrowEdgesInto returns the borrow-class edges whose owner is the given
// node, in build order.
func (g *Graph) BorrowEdgesInto(owner uint64) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.ToID == owner && e.borrowClass() {
			out = append(out, e)
		}
	}
	return out
}

// ProtocolViolation reports an event-ordering fact the event log's
// invariants should have made impossible: a second Drop for an id, or a
// Drop for an id that was never created. It always indicates a bug in the
// instrumentation itself, never in the traced program, so graph building
// aborts and the violation is reported verbatim.
type ProtocolViolation struct {
	Time uint64
	ID   uint64
	Msg  string
}

// Error implements the error interface.
func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation at t%d (id %d): %s", e.Time, e.ID, e.Msg)
}

// unresolvedNode lazily materializes the synthetic placeholder node.
func (g *Graph) unresolvedNode() *Variable {
	if n, ok := g.Nodes[UnresolvedID]; ok {
		return n
	}
	n := &Variable{ID: UnresolvedID, Name: "unresolved", TypeName: "?"}
	g.Nodes[UnresolvedID] = n
	return n
}
