package graph

import (
	"fmt"

	"github.com/kolkov/borrowtrace/internal/borrow/event"
)

// Build constructs the ownership graph from an event sequence.
//
// The pass walks the events once, in timestamp order (which is the order
// the log hands them out in), maintaining the id -> node map:
//
//   - new: create a node.
//   - borrow / cell-borrow: add an edge borrower -> owner. Endpoints that
//     are unknown degrade to the synthetic unresolved node instead of being
//     dropped, and bump the warning counter.
//   - move: add a moved-from edge new -> old. A move does not terminate the
//     old binding; only its own Drop event does.
//   - drop: set DroppedAt on the node and close its open borrow edges.
//     A second drop for the same id, or a drop for an id never created, is
//     a ProtocolViolation and aborts the build.
//   - rc-clone: add a clone edge carrying the count, uninterpreted.
//
// Build never mutates its input. Given the same sequence it produces a
// structurally equal graph every time.
func Build(events []event.Event) (*Graph, error) {
	g := &Graph{Nodes: make(map[uint64]*Variable)}

	// Open borrow edges by borrower id, so a drop can close them.
	open := make(map[uint64][]*Edge)

	for _, e := range events {
		if e.Time >= g.EndOfRun {
			g.EndOfRun = e.Time + 1
		}

		switch e.Kind {
		case event.KindNew:
			g.Nodes[e.ID] = &Variable{
				ID:         e.ID,
				Name:       e.Name,
				TypeName:   e.TypeName,
				CreatedAt:  e.Time,
				ScopeDepth: e.ScopeDepth,
			}

		case event.KindBorrow, event.KindCellBorrow:
			rel := RelBorrowShared
			if e.Exclusive {
				rel = RelBorrowExclusive
			}
			if e.Kind == event.KindCellBorrow {
				rel = RelInteriorBorrow
			}
			// The borrower itself is a tracked value even when no New
			// event names it (a borrow formed inside an expression).
			if _, ok := g.Nodes[e.ID]; !ok {
				g.Nodes[e.ID] = &Variable{ID: e.ID, Name: "", TypeName: "&", CreatedAt: e.Time}
			}
			edge := &Edge{
				FromID:       e.ID,
				ToID:         g.resolveEndpoint(e.OwnerID),
				Relationship: rel,
				Start:        e.Time,
				Exclusive:    e.Exclusive,
			}
			g.Edges = append(g.Edges, edge)
			open[e.ID] = append(open[e.ID], edge)

		case event.KindMove:
			g.Edges = append(g.Edges, &Edge{
				FromID:       g.resolveEndpoint(e.ID),
				ToID:         g.resolveEndpoint(e.OwnerID),
				Relationship: RelMovedFrom,
				Start:        e.Time,
			})

		case event.KindDrop:
			node, ok := g.Nodes[e.ID]
			if !ok {
				return nil, &ProtocolViolation{
					Time: e.Time,
					ID:   e.ID,
					Msg:  "drop for an id that was never created",
				}
			}
			if node.DroppedAt != nil {
				return nil, &ProtocolViolation{
					Time: e.Time,
					ID:   e.ID,
					Msg:  fmt.Sprintf("second drop; first was at t%d", *node.DroppedAt),
				}
			}
			t := e.Time
			node.DroppedAt = &t
			for _, edge := range open[e.ID] {
				end := t
				edge.End = &end
			}
			delete(open, e.ID)

		case event.KindRcClone:
			if _, ok := g.Nodes[e.ID]; !ok {
				g.Nodes[e.ID] = &Variable{ID: e.ID, Name: e.Name, TypeName: "rc", CreatedAt: e.Time}
			}
			g.Edges = append(g.Edges, &Edge{
				FromID:       e.ID,
				ToID:         g.resolveEndpoint(e.OwnerID),
				Relationship: RelRcClone,
				Start:        e.Time,
				Count:        e.Count,
			})
		}
	}

	return g, nil
}

// resolveEndpoint maps an event id onto a node id, degrading unknown ids to
// the synthetic unresolved node so the edge is kept.
func (g *Graph) resolveEndpoint(id uint64) uint64 {
	if id == UnresolvedID {
		g.unresolvedNode()
		g.UnresolvedReferences++
		return UnresolvedID
	}
	if _, ok := g.Nodes[id]; !ok {
		g.unresolvedNode()
		g.UnresolvedReferences++
		return UnresolvedID
	}
	return id
}
