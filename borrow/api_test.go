package borrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/borrowtrace/internal/borrow/event"
	"github.com/kolkov/borrowtrace/internal/borrow/graph"
)

func TestTrackNew_ReturnsValueUnchanged(t *testing.T) {
	Reset()

	x := TrackNew(1, "x", "", "main.go:3:2", 1, 42)
	s := TrackNew(2, "s", "", "main.go:4:2", 1, "hello")

	assert.Equal(t, 42, x)
	assert.Equal(t, "hello", s)

	events := Snapshot()
	require.Len(t, events, 2)
	// Type name resolved at run time when the transformer left it empty.
	assert.Equal(t, "int", events[0].TypeName)
	assert.Equal(t, "string", events[1].TypeName)
}

func TestTrackBorrow_ReturnsPointerUnchanged(t *testing.T) {
	Reset()

	x := TrackNew(1, "x", "", "main.go:3:2", 1, 42)
	r := TrackBorrow(2, 1, false, "r", "main.go:4:11", 1, &x)

	require.Same(t, &x, r)
	assert.Equal(t, 42, *r)

	events := Snapshot()
	require.Len(t, events, 3)
	// The borrow binding is a creation in its own right.
	assert.Equal(t, event.KindNew, events[1].Kind)
	assert.Equal(t, "r", events[1].Name)
	assert.Equal(t, "*int", events[1].TypeName)
	assert.Equal(t, event.KindBorrow, events[2].Kind)
	assert.Equal(t, events[1].ID, events[2].ID)
	assert.Equal(t, events[0].ID, events[2].OwnerID)
}

func TestScopeExit_DropsInReverseCreationOrder(t *testing.T) {
	Reset()

	// What an instrumented block emits: three creations, then drops in
	// last-in-first-out order at the closing brace.
	TrackNew(1, "a", "int", "main.go:3:2", 1, 1)
	TrackNew(2, "b", "int", "main.go:4:2", 1, 2)
	TrackNew(3, "c", "int", "main.go:5:2", 1, 3)
	TrackDrop(3, "main.go:6:1")
	TrackDrop(2, "main.go:6:1")
	TrackDrop(1, "main.go:6:1")

	events := Snapshot()
	require.Len(t, events, 6)

	var created, dropped []uint64
	for _, e := range events {
		switch e.Kind {
		case event.KindNew:
			created = append(created, e.ID)
		case event.KindDrop:
			dropped = append(dropped, e.ID)
		}
	}
	require.Len(t, dropped, 3)
	for i := range created {
		assert.Equal(t, created[i], dropped[len(dropped)-1-i])
	}
}

func TestSimpleBorrowScenario_GraphShape(t *testing.T) {
	Reset()

	// let x = 42; let r = &x;
	x := TrackNew(1, "x", "", "main.go:3:2", 1, 42)
	r := TrackBorrow(2, 1, false, "r", "main.go:4:11", 1, &x)
	assert.Equal(t, 42, *r)
	TrackDrop(2, "main.go:5:1")
	TrackDrop(1, "main.go:5:1")

	g, err := graph.Build(Snapshot())
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, graph.RelBorrowShared, g.Edges[0].Relationship)
	assert.Equal(t, "x", g.Node(g.Edges[0].ToID).Name)
	// The borrower keeps its binding name and pointer type in the graph.
	borrower := g.Node(g.Edges[0].FromID)
	require.NotNil(t, borrower)
	assert.Equal(t, "r", borrower.Name)
	assert.Equal(t, "*int", borrower.TypeName)
}

func TestLoopSites_ProduceDistinctRuntimeIDs(t *testing.T) {
	Reset()

	for i := 0; i < 3; i++ {
		TrackNew(1, "x", "int", "main.go:4:3", 2, i)
		TrackDrop(1, "main.go:5:2")
	}

	g, err := graph.Build(Snapshot())
	require.NoError(t, err)
	// Three distinct nodes, all cleanly dropped; no protocol violation.
	assert.Len(t, g.Nodes, 3)
	for _, n := range g.Nodes {
		assert.False(t, n.Alive())
	}
}

func TestTrackMove_RecordsTransfer(t *testing.T) {
	Reset()

	x := TrackNew(1, "x", "", "main.go:3:2", 1, []int{1, 2})
	y := TrackMove(2, 1, "y", "main.go:4:2", 1, x)
	assert.Equal(t, x, y)

	g, err := graph.Build(Snapshot())
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, graph.RelMovedFrom, g.Edges[0].Relationship)
	// The source is not terminated by the move.
	assert.True(t, g.Node(g.Edges[0].ToID).Alive())
}

func TestTrackRcCloneAndCellBorrow(t *testing.T) {
	Reset()

	h := TrackNew(1, "h", "", "main.go:3:2", 1, "handle")
	clone := TrackRcClone(2, 1, 2, "h2", "main.go:4:2", h)
	assert.Equal(t, h, clone)
	v := TrackCellBorrow(3, 1, true, "main.go:5:2", h)
	assert.Equal(t, h, v)

	events := Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, event.KindRcClone, events[1].Kind)
	assert.Equal(t, 2, events[1].Count)
	assert.Equal(t, event.KindCellBorrow, events[2].Kind)
	assert.True(t, events[2].Exclusive)
}

func TestTrackCapture_RecordsSharedBorrow(t *testing.T) {
	Reset()

	TrackNew(1, "x", "int", "main.go:3:2", 1, 7)
	TrackCapture(2, 1, "main.go:5:7")

	events := Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, event.KindBorrow, events[2].Kind)
	assert.False(t, events[2].Exclusive)
}
