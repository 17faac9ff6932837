package event

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordNew_AssignsMonotoneIDs(t *testing.T) {
	log := NewLog()

	a := log.RecordNew(1, "a", "int", "main.go:3:2", 1)
	b := log.RecordNew(2, "b", "string", "main.go:4:2", 1)

	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(2), b)

	events := log.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, KindNew, events[0].Kind)
	assert.Equal(t, "a", events[0].Name)
	assert.Equal(t, "int", events[0].TypeName)
	assert.Less(t, events[0].Time, events[1].Time)
}

func TestLog_SiteReuse_YieldsFreshRuntimeIDs(t *testing.T) {
	log := NewLog()

	// Same site executed twice, as a loop body would do.
	first := log.RecordNew(7, "x", "int", "main.go:5:3", 2)
	log.RecordDrop(7, "main.go:6:2")
	second := log.RecordNew(7, "x", "int", "main.go:5:3", 2)
	log.RecordDrop(7, "main.go:6:2")

	assert.NotEqual(t, first, second)

	events := log.Snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, first, events[1].ID)
	assert.Equal(t, second, events[3].ID)
}

func TestLog_RecordBorrow_EmitsCreationThenBorrow(t *testing.T) {
	log := NewLog()

	owner := log.RecordNew(1, "x", "int", "main.go:3:2", 1)
	borrow := log.RecordBorrow(2, 1, false, "r", "*int", "main.go:4:11", 1)

	events := log.Snapshot()
	require.Len(t, events, 3)

	// The borrow binding is created like any other, keeping its name.
	assert.Equal(t, KindNew, events[1].Kind)
	assert.Equal(t, borrow, events[1].ID)
	assert.Equal(t, "r", events[1].Name)
	assert.Equal(t, "*int", events[1].TypeName)

	assert.Equal(t, KindBorrow, events[2].Kind)
	assert.Equal(t, borrow, events[2].ID)
	assert.Equal(t, owner, events[2].OwnerID)
	assert.False(t, events[2].Exclusive)
}

func TestLog_RecordBorrow_UnknownOwnerResolvesToZero(t *testing.T) {
	log := NewLog()

	log.RecordBorrow(2, 99, true, "", "", "main.go:4:11", 0)

	events := log.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(0), events[1].OwnerID)
	assert.True(t, events[1].Exclusive)
}

func TestLog_RecordMove_EmitsCreationThenMove(t *testing.T) {
	log := NewLog()

	src := log.RecordNew(1, "x", "vec", "main.go:3:2", 1)
	dst := log.RecordMove(2, 1, "y", "vec", "main.go:4:2", 1)

	events := log.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, KindNew, events[1].Kind)
	assert.Equal(t, dst, events[1].ID)
	assert.Equal(t, KindMove, events[2].Kind)
	assert.Equal(t, dst, events[2].ID)
	assert.Equal(t, src, events[2].OwnerID)
}

func TestLog_RecordDrop_UnknownSiteIsSkipped(t *testing.T) {
	log := NewLog()

	log.RecordDrop(42, "main.go:9:1")

	assert.Zero(t, log.Len())
}

func TestLog_RecordDrop_DropsLatestIncarnationOnce(t *testing.T) {
	log := NewLog()

	id := log.RecordNew(1, "x", "int", "main.go:3:2", 1)
	log.RecordDrop(1, "main.go:5:1")
	log.RecordDrop(1, "main.go:5:1") // site entry already consumed

	events := log.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, KindDrop, events[1].Kind)
	assert.Equal(t, id, events[1].ID)
}

func TestLog_ConcurrentRecords_TotalOrderAndUniqueIDs(t *testing.T) {
	log := NewLog()

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				site := uint64(g*perGoroutine + i + 1)
				log.RecordNew(site, "v", "int", "worker.go:1:1", 1)
			}
		}(g)
	}
	wg.Wait()

	events := log.Snapshot()
	require.Len(t, events, goroutines*perGoroutine)

	seenIDs := make(map[uint64]bool, len(events))
	var lastTime uint64
	for _, e := range events {
		assert.False(t, seenIDs[e.ID], "id %d reused", e.ID)
		seenIDs[e.ID] = true
		require.Greater(t, e.Time, lastTime, "timestamps must strictly increase in append order")
		lastTime = e.Time
	}
}

func TestLog_Snapshot_IsImmutableCopy(t *testing.T) {
	log := NewLog()
	log.RecordNew(1, "x", "int", "main.go:3:2", 1)

	snap := log.Snapshot()
	snap[0].Name = "mutated"

	assert.Equal(t, "x", log.Snapshot()[0].Name)
}

func TestLog_Reset_ClearsEverything(t *testing.T) {
	log := NewLog()
	log.RecordNew(1, "x", "int", "main.go:3:2", 1)
	log.Reset()

	assert.Zero(t, log.Len())

	// Counters restart, so the first id after reset is 1 again.
	id := log.RecordNew(1, "y", "int", "main.go:4:2", 1)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(1), log.Snapshot()[0].Time)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	log := NewLog()
	log.RecordNew(1, "x", "int", "main.go:3:2", 1)
	log.RecordBorrow(2, 1, true, "r", "*int", "main.go:4:11", 1)
	log.RecordRcClone(3, 1, 2, "h", "main.go:5:7")
	log.RecordCellBorrow(4, 1, false, "main.go:6:7")
	log.RecordDrop(2, "main.go:7:1")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, log.Snapshot()))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, log.Snapshot(), decoded)
}

func TestKind_JSONNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []Event{{Time: 1, Kind: KindCellBorrow, ID: 1}}))
	assert.Contains(t, buf.String(), `"cell-borrow"`)

	_, err := Decode(bytes.NewBufferString(`{"events":[{"time":1,"kind":"nonsense","id":1}]}`))
	require.Error(t, err)
}
