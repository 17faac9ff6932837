package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTransform(t *testing.T, src string) *Result {
	t.Helper()
	res, err := File("input.go", src, Options{})
	require.NoError(t, err)
	return res
}

func TestSimpleBorrowScenario(t *testing.T) {
	src := `package main

func main() {
	x := 42
	r := &x
	_ = r
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, "borrow.TrackNew(")
	assert.Contains(t, res.Code, "borrow.TrackDrop(")
	assert.Contains(t, res.Code, `"github.com/kolkov/borrowtrace/borrow"`)

	// The borrow binding carries its own name so the graph node is not
	// anonymous.
	assert.Contains(t, res.Code, `borrow.TrackBorrow(2, 1, false, "r",`)

	// Both x and r are creations; r's creation is folded into TrackBorrow.
	assert.Equal(t, 2, res.Stats.CreationsInserted)
	assert.Equal(t, 1, res.Stats.BorrowsInserted)
}

func TestDropsEmittedInReverseDeclarationOrder(t *testing.T) {
	src := `package p

func f() {
	a := 1
	b := 2
	c := 3
	_, _, _ = a, b, c
}
`
	res := mustTransform(t, src)

	// Site 1 is a, 2 is b, 3 is c. Drops must appear c, b, a.
	ia := strings.Index(res.Code, "borrow.TrackDrop(3,")
	ib := strings.Index(res.Code, "borrow.TrackDrop(2,")
	ic := strings.Index(res.Code, "borrow.TrackDrop(1,")
	require.True(t, ia >= 0 && ib >= 0 && ic >= 0, "all three drops present:\n%s", res.Code)
	assert.Less(t, ia, ib)
	assert.Less(t, ib, ic)
	assert.Equal(t, 3, res.Stats.DropsInserted)
}

func TestRejectedDeclarationsCollected(t *testing.T) {
	src := `package p

func f() {
	const k = 1
	x := k
	type local struct{}
	_ = x
}
`
	_, err := File("input.go", src, Options{})
	require.Error(t, err)

	var list RejectionList
	require.ErrorAs(t, err, &list)
	require.Len(t, list, 2)
	assert.Contains(t, list[0].Message, "constant declaration")
	assert.Contains(t, list[1].Message, "type declaration")
	assert.Contains(t, list[0].Suggestion, "package scope")
	assert.Contains(t, err.Error(), "2 construct(s)")
}

func TestShadowedNameResolvesToInnermostBinding(t *testing.T) {
	src := `package p

func f() {
	x := 1
	{
		x := 2
		r := &x
		_ = r
	}
	_ = x
}
`
	res := mustTransform(t, src)

	// Outer x is site 1, inner x is site 2; the borrow's owner must be
	// the inner binding.
	assert.Contains(t, res.Code, "borrow.TrackBorrow(3, 2,")
	assert.Zero(t, res.Stats.UnresolvedOwners)
}

func TestBorrowOfUnknownOwnerDegradesToUnresolved(t *testing.T) {
	src := `package p

var global int

func f() {
	r := &global
	_ = r
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, "borrow.TrackBorrow(1, 0,")
	assert.Equal(t, 1, res.Stats.UnresolvedOwners)
	require.NotEmpty(t, res.Degraded)
	assert.Contains(t, res.Degraded[0].Message, `"global"`)
}

func TestBorrowOfTemporaryLeftUntouched(t *testing.T) {
	src := `package p

type point struct{ x int }

func f() {
	p := &point{x: 1}
	_ = p
}
`
	res := mustTransform(t, src)

	// &point{...} has no named owner: the binding is a plain creation.
	assert.NotContains(t, res.Code, "TrackBorrow")
	assert.Equal(t, 1, res.Stats.CreationsInserted)
	assert.Equal(t, 1, res.Stats.TemporariesSkipped)
}

func TestBareIdentifierBindingBecomesMove(t *testing.T) {
	src := `package p

func f() {
	x := 1
	y := x
	_ = y
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, "borrow.TrackMove(2, 1,")
	assert.Equal(t, 1, res.Stats.MovesInserted)
}

func TestReassignmentDropsOldIncarnationBeforeMove(t *testing.T) {
	src := `package p

func f() {
	x := 1
	y := 2
	y = x
	_ = y
}
`
	res := mustTransform(t, src)

	// The destination's site (2) is dropped, then re-created by the move
	// from site 1 reusing site 2.
	drop := strings.Index(res.Code, "borrow.TrackDrop(2,")
	move := strings.Index(res.Code, "borrow.TrackMove(2, 1,")
	require.True(t, drop >= 0 && move >= 0, "drop and move present:\n%s", res.Code)
	assert.Less(t, drop, move)
}

func TestBlankBindingsNotTracked(t *testing.T) {
	src := `package p

func f() int {
	v, _ := 2, 3
	return v
}
`
	res := mustTransform(t, src)

	assert.Equal(t, 1, res.Stats.BlanksSkipped)
	assert.Equal(t, 1, res.Stats.CreationsInserted)
	assert.NotContains(t, res.Code, `"_"`)
}

func TestMultiValueBindingUsesPostBindingRewrites(t *testing.T) {
	src := `package p

func g() (int, error) { return 0, nil }

func f() {
	v, err := g()
	_, _ = v, err
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, `v = borrow.TrackNew(`)
	assert.Contains(t, res.Code, `err = borrow.TrackNew(`)
	assert.Equal(t, 2, res.Stats.CreationsInserted)
}

func TestVarDeclarationTracked(t *testing.T) {
	src := `package p

func f() {
	var n int
	var s = "hi"
	_, _ = n, s
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, `n = borrow.TrackNew(`)
	assert.Contains(t, res.Code, `"int"`)
	assert.Equal(t, 2, res.Stats.CreationsInserted)
}

func TestParametersRegisteredAsCreations(t *testing.T) {
	src := `package p

func f(n int, s string) {
	r := &n
	_ = r
	_ = s
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, `n = borrow.TrackNew(`)
	assert.Contains(t, res.Code, `s = borrow.TrackNew(`)
	// The borrow of the parameter resolves.
	assert.Zero(t, res.Stats.UnresolvedOwners)
}

func TestReceiverBorrowHeuristic(t *testing.T) {
	src := `package p

type list struct{ items []int }

func (l *list) Add(v int)  { l.items = append(l.items, v) }
func (l *list) Len() int   { return len(l.items) }

func f() {
	q := list{}
	q.Add(1)
	n := q.Len()
	_ = n
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, "borrow.TrackRecvBorrow(")
	assert.Equal(t, 2, res.Stats.ReceiverBorrows)

	var exclusive, shared bool
	for _, d := range res.Degraded {
		if strings.Contains(d.Message, `"Add"`) && strings.Contains(d.Message, "exclusive") {
			exclusive = true
		}
		if strings.Contains(d.Message, `"Len"`) && strings.Contains(d.Message, "shared") {
			shared = true
		}
	}
	assert.True(t, exclusive, "Add treated as exclusive")
	assert.True(t, shared, "Len treated as shared")
}

func TestMutatingPrefixesConfigurable(t *testing.T) {
	src := `package p

type db struct{}

func (d *db) Mutate() {}

func f() {
	d := db{}
	d.Mutate()
}
`
	res, err := File("input.go", src, Options{MutatingPrefixes: []string{"mutate"}})
	require.NoError(t, err)

	found := false
	for _, d := range res.Degraded {
		if strings.Contains(d.Message, "exclusive") && strings.Contains(d.Message, `"Mutate"`) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestClosureCapturesRecordedAtCreation(t *testing.T) {
	src := `package p

func f() {
	total := 0
	inc := func(n int) { total += n }
	inc(1)
}
`
	res := mustTransform(t, src)

	assert.Contains(t, res.Code, "borrow.TrackCapture(")
	assert.Equal(t, 1, res.Stats.CapturesInserted)
}

func TestSkipCapturesOption(t *testing.T) {
	src := `package p

func f() {
	total := 0
	inc := func() { total++ }
	inc()
}
`
	res, err := File("input.go", src, Options{SkipCaptures: true})
	require.NoError(t, err)
	assert.NotContains(t, res.Code, "TrackCapture")
	assert.Zero(t, res.Stats.CapturesInserted)
}

func TestRangeBindingsRecreatedPerIteration(t *testing.T) {
	src := `package p

func f(items []int) {
	for _, v := range items {
		_ = v
	}
}
`
	res := mustTransform(t, src)

	// v's creation and drop both sit inside the loop body.
	openBody := strings.Index(res.Code, "range items {")
	require.GreaterOrEqual(t, openBody, 0)
	create := strings.Index(res.Code, "v = borrow.TrackNew(")
	assert.Greater(t, create, openBody)
}

func TestBreakEmitsDropsUpToLoop(t *testing.T) {
	src := `package p

func f() {
	for i := 0; i < 10; i++ {
		tmp := i
		if tmp > 5 {
			break
		}
	}
}
`
	res := mustTransform(t, src)

	// A drop for tmp must precede the break.
	brk := strings.Index(res.Code, "break")
	require.GreaterOrEqual(t, brk, 0)
	assert.Contains(t, res.Code[:brk], "borrow.TrackDrop(")
}

func TestReturnEmitsDropsForAllOpenScopes(t *testing.T) {
	src := `package p

func f(flag bool) int {
	x := 1
	if flag {
		y := 2
		return x + y
	}
	return x
}
`
	res := mustTransform(t, src)

	first := strings.Index(res.Code, "return x + y")
	require.GreaterOrEqual(t, first, 0)
	head := res.Code[:first]
	assert.Contains(t, head, "borrow.TrackDrop(3,") // y
	assert.Contains(t, head, "borrow.TrackDrop(2,") // x
}

func TestNoTrackingNoImport(t *testing.T) {
	src := `package p

func f() {}
`
	res := mustTransform(t, src)

	assert.NotContains(t, res.Code, "borrowtrace/borrow")
	assert.Zero(t, res.Stats.Total())
}

func TestLifecycleInjectedIntoMainOnly(t *testing.T) {
	mainSrc := `package main

func main() {
	x := 1
	_ = x
}
`
	res := mustTransform(t, mainSrc)
	assert.Contains(t, res.Code, "borrow.Init()")
	assert.Contains(t, res.Code, "defer borrow.Fini()")

	libSrc := `package lib

func f() {
	x := 1
	_ = x
}
`
	res = mustTransform(t, libSrc)
	assert.NotContains(t, res.Code, "borrow.Init()")
}

func TestSharedAllocatorKeepsSitesUniqueAcrossFiles(t *testing.T) {
	alloc := &SiteAllocator{}
	src := `package p

func f() {
	x := 1
	_ = x
}
`
	res1, err := File("a.go", src, Options{Sites: alloc})
	require.NoError(t, err)
	res2, err := File("b.go", src, Options{Sites: alloc})
	require.NoError(t, err)

	assert.Contains(t, res1.Code, "borrow.TrackNew(1,")
	assert.NotContains(t, res2.Code, "borrow.TrackNew(1,")
}

func TestImportInjectionIdempotent(t *testing.T) {
	src := `package p

import "github.com/kolkov/borrowtrace/borrow"

func f() {
	x := 1
	borrow.TrackDrop(99, "manual")
	_ = x
}
`
	res := mustTransform(t, src)

	// The import is already present; it must not be duplicated.
	assert.Equal(t, 1, strings.Count(res.Code, `"github.com/kolkov/borrowtrace/borrow"`))
	requireParses(t, res.Code)
}

func TestParseErrorReported(t *testing.T) {
	_, err := File("bad.go", "package p\nfunc {", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestOutputParsesAsGo(t *testing.T) {
	src := `package main

import "fmt"

type counter struct{ n int }

func (c *counter) Inc()     { c.n++ }
func (c *counter) Value() int { return c.n }

func main() {
	c := counter{}
	for i := 0; i < 3; i++ {
		c.Inc()
	}
	v := c.Value()
	r := &v
	fmt.Println(*r)
}
`
	res := mustTransform(t, src)
	requireParses(t, res.Code)
}
