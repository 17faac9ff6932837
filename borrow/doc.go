// Package borrow provides the public runtime API for the borrowtrace
// ownership tracker.
//
// Instrumented programs report every variable creation, borrow, ownership
// transfer, and scope exit through this package. The calls are designed to
// be inserted mechanically by the borrowtrace tool: the value-carrying ones
// are generic identity functions that return their argument unchanged, so
// wrapping an expression never changes its type, its value, or how many
// times it is evaluated.
//
// # Quick Start
//
// The borrow package is automatically wired in by the borrowtrace tool:
//
//	$ borrowtrace build myprogram.go
//	$ BORROWTRACE_OUT=events.json ./myprogram
//	$ borrowtrace check events.json
//
// For manual instrumentation in advanced scenarios:
//
//	package main
//
//	import "github.com/kolkov/borrowtrace/borrow"
//
//	func main() {
//		borrow.Init()
//		defer borrow.Fini()
//
//		// Manual instrumentation (normally done by borrowtrace build)
//		x := borrow.TrackNew(1, "x", "", "main.go:10:2", 1, 42)
//		r := borrow.TrackBorrow(2, 1, false, "r", "main.go:11:11", 1, &x)
//		_ = r
//		borrow.TrackDrop(2, "main.go:12:1")
//		borrow.TrackDrop(1, "main.go:12:1")
//	}
//
// # Site ids and runtime ids
//
// The first argument of every Track call is a static site id assigned by
// the transformer, one per binding or borrow site in the source. At run
// time each execution of a creation site allocates a fresh, monotonically
// increasing runtime id, so loop iterations produce distinct variables and
// no id is ever reused. Borrow, move, and drop calls name sites; the
// runtime resolves them to the site's latest incarnation.
//
// # Concurrency
//
// All Track calls are safe from multiple goroutines. Timestamps come from a
// single atomic counter, so events are totally ordered regardless of which
// goroutine produced them. Reset exists for test isolation only and must
// not race with in-flight Track calls.
package borrow
