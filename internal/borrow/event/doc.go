// Package event implements the append-only runtime event log for the
// borrow tracker.
//
// Every tracked construct in an instrumented program reports here: variable
// creations, shared and exclusive borrows, ownership transfers, drops, and
// the reference-counted / interior-mutability variants. Each event carries a
// logical timestamp drawn from a single atomic counter, so events are totally
// ordered across goroutines without wall-clock time.
//
// The log is the only component of the tracker that is shared across
// concurrent execution contexts. Record calls are cheap: one atomic increment
// for the timestamp plus a short critical section for the append. Nothing in
// this package imports outside the standard library, because it is linked
// into every instrumented user program.
package event
