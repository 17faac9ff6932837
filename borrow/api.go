package borrow

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/kolkov/borrowtrace/internal/borrow/event"
)

// OutputEnv names the environment variable that selects where Fini writes
// the event snapshot. When unset, the snapshot goes to standard output.
const OutputEnv = "BORROWTRACE_OUT"

// Global tracker state.
//
// One log serves the whole process, created before main starts. Tests that
// need isolation call Reset between runs; swapping in a per-test log is not
// supported through this package (use internal/borrow/event directly).
var (
	enabled    atomic.Bool
	defaultLog = event.NewLog()
)

func init() {
	enabled.Store(true)
}

// Init enables event recording. It is called at the top of main by
// instrumented programs and is safe to call multiple times.
func Init() {
	enabled.Store(true)
}

// Fini flushes the recorded event snapshot as JSON.
//
// The destination is the file named by the BORROWTRACE_OUT environment
// variable, or standard output when it is unset. Instrumented programs call
// this via defer at the top of main.
func Fini() {
	if path := os.Getenv(OutputEnv); path != "" {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "borrowtrace: cannot write snapshot: %v\n", err)
			return
		}
		defer f.Close()
		writeSnapshot(f)
		return
	}
	writeSnapshot(os.Stdout)
}

func writeSnapshot(w io.Writer) {
	if err := event.Encode(w, defaultLog.Snapshot()); err != nil {
		fmt.Fprintf(os.Stderr, "borrowtrace: cannot encode snapshot: %v\n", err)
	}
}

// Snapshot returns a consistent copy of the events recorded so far.
func Snapshot() []event.Event {
	return defaultLog.Snapshot()
}

// Reset clears all recorded state. Test isolation only; never call while
// instrumented code is still running.
func Reset() {
	defaultLog.Reset()
}

// TrackNew records the creation of a binding and returns the value
// unchanged.
//
// typeName may be empty for bindings whose type the transformer could not
// name (generic or inferred); the concrete dynamic type is resolved here at
// run time instead.
func TrackNew[T any](site uint64, name, typeName, loc string, depth int, v T) T {
	if enabled.Load() {
		if typeName == "" {
			typeName = fmt.Sprintf("%T", v)
		}
		defaultLog.RecordNew(site, name, typeName, loc, depth)
	}
	return v
}

// TrackBorrow records a borrow binding being created against the owner
// site and returns the reference unchanged. exclusive distinguishes
// sole-write borrows from read-only ones.
//
// The borrow is a binding like any other: a creation event carrying its
// name and dynamic type precedes the borrow edge, so named borrows keep
// their names in the exported graph. name is empty for borrows taken in
// expression position.
func TrackBorrow[T any](site, ownerSite uint64, exclusive bool, name, loc string, depth int, v T) T {
	if enabled.Load() {
		defaultLog.RecordBorrow(site, ownerSite, exclusive, name, fmt.Sprintf("%T", v), loc, depth)
	}
	return v
}

// TrackMove records ownership transferring out of the source site into a
// new binding at the destination site, and returns the moved value
// unchanged.
func TrackMove[T any](site, fromSite uint64, name, loc string, depth int, v T) T {
	if enabled.Load() {
		defaultLog.RecordMove(site, fromSite, name, fmt.Sprintf("%T", v), loc, depth)
	}
	return v
}

// TrackDrop records the current incarnation of a site going out of scope.
// The transformer emits these in reverse-of-creation order at every scope
// exit.
func TrackDrop(site uint64, loc string) {
	if enabled.Load() {
		defaultLog.RecordDrop(site, loc)
	}
}

// TrackRecvBorrow records the implicit borrow of a method-call receiver.
//
// The exclusivity is inferred by the transformer from the called method's
// name and is best-effort; unknown methods default to shared.
func TrackRecvBorrow(site, ownerSite uint64, exclusive bool, loc string) {
	if enabled.Load() {
		defaultLog.RecordBorrow(site, ownerSite, exclusive, "", "", loc, 0)
	}
}

// TrackCapture records a closure capturing a variable by reference at the
// closure's creation site. Captures are tracked as shared borrows;
// individual invocations of the closure are not tracked.
func TrackCapture(site, ownerSite uint64, loc string) {
	if enabled.Load() {
		defaultLog.RecordBorrow(site, ownerSite, false, "", "", loc, 0)
	}
}

// TrackRcClone records a reference-counted handle being cloned and returns
// the clone unchanged. count is the reference count after the clone; it is
// stored, never interpreted.
func TrackRcClone[T any](site, ownerSite uint64, count int, name, loc string, v T) T {
	if enabled.Load() {
		defaultLog.RecordRcClone(site, ownerSite, count, name, loc)
	}
	return v
}

// TrackCellBorrow records a runtime-checked interior-mutability borrow and
// returns the value unchanged.
func TrackCellBorrow[T any](site, ownerSite uint64, exclusive bool, loc string, v T) T {
	if enabled.Load() {
		defaultLog.RecordCellBorrow(site, ownerSite, exclusive, loc)
	}
	return v
}
