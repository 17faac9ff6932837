// scope.go - scope stack and symbol resolution.
//
// The scope tracker is transform-time state only: one frame per lexical
// block, each holding the sites introduced in that block (in creation
// order, so drops can be emitted in reverse) and the name bindings the
// block shadows. Nothing here survives past a single function's rewrite.

package transform

import "sync/atomic"

// SiteAllocator hands out static site ids, one per tracked binding or
// borrow site in the rewritten source.
//
// A single allocator should be shared across every file of one build so
// site ids stay unique within the instrumented program; the atomic counter
// makes that safe when files are transformed in parallel.
type SiteAllocator struct {
	next atomic.Uint64
}

// Next allocates a fresh site id, starting at 1. Site 0 is reserved for
// unresolved references.
func (a *SiteAllocator) Next() uint64 {
	return a.next.Add(1)
}

// frameKind distinguishes the blocks that need special exit handling.
type frameKind int

const (
	// frameBlock is an ordinary lexical block (plus if headers).
	frameBlock frameKind = iota
	// frameLoop marks a for/range statement; break and continue emit
	// drops relative to the innermost one.
	frameLoop
	// frameSwitch marks a switch or select header; an unlabeled break
	// exits it rather than the enclosing loop.
	frameSwitch
	// frameFunc is the outermost frame of a function body.
	frameFunc
)

// frame is one lexical scope: the sites it introduced, in order, and the
// names it binds. Shadowing simply rebinds a name in the inner frame; the
// outer binding resurfaces when the frame is popped, and the shadowed id is
// still dropped when its own frame closes.
type frame struct {
	kind  frameKind
	sites []uint64
	names map[string]uint64
}

// scopeStack is the explicit stack of active frames for one function
// rewrite, passed by exclusive reference through the recursive walk.
type scopeStack struct {
	frames []*frame
}

// push opens a new frame of the given kind.
func (s *scopeStack) push(kind frameKind) *frame {
	f := &frame{kind: kind, names: make(map[string]uint64)}
	s.frames = append(s.frames, f)
	return f
}

// pop closes the innermost frame and returns it so the caller can convert
// its sites into drop insertions.
func (s *scopeStack) pop() *frame {
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// depth is the current lexical nesting level. Recorded on creation events
// for layout purposes only.
func (s *scopeStack) depth() int {
	return len(s.frames)
}

// declare binds a name to a site in the innermost frame and schedules the
// site for that frame's exit drops.
func (s *scopeStack) declare(name string, site uint64) {
	f := s.frames[len(s.frames)-1]
	f.sites = append(f.sites, site)
	if name != "" && name != "_" {
		f.names[name] = site
	}
}

// declareAnonymous schedules a site for the innermost frame's exit drops
// without binding a name. Used for borrow bindings that are tracked by
// site only.
func (s *scopeStack) declareAnonymous(site uint64) {
	f := s.frames[len(s.frames)-1]
	f.sites = append(f.sites, site)
}

// lookup resolves a name against the active frames, innermost first.
func (s *scopeStack) lookup(name string) (uint64, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if site, ok := s.frames[i].names[name]; ok {
			return site, true
		}
	}
	return 0, false
}

// framesFromInnermost returns the active frames innermost first, for
// early-exit drop emission.
func (s *scopeStack) framesFromInnermost() []*frame {
	out := make([]*frame, 0, len(s.frames))
	for i := len(s.frames) - 1; i >= 0; i-- {
		out = append(out, s.frames[i])
	}
	return out
}

// framesForBreak returns the frames an unlabeled break unwinds:
// everything from the innermost frame up to and including the innermost
// loop, switch, or select frame.
func (s *scopeStack) framesForBreak() []*frame {
	var out []*frame
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		out = append(out, f)
		if f.kind == frameLoop || f.kind == frameSwitch {
			return out
		}
	}
	return nil
}

// framesForContinue returns the frames an unlabeled continue unwinds:
// everything up to but excluding the innermost loop frame. Switch frames
// along the way are unwound too, since continue exits them.
func (s *scopeStack) framesForContinue() []*frame {
	var out []*frame
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.kind == frameLoop {
			return out
		}
		out = append(out, f)
	}
	return nil
}
