// errors.go - rejection and diagnostic types.
//
// Rejections are hard build-time failures that carry an exact source
// position and, where one exists, a suggested rewording. They are collected
// across a whole file and reported together, so a user sees every problem
// in one pass instead of fixing them one rebuild at a time.

package transform

import (
	"fmt"
	"go/token"
	"strings"
)

// Rejection is a construct the transformer deliberately refuses because
// tracking it would silently corrupt the recorded graph.
//
// Fields:
//   - File, Line, Column: exact source position (1-indexed)
//   - Message: why the construct is refused
//   - Suggestion: optional hint for restructuring the code
type Rejection struct {
	File       string
	Line       int
	Column     int
	Message    string
	Suggestion string
}

// Error implements the error interface.
//
// Format: file:line:column: message, with the suggestion appended on its
// own line when present.
func (r *Rejection) Error() string {
	out := fmt.Sprintf("%s:%d:%d: %s", r.File, r.Line, r.Column, r.Message)
	if r.Suggestion != "" {
		out += fmt.Sprintf("\n\nSuggestion: %s", r.Suggestion)
	}
	return out
}

// newRejection creates a rejection with the position taken from the AST.
func newRejection(fset *token.FileSet, pos token.Pos, msg, suggestion string) *Rejection {
	p := fset.Position(pos)
	return &Rejection{
		File:       p.Filename,
		Line:       p.Line,
		Column:     p.Column,
		Message:    msg,
		Suggestion: suggestion,
	}
}

// RejectionList aggregates every rejection found in one file.
type RejectionList []*Rejection

// Error joins the individual rejections, one per line.
func (l RejectionList) Error() string {
	msgs := make([]string, len(l))
	for i, r := range l {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("%d construct(s) cannot be tracked:\n%s",
		len(l), strings.Join(msgs, "\n"))
}

// Diagnostic is a reduced-fidelity note: the construct was tracked, but
// approximately (a guessed receiver exclusivity, an approximated closure
// capture set). Diagnostics never fail a transform; they are attached to
// the result so users know which parts of the graph are best-effort.
type Diagnostic struct {
	Loc     string
	Message string
}

// String renders the diagnostic for the build log.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Loc, d.Message)
}
