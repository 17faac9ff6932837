// Package transform rewrites Go source so that variable lifetimes become
// observable at run time.
//
// The rewrite inserts calls into the borrow runtime package around every
// binding, reference-forming expression, ownership transfer, and scope
// exit, preserving the program's values and evaluation order: every
// inserted call returns its last argument unchanged. Constructs the
// tracked dialect refuses (constant and type declarations inside function
// bodies) abort the file's transformation with a collected error listing
// every offending site; constructs that can only be tracked approximately
// (receiver exclusivity, closure captures) degrade gracefully and are
// reported as diagnostics on the result.
package transform

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"
)

// Options control a transformation run.
type Options struct {
	// MutatingPrefixes drive the receiver-exclusivity heuristic: a
	// method call on a tracked local whose lowercased name starts with
	// one of these prefixes borrows its receiver exclusively. Nil means
	// DefaultMutatingPrefixes.
	MutatingPrefixes []string

	// SkipCaptures disables closure-capture tracking.
	SkipCaptures bool

	// Sites is the site-id allocator. Sharing one allocator across the
	// files of a build keeps sites unique program-wide. Nil means a
	// fresh allocator private to this file.
	Sites *SiteAllocator
}

// DefaultMutatingPrefixes is the built-in method-name heuristic list.
func DefaultMutatingPrefixes() []string {
	return []string{
		"set", "add", "push", "pop", "insert", "remove", "delete",
		"clear", "write", "append", "reset", "swap", "sort", "put",
		"store",
	}
}

// Stats counts what a transformation run inserted and skipped.
type Stats struct {
	CreationsInserted  int
	BorrowsInserted    int
	MovesInserted      int
	DropsInserted      int
	ReceiverBorrows    int
	CapturesInserted   int
	BlanksSkipped      int
	TemporariesSkipped int
	UnresolvedOwners   int
}

// Total returns the number of tracking calls inserted.
func (s *Stats) Total() int {
	return s.CreationsInserted + s.BorrowsInserted + s.MovesInserted +
		s.DropsInserted + s.ReceiverBorrows + s.CapturesInserted
}

func (s *Stats) String() string {
	return fmt.Sprintf("creations=%d borrows=%d moves=%d drops=%d receivers=%d captures=%d",
		s.CreationsInserted, s.BorrowsInserted, s.MovesInserted,
		s.DropsInserted, s.ReceiverBorrows, s.CapturesInserted)
}

// Result is a successful transformation of one file.
type Result struct {
	// Code is the rewritten source, gofmt-shaped.
	Code string

	Stats Stats

	// Degraded lists the sites where tracking fidelity was reduced
	// rather than refused.
	Degraded []Diagnostic
}

// File transforms one Go source file.
//
// src follows the parser.ParseFile convention: nil reads the file at
// filename, otherwise it supplies the source (string, []byte, or
// io.Reader). On refused constructs the returned error is a
// RejectionList covering every offending site in the file, and no code
// is produced.
func File(filename string, src any, opts Options) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if opts.MutatingPrefixes == nil {
		opts.MutatingPrefixes = DefaultMutatingPrefixes()
	}
	if opts.Sites == nil {
		opts.Sites = &SiteAllocator{}
	}

	var (
		stats      Stats
		degraded   []Diagnostic
		rejections RejectionList
	)
	w := &walker{
		fset:       fset,
		opts:       &opts,
		sites:      opts.Sites,
		stats:      &stats,
		degraded:   &degraded,
		rejections: &rejections,
	}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		w.rewriteFunc(fn)
	}
	if len(rejections) > 0 {
		return nil, rejections
	}

	if stats.Total() > 0 {
		ensureRuntimeImport(fset, file)
		injectLifecycle(file)
	}

	var buf bytes.Buffer
	cfg := printer.Config{Mode: printer.UseSpaces | printer.TabIndent, Tabwidth: 8}
	if err := cfg.Fprint(&buf, fset, file); err != nil {
		return nil, fmt.Errorf("failed to print %s: %w", filename, err)
	}
	return &Result{Code: buf.String(), Stats: stats, Degraded: degraded}, nil
}

// ensureRuntimeImport makes the tracking runtime importable under the
// alias the inserted calls use. A file that already imports the runtime
// (hand-instrumented code) is left alone; AddNamedImport alone would
// duplicate an unnamed import of the same path.
func ensureRuntimeImport(fset *token.FileSet, file *ast.File) {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || path != BorrowPackageImportPath {
			continue
		}
		if imp.Name == nil || imp.Name.Name == BorrowPackageAlias {
			return
		}
	}
	astutil.AddNamedImport(fset, file, BorrowPackageAlias, BorrowPackageImportPath)
}

// injectLifecycle prepends runtime startup and snapshot-flush calls to
// func main of package main. Library packages get no lifecycle calls; the
// importing program owns them.
func injectLifecycle(file *ast.File) {
	if file.Name.Name != "main" {
		return
	}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != "main" || fn.Recv != nil || fn.Body == nil {
			continue
		}
		fn.Body.List = append([]ast.Stmt{
			&ast.ExprStmt{X: trackCall("Init")},
			&ast.DeferStmt{Call: trackCall("Fini")},
		}, fn.Body.List...)
		return
	}
}
