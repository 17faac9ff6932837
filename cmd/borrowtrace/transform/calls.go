// calls.go - tracking-call construction.
//
// Helpers that build the borrow.Track* call expressions spliced into the
// rewritten source. The value-carrying wrappers are generic identity
// functions, so wrapping an initializer never changes its type or how many
// times it is evaluated.

package transform

import (
	"bytes"
	"go/ast"
	"go/printer"
	"go/token"
	"strconv"
)

const (
	// BorrowPackageImportPath is the runtime package injected into
	// instrumented files.
	BorrowPackageImportPath = "github.com/kolkov/borrowtrace/borrow"

	// BorrowPackageAlias is the local name the tracking calls use.
	BorrowPackageAlias = "borrow"
)

// intLit builds an unsigned integer literal.
func intLit(v uint64) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatUint(v, 10)}
}

// strLit builds a quoted string literal.
func strLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}

// boolLit builds a true/false identifier.
func boolLit(v bool) *ast.Ident {
	if v {
		return ast.NewIdent("true")
	}
	return ast.NewIdent("false")
}

// trackCall builds borrow.<fn>(args...).
func trackCall(fn string, args ...ast.Expr) *ast.CallExpr {
	return &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   ast.NewIdent(BorrowPackageAlias),
			Sel: ast.NewIdent(fn),
		},
		Args: args,
	}
}

// newCall wraps an initializer: borrow.TrackNew(site, name, type, loc, depth, init).
func newCall(site uint64, name, typeName, loc string, depth int, init ast.Expr) *ast.CallExpr {
	return trackCall("TrackNew",
		intLit(site), strLit(name), strLit(typeName), strLit(loc),
		intLit(uint64(depth)), init)
}

// borrowCall wraps a reference expression:
// borrow.TrackBorrow(site, ownerSite, exclusive, name, loc, depth, ref).
// name is empty for borrows taken in expression position.
func borrowCall(site, ownerSite uint64, exclusive bool, name, loc string, depth int, ref ast.Expr) *ast.CallExpr {
	return trackCall("TrackBorrow",
		intLit(site), intLit(ownerSite), boolLit(exclusive), strLit(name),
		strLit(loc), intLit(uint64(depth)), ref)
}

// moveCall wraps a transferring expression:
// borrow.TrackMove(site, fromSite, name, loc, depth, value).
func moveCall(site, fromSite uint64, name, loc string, depth int, value ast.Expr) *ast.CallExpr {
	return trackCall("TrackMove",
		intLit(site), intLit(fromSite), strLit(name), strLit(loc),
		intLit(uint64(depth)), value)
}

// dropStmt builds borrow.TrackDrop(site, loc) as a statement.
func dropStmt(site uint64, loc string) ast.Stmt {
	return &ast.ExprStmt{X: trackCall("TrackDrop", intLit(site), strLit(loc))}
}

// recvBorrowStmt builds borrow.TrackRecvBorrow(site, ownerSite, exclusive, loc).
func recvBorrowStmt(site, ownerSite uint64, exclusive bool, loc string) ast.Stmt {
	return &ast.ExprStmt{X: trackCall("TrackRecvBorrow",
		intLit(site), intLit(ownerSite), boolLit(exclusive), strLit(loc))}
}

// captureStmt builds borrow.TrackCapture(site, ownerSite, loc).
func captureStmt(site, ownerSite uint64, loc string) ast.Stmt {
	return &ast.ExprStmt{X: trackCall("TrackCapture",
		intLit(site), intLit(ownerSite), strLit(loc))}
}

// selfAssign builds `name = expr`, the post-binding identity rewrite used
// for multi-value bindings and zero-value declarations.
func selfAssign(name string, expr ast.Expr) ast.Stmt {
	return &ast.AssignStmt{
		Lhs: []ast.Expr{ast.NewIdent(name)},
		Tok: token.ASSIGN,
		Rhs: []ast.Expr{expr},
	}
}

// typeString renders a type expression back to source, for the declared
// type recorded on creation events. Returns "" when the type is inferred.
func typeString(fset *token.FileSet, expr ast.Expr) string {
	if expr == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, expr); err != nil {
		return ""
	}
	return buf.String()
}
