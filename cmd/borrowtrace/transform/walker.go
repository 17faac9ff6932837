// walker.go - the tree-rewriting walk.
//
// One walker handles one file; its scope stack and symbol table are pushed
// and popped per function, so each function's rewrite is independent. The
// walk is a single depth-first pass: statements are rebuilt in place,
// tracking statements that must precede the current statement accumulate
// in w.pending and are flushed by rewriteStmts.

package transform

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

type walker struct {
	fset  *token.FileSet
	opts  *Options
	sites *SiteAllocator

	scopes scopeStack

	stats      *Stats
	degraded   *[]Diagnostic
	rejections *RejectionList

	// pending holds tracking statements that must execute before the
	// statement currently being rewritten (receiver borrows, capture
	// records, reassignment drops).
	pending []ast.Stmt
}

// loc renders a token position as the file:line:column string recorded on
// events.
func (w *walker) loc(pos token.Pos) string {
	return w.fset.Position(pos).String()
}

func (w *walker) diag(pos token.Pos, msg string) {
	*w.degraded = append(*w.degraded, Diagnostic{Loc: w.loc(pos), Message: msg})
}

func (w *walker) reject(pos token.Pos, msg, suggestion string) {
	*w.rejections = append(*w.rejections, newRejection(w.fset, pos, msg, suggestion))
}

// isMutatingName applies the receiver-exclusivity heuristic: a method
// whose lowercased name starts with one of the configured prefixes is
// assumed to need exclusive access to its receiver. Best-effort by design;
// unknown names default to shared.
func (w *walker) isMutatingName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range w.opts.MutatingPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// rewriteFunc rewrites one function body in place.
//
// Parameters (and the method receiver) are registered as creations via
// identity self-assignments at the top of the body, so borrows of them
// resolve and they participate in scope-exit drops like any binding.
func (w *walker) rewriteFunc(fn *ast.FuncDecl) {
	if fn.Body == nil {
		return
	}
	w.scopes.push(frameFunc)

	var paramInits []ast.Stmt
	declare := func(field *ast.Field) {
		for _, nm := range field.Names {
			if nm.Name == "_" {
				continue
			}
			site := w.sites.Next()
			w.scopes.declare(nm.Name, site)
			paramInits = append(paramInits, selfAssign(nm.Name,
				newCall(site, nm.Name, typeString(w.fset, field.Type),
					w.loc(nm.Pos()), w.scopes.depth(), ast.NewIdent(nm.Name))))
			w.stats.CreationsInserted++
		}
	}
	if fn.Recv != nil {
		for _, f := range fn.Recv.List {
			declare(f)
		}
	}
	if fn.Type.Params != nil {
		for _, f := range fn.Type.Params.List {
			declare(f)
		}
	}

	body := w.rewriteStmts(fn.Body.List)
	fn.Body.List = append(paramInits, body...)

	f := w.scopes.pop()
	if !terminates(fn.Body.List) {
		fn.Body.List = append(fn.Body.List, w.dropsForFrame(f, w.loc(fn.Body.Rbrace))...)
	}
}

// rewriteStmts rebuilds a statement list, flushing pending tracking
// statements before each rewritten statement. The caller's own pending
// list is preserved across the recursion.
func (w *walker) rewriteStmts(list []ast.Stmt) []ast.Stmt {
	saved := w.pending
	out := make([]ast.Stmt, 0, len(list))
	for _, s := range list {
		w.pending = nil
		stmts := w.rewriteStmt(s)
		out = append(out, w.pending...)
		out = append(out, stmts...)
	}
	w.pending = saved
	return out
}

// rewriteBlock rewrites a nested block with its own scope frame and
// appends its exit drops unless the block already ends on a terminator
// (whose rewrite emitted the drops itself).
func (w *walker) rewriteBlock(b *ast.BlockStmt, kind frameKind) {
	w.scopes.push(kind)
	b.List = w.rewriteStmts(b.List)
	f := w.scopes.pop()
	if !terminates(b.List) {
		b.List = append(b.List, w.dropsForFrame(f, w.loc(b.Rbrace))...)
	}
}

// dropsForFrame converts a frame's sites into TrackDrop statements in
// strict last-in-first-out order.
func (w *walker) dropsForFrame(f *frame, loc string) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(f.sites))
	for i := len(f.sites) - 1; i >= 0; i-- {
		out = append(out, dropStmt(f.sites[i], loc))
		w.stats.DropsInserted++
	}
	return out
}

// terminates reports whether a statement list ends on a statement after
// which appended drops would be unreachable. Such paths got their drops
// from the terminator's own rewrite.
func terminates(list []ast.Stmt) bool {
	if len(list) == 0 {
		return false
	}
	switch s := list[len(list)-1].(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.BranchStmt:
		return s.Tok != token.FALLTHROUGH
	}
	return false
}

// rewriteStmt rewrites one statement, possibly expanding it into several
// (drops before early exits, post-binding rewrites after multi-value
// bindings, trailing drops after loops).
func (w *walker) rewriteStmt(s ast.Stmt) []ast.Stmt {
	switch x := s.(type) {
	case *ast.AssignStmt:
		return w.rewriteAssign(x)

	case *ast.DeclStmt:
		return w.rewriteDecl(x)

	case *ast.ExprStmt:
		x.X = w.rewriteExpr(x.X)
		return []ast.Stmt{x}

	case *ast.ReturnStmt:
		for i := range x.Results {
			x.Results[i] = w.rewriteExpr(x.Results[i])
		}
		var drops []ast.Stmt
		for _, f := range w.scopes.framesFromInnermost() {
			drops = append(drops, w.dropsForFrame(f, w.loc(x.Pos()))...)
		}
		return append(drops, x)

	case *ast.BranchStmt:
		if x.Label != nil {
			w.diag(x.Pos(), "labeled branch: scope-exit drops are not emitted for this path")
			return []ast.Stmt{x}
		}
		var frames []*frame
		switch x.Tok {
		case token.BREAK:
			frames = w.scopes.framesForBreak()
		case token.CONTINUE:
			frames = w.scopes.framesForContinue()
		default:
			return []ast.Stmt{x}
		}
		var drops []ast.Stmt
		for _, f := range frames {
			drops = append(drops, w.dropsForFrame(f, w.loc(x.Pos()))...)
		}
		return append(drops, x)

	case *ast.BlockStmt:
		w.rewriteBlock(x, frameBlock)
		return []ast.Stmt{x}

	case *ast.IfStmt:
		return w.rewriteIf(x)

	case *ast.ForStmt:
		return w.rewriteFor(x)

	case *ast.RangeStmt:
		return w.rewriteRange(x)

	case *ast.SwitchStmt:
		return w.rewriteSwitch(x)

	case *ast.TypeSwitchStmt:
		return w.rewriteTypeSwitch(x)

	case *ast.SelectStmt:
		return w.rewriteSelect(x)

	case *ast.GoStmt:
		w.rewriteExpr(x.Call)
		return []ast.Stmt{x}

	case *ast.DeferStmt:
		w.rewriteExpr(x.Call)
		return []ast.Stmt{x}

	case *ast.SendStmt:
		x.Chan = w.rewriteExpr(x.Chan)
		x.Value = w.rewriteExpr(x.Value)
		return []ast.Stmt{x}

	case *ast.LabeledStmt:
		inner := w.rewriteStmt(x.Stmt)
		if len(inner) == 0 {
			return []ast.Stmt{x}
		}
		// Keep the label on the first statement (the loop itself) and
		// emit any trailing drops after it.
		x.Stmt = inner[0]
		return append([]ast.Stmt{x}, inner[1:]...)
	}

	// Unsupported statement shapes degrade gracefully: left unwrapped.
	return []ast.Stmt{s}
}

// rewriteAssign handles bindings and assignments: the central
// classification of an initializer into creation, borrow, or move.
func (w *walker) rewriteAssign(x *ast.AssignStmt) []ast.Stmt {
	switch {
	case x.Tok == token.DEFINE && len(x.Lhs) == len(x.Rhs):
		w.rewriteDefinePairs(x)
		return []ast.Stmt{x}

	case x.Tok == token.DEFINE:
		// Multi-value binding: a, b := f(). Go tuples are not
		// first-class, so instead of a synthetic temporary each named
		// sub-binding gets a post-binding identity rewrite; blanks are
		// not tracked.
		x.Rhs[0] = w.rewriteExpr(x.Rhs[0])
		var post []ast.Stmt
		for _, l := range x.Lhs {
			id, ok := l.(*ast.Ident)
			if !ok {
				continue
			}
			if id.Name == "_" {
				w.stats.BlanksSkipped++
				continue
			}
			site := w.sites.Next()
			w.scopes.declare(id.Name, site)
			post = append(post, selfAssign(id.Name,
				newCall(site, id.Name, "", w.loc(id.Pos()), w.scopes.depth(),
					ast.NewIdent(id.Name))))
			w.stats.CreationsInserted++
		}
		return append([]ast.Stmt{x}, post...)

	case x.Tok == token.ASSIGN:
		w.rewriteAssignPairs(x)
		return []ast.Stmt{x}

	default:
		// Compound assignment (+= and friends): no binding is formed.
		for i := range x.Rhs {
			x.Rhs[i] = w.rewriteExpr(x.Rhs[i])
		}
		return []ast.Stmt{x}
	}
}

// rewriteDefinePairs wraps each initializer of `a, b := e1, e2`.
func (w *walker) rewriteDefinePairs(x *ast.AssignStmt) {
	for i, l := range x.Lhs {
		id, ok := l.(*ast.Ident)
		if !ok {
			x.Rhs[i] = w.rewriteExpr(x.Rhs[i])
			continue
		}
		if id.Name == "_" {
			w.stats.BlanksSkipped++
			x.Rhs[i] = w.rewriteExpr(x.Rhs[i])
			continue
		}
		x.Rhs[i] = w.wrapBinding(id, "", x.Rhs[i])
	}
}

// rewriteAssignPairs handles plain `=` assignments. A bare identifier on
// the right transfers ownership in the tracked dialect: the destination's
// previous incarnation is dropped just before the move executes.
func (w *walker) rewriteAssignPairs(x *ast.AssignStmt) {
	if len(x.Lhs) != len(x.Rhs) {
		for i := range x.Rhs {
			x.Rhs[i] = w.rewriteExpr(x.Rhs[i])
		}
		return
	}
	for i := range x.Rhs {
		src, srcOK := x.Rhs[i].(*ast.Ident)
		dst, dstOK := x.Lhs[i].(*ast.Ident)
		if srcOK && dstOK && src.Name != "_" && dst.Name != "_" {
			fromSite, fromKnown := w.scopes.lookup(src.Name)
			destSite, destKnown := w.scopes.lookup(dst.Name)
			if fromKnown && destKnown {
				loc := w.loc(x.Pos())
				w.pending = append(w.pending, dropStmt(destSite, loc))
				w.stats.DropsInserted++
				x.Rhs[i] = moveCall(destSite, fromSite, dst.Name, loc,
					w.scopes.depth(), src)
				w.stats.MovesInserted++
				continue
			}
		}
		x.Lhs[i] = w.rewriteExpr(x.Lhs[i])
		x.Rhs[i] = w.rewriteExpr(x.Rhs[i])
	}
}

// wrapBinding classifies and wraps the initializer of a single named
// binding. Resolution order: reference-forming expression, then bare
// identifier (a move), then plain creation.
func (w *walker) wrapBinding(name *ast.Ident, typeName string, init ast.Expr) ast.Expr {
	loc := w.loc(name.Pos())
	depth := w.scopes.depth()

	// A borrow binding, r := &x. The borrow is itself a creation: the
	// runtime records the named binding and the borrow edge as a pair.
	// Borrow-of-a-borrow resolves to the inner borrow's site, not the
	// root owner.
	if ue, ok := init.(*ast.UnaryExpr); ok && ue.Op == token.AND {
		if owner, named := w.borrowOwner(ue); named {
			site := w.sites.Next()
			w.scopes.declare(name.Name, site)
			w.stats.BorrowsInserted++
			w.stats.CreationsInserted++
			return borrowCall(site, owner, false, name.Name, loc, depth, ue)
		}
	}

	// An ownership transfer from a tracked binding, y := x.
	if id, ok := init.(*ast.Ident); ok && id.Name != "_" {
		if from, known := w.scopes.lookup(id.Name); known {
			site := w.sites.Next()
			w.scopes.declare(name.Name, site)
			w.stats.MovesInserted++
			return moveCall(site, from, name.Name, loc, depth, id)
		}
	}

	// Plain creation. Inner reference-forming expressions still get
	// their own wraps.
	init = w.rewriteExpr(init)
	site := w.sites.Next()
	w.scopes.declare(name.Name, site)
	w.stats.CreationsInserted++
	return newCall(site, name.Name, typeName, loc, depth, init)
}

// borrowOwner resolves the operand of a reference-forming expression.
//
// Only simple named variables form tracked borrows; anything else is a
// temporary with no stable name and stays untouched. A name missing from
// the symbol table is still tracked, against the unresolved owner (site
// 0), and surfaces as a warning.
func (w *walker) borrowOwner(ue *ast.UnaryExpr) (uint64, bool) {
	id, ok := ue.X.(*ast.Ident)
	if !ok || id.Name == "_" {
		return 0, false
	}
	site, known := w.scopes.lookup(id.Name)
	if !known {
		w.stats.UnresolvedOwners++
		w.diag(ue.Pos(), fmt.Sprintf("borrow of %q: owner not in scope, tracked as unresolved", id.Name))
		return 0, true
	}
	return site, true
}

// rewriteDecl handles declaration statements inside a function body.
//
// Constant and type declarations are refused outright: they introduce
// compile-time items inside a runtime scope, and tracking around them
// would silently corrupt the graph. Var declarations are tracked like
// bindings.
func (w *walker) rewriteDecl(x *ast.DeclStmt) []ast.Stmt {
	gd, ok := x.Decl.(*ast.GenDecl)
	if !ok {
		return []ast.Stmt{x}
	}
	switch gd.Tok {
	case token.CONST:
		w.reject(gd.Pos(),
			"constant declaration inside a tracked function",
			"move the declaration to package scope")
		return []ast.Stmt{x}
	case token.TYPE:
		w.reject(gd.Pos(),
			"type declaration inside a tracked function",
			"move the declaration to package scope")
		return []ast.Stmt{x}
	case token.VAR:
		return w.rewriteVarDecl(x, gd)
	}
	return []ast.Stmt{x}
}

func (w *walker) rewriteVarDecl(x *ast.DeclStmt, gd *ast.GenDecl) []ast.Stmt {
	var post []ast.Stmt
	for _, sp := range gd.Specs {
		vs, ok := sp.(*ast.ValueSpec)
		if !ok {
			continue
		}
		declaredType := typeString(w.fset, vs.Type)
		switch {
		case len(vs.Values) == len(vs.Names) && len(vs.Values) > 0:
			for i, nm := range vs.Names {
				if nm.Name == "_" {
					w.stats.BlanksSkipped++
					vs.Values[i] = w.rewriteExpr(vs.Values[i])
					continue
				}
				vs.Values[i] = w.wrapBinding(nm, declaredType, vs.Values[i])
			}
		case len(vs.Values) == 0:
			// Zero-value declaration: var x int. Tracked via a
			// post-declaration identity rewrite.
			for _, nm := range vs.Names {
				if nm.Name == "_" {
					continue
				}
				site := w.sites.Next()
				w.scopes.declare(nm.Name, site)
				post = append(post, selfAssign(nm.Name,
					newCall(site, nm.Name, declaredType, w.loc(nm.Pos()),
						w.scopes.depth(), ast.NewIdent(nm.Name))))
				w.stats.CreationsInserted++
			}
		default:
			// var a, b = f(): multi-value, same treatment as a, b := f().
			vs.Values[0] = w.rewriteExpr(vs.Values[0])
			for _, nm := range vs.Names {
				if nm.Name == "_" {
					w.stats.BlanksSkipped++
					continue
				}
				site := w.sites.Next()
				w.scopes.declare(nm.Name, site)
				post = append(post, selfAssign(nm.Name,
					newCall(site, nm.Name, declaredType, w.loc(nm.Pos()),
						w.scopes.depth(), ast.NewIdent(nm.Name))))
				w.stats.CreationsInserted++
			}
		}
	}
	return append([]ast.Stmt{x}, post...)
}

// rewriteIf rewrites a conditional. The header (init statement and
// condition) lives in its own frame covering both branches; its drops are
// emitted after the whole statement.
func (w *walker) rewriteIf(x *ast.IfStmt) []ast.Stmt {
	w.scopes.push(frameBlock)
	if x.Init != nil {
		x.Init = w.rewriteInlineStmt(x.Init)
	}
	x.Cond = w.rewriteExpr(x.Cond)
	w.rewriteBlock(x.Body, frameBlock)
	switch e := x.Else.(type) {
	case *ast.BlockStmt:
		w.rewriteBlock(e, frameBlock)
	case *ast.IfStmt:
		inner := w.rewriteStmt(e)
		if len(inner) == 1 {
			x.Else = inner[0]
		} else {
			// The nested if expanded (header drops); an equivalent
			// else-block holds the expansion.
			x.Else = &ast.BlockStmt{List: inner}
		}
	}
	f := w.scopes.pop()
	return append([]ast.Stmt{x}, w.dropsForFrame(f, w.loc(x.End()))...)
}

// rewriteFor rewrites a for loop. The loop header is its own frame (the
// induction variable outlives iterations); the body frame's drops run at
// the end of every iteration.
func (w *walker) rewriteFor(x *ast.ForStmt) []ast.Stmt {
	w.scopes.push(frameLoop)
	if x.Init != nil {
		x.Init = w.rewriteInlineStmt(x.Init)
	}
	if x.Cond != nil {
		x.Cond = w.rewriteExpr(x.Cond)
	}
	if x.Post != nil {
		x.Post = w.rewriteInlineStmt(x.Post)
	}
	w.rewriteBlock(x.Body, frameBlock)
	f := w.scopes.pop()
	return append([]ast.Stmt{x}, w.dropsForFrame(f, w.loc(x.End()))...)
}

// rewriteRange rewrites a range loop. Key and value bindings are
// per-iteration: they are re-created at the top of the body and dropped
// with the body frame, so every iteration yields a fresh incarnation.
func (w *walker) rewriteRange(x *ast.RangeStmt) []ast.Stmt {
	w.scopes.push(frameLoop)
	x.X = w.rewriteExpr(x.X)

	w.scopes.push(frameBlock)
	var inits []ast.Stmt
	if x.Tok == token.DEFINE {
		for _, e := range []ast.Expr{x.Key, x.Value} {
			if e == nil {
				continue
			}
			id, ok := e.(*ast.Ident)
			if !ok || id.Name == "_" {
				continue
			}
			site := w.sites.Next()
			w.scopes.declare(id.Name, site)
			inits = append(inits, selfAssign(id.Name,
				newCall(site, id.Name, "", w.loc(id.Pos()), w.scopes.depth(),
					ast.NewIdent(id.Name))))
			w.stats.CreationsInserted++
		}
	}
	x.Body.List = append(inits, w.rewriteStmts(x.Body.List)...)
	bodyFrame := w.scopes.pop()
	if !terminates(x.Body.List) {
		x.Body.List = append(x.Body.List, w.dropsForFrame(bodyFrame, w.loc(x.Body.Rbrace))...)
	}

	f := w.scopes.pop()
	return append([]ast.Stmt{x}, w.dropsForFrame(f, w.loc(x.End()))...)
}

// rewriteSwitch rewrites a switch; every case body is its own frame.
func (w *walker) rewriteSwitch(x *ast.SwitchStmt) []ast.Stmt {
	w.scopes.push(frameSwitch)
	if x.Init != nil {
		x.Init = w.rewriteInlineStmt(x.Init)
	}
	if x.Tag != nil {
		x.Tag = w.rewriteExpr(x.Tag)
	}
	for _, c := range x.Body.List {
		cc, ok := c.(*ast.CaseClause)
		if !ok {
			continue
		}
		for i := range cc.List {
			cc.List[i] = w.rewriteExpr(cc.List[i])
		}
		w.rewriteClauseBody(&cc.Body, cc.End())
	}
	f := w.scopes.pop()
	return append([]ast.Stmt{x}, w.dropsForFrame(f, w.loc(x.End()))...)
}

// rewriteTypeSwitch rewrites a type switch. The per-clause rebinding of
// the switched variable is not tracked (each clause would need its own
// typed incarnation); this is reported as reduced fidelity.
func (w *walker) rewriteTypeSwitch(x *ast.TypeSwitchStmt) []ast.Stmt {
	w.scopes.push(frameSwitch)
	if x.Init != nil {
		x.Init = w.rewriteInlineStmt(x.Init)
	}
	if as, ok := x.Assign.(*ast.AssignStmt); ok && as.Tok == token.DEFINE {
		w.diag(x.Pos(), "type-switch binding is not tracked per clause")
	}
	for _, c := range x.Body.List {
		cc, ok := c.(*ast.CaseClause)
		if !ok {
			continue
		}
		w.rewriteClauseBody(&cc.Body, cc.End())
	}
	f := w.scopes.pop()
	return append([]ast.Stmt{x}, w.dropsForFrame(f, w.loc(x.End()))...)
}

// rewriteSelect rewrites a select; every communication clause body is its
// own frame.
func (w *walker) rewriteSelect(x *ast.SelectStmt) []ast.Stmt {
	w.scopes.push(frameSwitch)
	for _, c := range x.Body.List {
		cc, ok := c.(*ast.CommClause)
		if !ok {
			continue
		}
		w.scopes.push(frameBlock)
		if cc.Comm != nil {
			cc.Comm = w.rewriteInlineStmt(cc.Comm)
		}
		cc.Body = w.rewriteStmts(cc.Body)
		f := w.scopes.pop()
		if !terminates(cc.Body) {
			cc.Body = append(cc.Body, w.dropsForFrame(f, w.loc(cc.End()))...)
		}
	}
	w.scopes.pop()
	return []ast.Stmt{x}
}

// rewriteClauseBody rewrites a case/comm clause body inside its own frame.
func (w *walker) rewriteClauseBody(body *[]ast.Stmt, end token.Pos) {
	w.scopes.push(frameBlock)
	*body = w.rewriteStmts(*body)
	f := w.scopes.pop()
	if !terminates(*body) {
		*body = append(*body, w.dropsForFrame(f, w.loc(end))...)
	}
}

// rewriteInlineStmt rewrites a statement that must stay a single
// statement (if/for/switch headers, select comm clauses). Multi-value
// bindings in these positions are left untracked rather than expanded.
func (w *walker) rewriteInlineStmt(s ast.Stmt) ast.Stmt {
	switch x := s.(type) {
	case *ast.AssignStmt:
		switch {
		case x.Tok == token.DEFINE && len(x.Lhs) == len(x.Rhs):
			w.rewriteDefinePairs(x)
		case x.Tok == token.ASSIGN && len(x.Lhs) == len(x.Rhs):
			w.rewriteAssignPairs(x)
		default:
			for i := range x.Rhs {
				x.Rhs[i] = w.rewriteExpr(x.Rhs[i])
			}
		}
	case *ast.ExprStmt:
		x.X = w.rewriteExpr(x.X)
	}
	return s
}

// rewriteExpr rewrites one expression tree, wrapping reference-forming
// subexpressions and recording receiver borrows and closure captures.
// Bare identifiers are never wrapped here; moves are recognized only in
// binding and assignment positions.
func (w *walker) rewriteExpr(e ast.Expr) ast.Expr {
	switch x := e.(type) {
	case *ast.UnaryExpr:
		if x.Op == token.AND {
			if owner, named := w.borrowOwner(x); named {
				site := w.sites.Next()
				w.scopes.declareAnonymous(site)
				w.stats.BorrowsInserted++
				return borrowCall(site, owner, false, "", w.loc(x.Pos()), w.scopes.depth(), x)
			}
			// Borrow of a temporary: no stable name, left untouched.
			w.stats.TemporariesSkipped++
			x.X = w.rewriteExpr(x.X)
			return x
		}
		x.X = w.rewriteExpr(x.X)
		return x

	case *ast.CallExpr:
		w.rewriteCall(x)
		return x

	case *ast.FuncLit:
		w.rewriteFuncLit(x)
		return x

	case *ast.ParenExpr:
		x.X = w.rewriteExpr(x.X)
		return x

	case *ast.BinaryExpr:
		x.X = w.rewriteExpr(x.X)
		x.Y = w.rewriteExpr(x.Y)
		return x

	case *ast.StarExpr:
		x.X = w.rewriteExpr(x.X)
		return x

	case *ast.IndexExpr:
		x.X = w.rewriteExpr(x.X)
		x.Index = w.rewriteExpr(x.Index)
		return x

	case *ast.SliceExpr:
		x.X = w.rewriteExpr(x.X)
		if x.Low != nil {
			x.Low = w.rewriteExpr(x.Low)
		}
		if x.High != nil {
			x.High = w.rewriteExpr(x.High)
		}
		if x.Max != nil {
			x.Max = w.rewriteExpr(x.Max)
		}
		return x

	case *ast.CompositeLit:
		for i := range x.Elts {
			x.Elts[i] = w.rewriteExpr(x.Elts[i])
		}
		return x

	case *ast.KeyValueExpr:
		x.Value = w.rewriteExpr(x.Value)
		return x

	case *ast.TypeAssertExpr:
		x.X = w.rewriteExpr(x.X)
		return x
	}
	return e
}

// rewriteCall rewrites a call expression in place. A method call on a
// tracked local implicitly borrows its receiver; the exclusivity comes
// from the mutating-name heuristic and is always reported as best-effort.
func (w *walker) rewriteCall(x *ast.CallExpr) {
	if sel, ok := x.Fun.(*ast.SelectorExpr); ok {
		if recv, isIdent := sel.X.(*ast.Ident); isIdent {
			if ownerSite, known := w.scopes.lookup(recv.Name); known {
				site := w.sites.Next()
				exclusive := w.isMutatingName(sel.Sel.Name)
				w.pending = append(w.pending,
					recvBorrowStmt(site, ownerSite, exclusive, w.loc(x.Pos())))
				w.stats.ReceiverBorrows++
				mode := "shared"
				if exclusive {
					mode = "exclusive"
				}
				w.diag(x.Pos(), fmt.Sprintf(
					"receiver borrow of %q assumed %s from method name %q",
					recv.Name, mode, sel.Sel.Name))
			}
			// Package selectors and untracked receivers fall through:
			// nothing to record.
		} else {
			sel.X = w.rewriteExpr(sel.X)
		}
	} else if _, isLit := x.Fun.(*ast.FuncLit); isLit {
		x.Fun = w.rewriteExpr(x.Fun)
	}
	for i := range x.Args {
		x.Args[i] = w.rewriteExpr(x.Args[i])
	}
}

// rewriteFuncLit records closure captures at the creation site: one
// shared borrow per enclosing variable the body reads. The body itself is
// left untouched; invocations are not tracked.
func (w *walker) rewriteFuncLit(x *ast.FuncLit) {
	if w.opts.SkipCaptures {
		return
	}
	captured := 0
	for _, name := range freeNames(x) {
		ownerSite, known := w.scopes.lookup(name)
		if !known {
			continue
		}
		site := w.sites.Next()
		w.pending = append(w.pending, captureStmt(site, ownerSite, w.loc(x.Pos())))
		w.stats.CapturesInserted++
		captured++
	}
	if captured > 0 {
		w.diag(x.Pos(), fmt.Sprintf(
			"closure captures %d variable(s): tracked at creation only, not per invocation",
			captured))
	}
}

// freeNames approximates the set of identifiers a function literal reads
// from its enclosing scope: every identifier used in the body that the
// literal does not itself declare, in first-use order. Field selectors
// and composite-literal keys are not names.
func freeNames(lit *ast.FuncLit) []string {
	declared := map[string]bool{"_": true}
	if lit.Type.Params != nil {
		for _, f := range lit.Type.Params.List {
			for _, nm := range f.Names {
				declared[nm.Name] = true
			}
		}
	}
	if lit.Type.Results != nil {
		for _, f := range lit.Type.Results.List {
			for _, nm := range f.Names {
				declared[nm.Name] = true
			}
		}
	}

	// First pass: everything the body declares, at any depth.
	ast.Inspect(lit.Body, func(n ast.Node) bool {
		switch d := n.(type) {
		case *ast.AssignStmt:
			if d.Tok == token.DEFINE {
				for _, l := range d.Lhs {
					if id, ok := l.(*ast.Ident); ok {
						declared[id.Name] = true
					}
				}
			}
		case *ast.ValueSpec:
			for _, nm := range d.Names {
				declared[nm.Name] = true
			}
		case *ast.RangeStmt:
			if d.Tok == token.DEFINE {
				for _, e := range []ast.Expr{d.Key, d.Value} {
					if id, ok := e.(*ast.Ident); ok {
						declared[id.Name] = true
					}
				}
			}
		case *ast.FuncLit:
			if d != lit {
				if d.Type.Params != nil {
					for _, f := range d.Type.Params.List {
						for _, nm := range f.Names {
							declared[nm.Name] = true
						}
					}
				}
			}
		}
		return true
	})

	// Second pass: used identifiers not declared inside.
	var out []string
	seen := map[string]bool{}
	var visit func(n ast.Node) bool
	visit = func(n ast.Node) bool {
		switch u := n.(type) {
		case *ast.SelectorExpr:
			ast.Inspect(u.X, visit)
			return false
		case *ast.KeyValueExpr:
			if _, ok := u.Key.(*ast.Ident); ok {
				ast.Inspect(u.Value, visit)
				return false
			}
		case *ast.Ident:
			if !declared[u.Name] && !seen[u.Name] {
				seen[u.Name] = true
				out = append(out, u.Name)
			}
		}
		return true
	}
	ast.Inspect(lit.Body, visit)
	return out
}
