package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

// This file is the "small hand-written Node constructor set" mentioned in
// SPEC_FULL.md §6: a minimal S-expression reader good enough for
// cmd/lumen's -e inline-eval path and for package tests to build real
// programs without a real Reader/Analyzer upstream. It understands a
// fixed, small vocabulary of special forms (do, if, let*, loop*, recur,
// fn*, def, throw, try/catch/finally; not quote) plus ordinary application,
// and resolves every other symbol to either a local slot or a
// namespace-qualified Var. It does not do macroexpansion, destructuring,
// multi-arity fn* (each fn* form it reads produces exactly one arity), or
// free-variable capture analysis (every fn* it builds has an empty
// Captures list — closing over an outer local is out of this reader's
// scope, left to the real Analyzer).

// sexpr is the reader's untyped parse tree: one of sexSymbol, sexString,
// sexInt, sexFloat, or sexList.
type sexpr interface{ isSexpr() }

type sexSymbol string

func (sexSymbol) isSexpr() {}

type sexString string

func (sexString) isSexpr() {}

type sexInt int64

func (sexInt) isSexpr() {}

type sexFloat float64

func (sexFloat) isSexpr() {}

type sexList []sexpr

func (sexList) isSexpr() {}

// readAll tokenizes and parses src into a sequence of raw forms.
func readAll(src string) ([]sexpr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &sexParser{toks: toks}
	var forms []sexpr
	for !p.atEnd() {
		f, err := p.parseOne()
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, nil
}

type token struct {
	text string
	kind tokenKind
}

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokAtom
	tokString
)

func tokenize(src string) ([]token, error) {
	var toks []token
	i, n := 0, len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			i++
		case c == ';':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == '"':
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < n {
				if src[j] == '\\' && j+1 < n {
					sb.WriteByte(src[j+1])
					j += 2
					continue
				}
				if src[j] == '"' {
					closed = true
					j++
					break
				}
				sb.WriteByte(src[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("ast: unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j
		default:
			j := i
			for j < n && !isDelim(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokAtom, text: src[i:j]})
			i = j
		}
	}
	return toks, nil
}

func isDelim(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' ||
		c == '(' || c == ')' || c == '"' || c == ';'
}

type sexParser struct {
	toks []token
	pos  int
}

func (p *sexParser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *sexParser) parseOne() (sexpr, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("ast: unexpected end of input")
	}
	t := p.toks[p.pos]
	switch t.kind {
	case tokLParen:
		p.pos++
		var items sexList
		for {
			if p.atEnd() {
				return nil, fmt.Errorf("ast: unterminated list")
			}
			if p.toks[p.pos].kind == tokRParen {
				p.pos++
				return items, nil
			}
			item, err := p.parseOne()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	case tokRParen:
		return nil, fmt.Errorf("ast: unexpected )")
	case tokString:
		p.pos++
		return sexString(t.text), nil
	default:
		p.pos++
		return parseAtom(t.text), nil
	}
}

func parseAtom(text string) sexpr {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return sexInt(n)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return sexFloat(f)
	}
	return sexSymbol(text)
}

// Builder lowers parsed forms into ast.Node, assigning local slots for
// let*/loop*/fn* params as it descends. DefaultNamespace is used for any
// bare Var reference or def*/throw form that doesn't carry its own
// namespace qualifier (a real Reader would resolve this from the
// compilation unit's ns form; the CLI's -e path just has one).
type Builder struct {
	DefaultNamespace string
	Heap             *gc.Heap
	line             int
}

// NewBuilder returns a Builder resolving unqualified Vars into ns and
// allocating string-literal constants on heap.
func NewBuilder(ns string, heap *gc.Heap) *Builder {
	if ns == "" {
		ns = "user"
	}
	return &Builder{DefaultNamespace: ns, Heap: heap}
}

// frame tracks local-slot assignment within one fn* arity (or, for the
// top-level program, one pseudo-arity spanning every form).
type frame struct {
	names  map[string]int
	next   *int
	parent *frame
}

func newFrame(parent *frame) *frame {
	next := 0
	if parent != nil {
		next = *parent.next
	}
	return &frame{names: map[string]int{}, next: &next, parent: parent}
}

func (f *frame) alloc(name string) int {
	slot := *f.next
	*f.next++
	f.names[name] = slot
	return slot
}

func (f *frame) lookup(name string) (int, bool) {
	for fr := f; fr != nil; fr = fr.parent {
		if slot, ok := fr.names[name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// BuildProgram parses src and lowers it to a sequence of top-level Nodes,
// plus the total local-slot count a top-level chunk must allocate (a real
// Reader-driven compile never needs this, since CompileProgram doesn't set
// Chunk.LocalCount itself — the caller is expected to do so when its forms
// use top-level let*/loop*).
func (b *Builder) BuildProgram(src string) ([]Node, int, error) {
	forms, err := readAll(src)
	if err != nil {
		return nil, 0, err
	}
	top := newFrame(nil)
	nodes := make([]Node, 0, len(forms))
	for _, f := range forms {
		n, err := b.lower(f, top)
		if err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, n)
	}
	return nodes, *top.next, nil
}

func (b *Builder) pos() Position { return NewPos(b.line, 0) }

func (b *Builder) lower(s sexpr, fr *frame) (Node, error) {
	switch v := s.(type) {
	case sexInt:
		return &ConstNode{base: base{b.pos()}, Value: value.InitInteger(int64(v))}, nil
	case sexFloat:
		return &ConstNode{base: base{b.pos()}, Value: value.InitFloat(float64(v))}, nil
	case sexString:
		if b.Heap == nil {
			return nil, fmt.Errorf("ast: string literal %q requires a Builder bound to a heap (NewBuilder's heap argument)", string(v))
		}
		return &ConstNode{base: base{b.pos()}, Value: b.Heap.NewString(string(v))}, nil
	case sexSymbol:
		return b.lowerSymbol(string(v), fr)
	case sexList:
		return b.lowerList(v, fr)
	default:
		return nil, fmt.Errorf("ast: unknown sexpr %T", s)
	}
}

func (b *Builder) lowerSymbol(name string, fr *frame) (Node, error) {
	switch name {
	case "nil":
		return &ConstNode{base: base{b.pos()}, Value: value.InitNil()}, nil
	case "true":
		return &ConstNode{base: base{b.pos()}, Value: value.InitBool(true)}, nil
	case "false":
		return &ConstNode{base: base{b.pos()}, Value: value.InitBool(false)}, nil
	}
	if slot, ok := fr.lookup(name); ok {
		return &LocalRefNode{base: base{b.pos()}, Name: name, Slot: slot}, nil
	}
	if idx := strings.IndexByte(name, '/'); idx > 0 {
		return &VarRefNode{base: base{b.pos()}, Namespace: name[:idx], Name: name[idx+1:]}, nil
	}
	return &VarRefNode{base: base{b.pos()}, Namespace: b.DefaultNamespace, Name: name}, nil
}

func (b *Builder) lowerList(items sexList, fr *frame) (Node, error) {
	if len(items) == 0 {
		return &ConstNode{base: base{b.pos()}, Value: value.InitNil()}, nil
	}
	head, isSym := items[0].(sexSymbol)
	if isSym {
		switch head {
		case "do":
			return b.lowerDo(items[1:], fr)
		case "if":
			return b.lowerIf(items[1:], fr)
		case "let*":
			return b.lowerLet(items[1:], fr, false)
		case "loop*":
			return b.lowerLet(items[1:], fr, true)
		case "recur":
			return b.lowerRecur(items[1:], fr)
		case "fn*":
			return b.lowerFn(items[1:], fr)
		case "def":
			return b.lowerDef(items[1:], fr)
		case "throw":
			return b.lowerThrow(items[1:], fr)
		case "try":
			return b.lowerTry(items[1:], fr)
		}
	}
	fn, err := b.lower(items[0], fr)
	if err != nil {
		return nil, err
	}
	args := make([]Node, len(items)-1)
	for i, a := range items[1:] {
		args[i], err = b.lower(a, fr)
		if err != nil {
			return nil, err
		}
	}
	return &InvokeNode{base: base{b.pos()}, Fn: fn, Args: args}, nil
}

func (b *Builder) lowerDo(items []sexpr, fr *frame) (Node, error) {
	body := make([]Node, len(items))
	for i, it := range items {
		n, err := b.lower(it, fr)
		if err != nil {
			return nil, err
		}
		body[i] = n
	}
	return &DoNode{base: base{b.pos()}, Body: body}, nil
}

func (b *Builder) lowerIf(items []sexpr, fr *frame) (Node, error) {
	if len(items) < 2 || len(items) > 3 {
		return nil, fmt.Errorf("ast: if expects (if test then [else]), got %d forms", len(items))
	}
	test, err := b.lower(items[0], fr)
	if err != nil {
		return nil, err
	}
	then, err := b.lower(items[1], fr)
	if err != nil {
		return nil, err
	}
	var els Node
	if len(items) == 3 {
		els, err = b.lower(items[2], fr)
		if err != nil {
			return nil, err
		}
	}
	return &IfNode{base: base{b.pos()}, Test: test, Then: then, Else: els}, nil
}

func (b *Builder) lowerLet(items []sexpr, outer *frame, isLoop bool) (Node, error) {
	if len(items) < 1 {
		return nil, fmt.Errorf("ast: let*/loop* expects a binding vector and a body")
	}
	bindingList, ok := items[0].(sexList)
	if !ok || len(bindingList)%2 != 0 {
		return nil, fmt.Errorf("ast: let*/loop* bindings must be a flat (name init name init ...) list")
	}
	fr := newFrame(outer)
	bindings := make([]Binding, 0, len(bindingList)/2)
	for i := 0; i < len(bindingList); i += 2 {
		name, ok := bindingList[i].(sexSymbol)
		if !ok {
			return nil, fmt.Errorf("ast: let*/loop* binding name must be a symbol")
		}
		init, err := b.lower(bindingList[i+1], fr)
		if err != nil {
			return nil, err
		}
		slot := fr.alloc(string(name))
		bindings = append(bindings, Binding{Slot: slot, Name: string(name), Init: init})
	}
	body := make([]Node, len(items)-1)
	for i, it := range items[1:] {
		n, err := b.lower(it, fr)
		if err != nil {
			return nil, err
		}
		body[i] = n
	}
	*outer.next = *fr.next
	if isLoop {
		return &LoopNode{base: base{b.pos()}, Bindings: bindings, Body: body}, nil
	}
	return &LetNode{base: base{b.pos()}, Bindings: bindings, Body: body}, nil
}

func (b *Builder) lowerRecur(items []sexpr, fr *frame) (Node, error) {
	args := make([]Node, len(items))
	for i, it := range items {
		n, err := b.lower(it, fr)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	return &RecurNode{base: base{b.pos()}, Args: args}, nil
}

func (b *Builder) lowerFn(items []sexpr, _ *frame) (Node, error) {
	if len(items) < 1 {
		return nil, fmt.Errorf("ast: fn* expects a parameter vector and a body")
	}
	name := ""
	rest := items
	if sym, ok := items[0].(sexSymbol); ok {
		name = string(sym)
		rest = items[1:]
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("ast: fn* expects a parameter vector")
	}
	paramList, ok := rest[0].(sexList)
	if !ok {
		return nil, fmt.Errorf("ast: fn* parameter list must be a list of symbols")
	}
	fnFrame := newFrame(nil)
	params := make([]string, 0, len(paramList))
	variadic := false
	for _, p := range paramList {
		sym, ok := p.(sexSymbol)
		if !ok {
			return nil, fmt.Errorf("ast: fn* parameter must be a symbol")
		}
		if sym == "&" {
			variadic = true
			continue
		}
		fnFrame.alloc(string(sym))
		params = append(params, string(sym))
	}
	body := make([]Node, len(rest)-1)
	for i, it := range rest[1:] {
		n, err := b.lower(it, fnFrame)
		if err != nil {
			return nil, err
		}
		body[i] = n
	}
	arity := FnArity{Params: params, Variadic: variadic, LocalCount: *fnFrame.next, Body: body}
	return &FnNode{base: base{b.pos()}, Name: name, Arities: []FnArity{arity}}, nil
}

func (b *Builder) lowerDef(items []sexpr, fr *frame) (Node, error) {
	if len(items) < 1 {
		return nil, fmt.Errorf("ast: def expects a name and an optional init")
	}
	sym, ok := items[0].(sexSymbol)
	if !ok {
		return nil, fmt.Errorf("ast: def name must be a symbol")
	}
	ns, name := b.DefaultNamespace, string(sym)
	if idx := strings.IndexByte(name, '/'); idx > 0 {
		ns, name = name[:idx], name[idx+1:]
	}
	var init Node
	if len(items) > 1 {
		n, err := b.lower(items[1], fr)
		if err != nil {
			return nil, err
		}
		init = n
	}
	return &DefNode{base: base{b.pos()}, Namespace: ns, Name: name, Init: init}, nil
}

// lowerTry reads (try body... (catch Type binding body...)* (finally body...)?).
// Catch clauses must precede an optional trailing finally clause.
func (b *Builder) lowerTry(items []sexpr, fr *frame) (Node, error) {
	var body []Node
	var catches []CatchClause
	var finally []Node
	seenFinally := false
	i := 0
	for ; i < len(items); i++ {
		lst, ok := items[i].(sexList)
		if ok && len(lst) > 0 {
			if head, ok := lst[0].(sexSymbol); ok && (head == "catch" || head == "finally") {
				break
			}
		}
		n, err := b.lower(items[i], fr)
		if err != nil {
			return nil, err
		}
		body = append(body, n)
	}
	for ; i < len(items); i++ {
		lst, ok := items[i].(sexList)
		if !ok || len(lst) == 0 {
			return nil, fmt.Errorf("ast: try expects only catch/finally clauses after its body")
		}
		head, _ := lst[0].(sexSymbol)
		switch head {
		case "catch":
			if seenFinally {
				return nil, fmt.Errorf("ast: catch clause after finally")
			}
			if len(lst) < 3 {
				return nil, fmt.Errorf("ast: catch expects (catch Type binding body...)")
			}
			typ, ok := lst[1].(sexSymbol)
			if !ok {
				return nil, fmt.Errorf("ast: catch's exception type must be a symbol")
			}
			bindSym, ok := lst[2].(sexSymbol)
			if !ok {
				return nil, fmt.Errorf("ast: catch's binding must be a symbol")
			}
			catchFrame := newFrame(fr)
			catchFrame.alloc(string(bindSym))
			clauseBody := make([]Node, len(lst)-3)
			for j, it := range lst[3:] {
				n, err := b.lower(it, catchFrame)
				if err != nil {
					return nil, err
				}
				clauseBody[j] = n
			}
			*fr.next = *catchFrame.next
			catches = append(catches, CatchClause{ExceptionType: string(typ), Binding: string(bindSym), Body: clauseBody})
		case "finally":
			seenFinally = true
			for _, it := range lst[1:] {
				n, err := b.lower(it, fr)
				if err != nil {
					return nil, err
				}
				finally = append(finally, n)
			}
		default:
			return nil, fmt.Errorf("ast: expected catch or finally, got %q", head)
		}
	}
	return &TryNode{base: base{b.pos()}, Body: body, Catches: catches, Finally: finally}, nil
}

func (b *Builder) lowerThrow(items []sexpr, fr *frame) (Node, error) {
	if len(items) != 1 {
		return nil, fmt.Errorf("ast: throw expects exactly one expression")
	}
	expr, err := b.lower(items[0], fr)
	if err != nil {
		return nil, err
	}
	return &ThrowNode{base: base{b.pos()}, Expr: expr}, nil
}
