// Package ast defines the Node contract the core consumes from the
// Analyzer. The Analyzer itself — forms, macroexpansion,
// namespace resolution — is an external collaborator and out of scope;
// this package only gives the Compiler and the tree-walk Evaluator a
// shared, concrete Node type to compile/evaluate against.
package ast

// Position is a source location, attached to every Node so diagnostics
// (internal/errors) can point back at the offending form.
type Position struct {
	Line   int
	Column int
}

// NodeKind enumerates the Node variants.
type NodeKind int

const (
	KindConst NodeKind = iota
	KindLocalRef
	KindVarRef
	KindDo
	KindIf
	KindLet
	KindLoop
	KindRecur
	KindFn
	KindDefn
	KindDef
	KindQuote
	KindTry
	KindThrow
	KindDefProtocol
	KindExtendType
	KindDefMulti
	KindDefMethod
	KindInteropCall
	KindCase
	KindInvoke
)

var kindNames = [...]string{
	"const", "local-ref", "var-ref", "do", "if", "let*", "loop*", "recur",
	"fn*", "defn*", "def", "quote", "try", "throw", "defprotocol",
	"extend-type", "defmulti", "defmethod", "interop-call", "case*", "invoke",
}

func (k NodeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Node is implemented by every concrete AST node the Analyzer may hand the
// Compiler or Evaluator. The core never mutates a Node.
type Node interface {
	Kind() NodeKind
	Pos() Position
}

// base is embedded by every concrete Node to supply Pos().
type base struct {
	Position Position
}

func (b base) Pos() Position { return b.Position }
