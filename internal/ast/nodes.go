package ast

import "github.com/lumen-lang/lumen/internal/value"

// ConstNode is a literal value known at compile time.
type ConstNode struct {
	base
	Value value.Value
}

func (n *ConstNode) Kind() NodeKind { return KindConst }

// LocalRefNode references a local binding by its assigned stack slot.
type LocalRefNode struct {
	base
	Name string
	Slot int
}

func (n *LocalRefNode) Kind() NodeKind { return KindLocalRef }

// VarRefNode references a namespace-qualified Var.
type VarRefNode struct {
	base
	Namespace string
	Name      string
}

func (n *VarRefNode) Kind() NodeKind { return KindVarRef }

// DoNode sequences statements, yielding the value of the last.
type DoNode struct {
	base
	Body []Node
}

func (n *DoNode) Kind() NodeKind { return KindDo }

// IfNode is a three-way conditional (Else may be nil, meaning nil).
type IfNode struct {
	base
	Test, Then, Else Node
}

func (n *IfNode) Kind() NodeKind { return KindIf }

// Binding is one let*/loop* binding: a local slot, its name (for
// diagnostics/local-ref resolution upstream), and its initializer.
type Binding struct {
	Slot int
	Name string
	Init Node
}

// LetNode introduces local bindings in sequence, each visible to later
// initializers, evaluating Body in the resulting scope.
type LetNode struct {
	base
	Bindings []Binding
	Body     []Node
}

func (n *LetNode) Kind() NodeKind { return KindLet }

// LoopNode is like LetNode but additionally establishes a recur target:
// a RecurNode within Body (not crossing an intervening fn* boundary)
// jumps back to LoopNode's start with new bindings.
type LoopNode struct {
	base
	Bindings []Binding
	Body     []Node
}

func (n *LoopNode) Kind() NodeKind { return KindLoop }

// RecurNode rebinds the nearest enclosing loop*/fn*'s loop variables and
// jumps to its start. The analyzer is responsible for rejecting recur
// across a function boundary; the core only enforces the
// arity match against the loop's binding count at compile/eval time.
type RecurNode struct {
	base
	Args []Node
}

func (n *RecurNode) Kind() NodeKind { return KindRecur }

// FnArity is one arity body of a (possibly multi-arity) function.
type FnArity struct {
	Params     []string
	Variadic   bool // last param collects excess args into a sequence
	LocalCount int  // total local slots needed by this arity's body
	Body       []Node
}

// CaptureRef names an outer local captured by a closure, paired with the
// slot it occupies in the enclosing function.
type CaptureRef struct {
	Name      string
	OuterSlot int
}

// FnNode compiles to a function prototype (one per arity) plus, at
// make-closure time, a capture list copied from the defining scope.
type FnNode struct {
	base
	Name     string // "" for anonymous fn*
	Arities  []FnArity
	Captures []CaptureRef
}

func (n *FnNode) Kind() NodeKind { return KindFn }

// DefnNode is defn* sugar: def a Var bound to a freshly compiled fn*.
type DefnNode struct {
	base
	Namespace string
	Name      string
	Fn        *FnNode
}

func (n *DefnNode) Kind() NodeKind { return KindDefn }

// DefNode creates or updates a Var's root binding.
type DefNode struct {
	base
	Namespace string
	Name      string
	Init      Node // nil for a bare forward declaration
}

func (n *DefNode) Kind() NodeKind { return KindDef }

// QuoteNode yields a literal form value without evaluating it.
type QuoteNode struct {
	base
	Value value.Value
}

func (n *QuoteNode) Kind() NodeKind { return KindQuote }

// CatchClause matches a thrown exception's type key against ExceptionType.
// The hierarchy-aware matcher lives in internal/bootstrap; the node only
// names the declared type and binding.
type CatchClause struct {
	ExceptionType string
	Binding       string
	Body          []Node
}

// TryNode installs a handler descriptor for Body, matching exceptions
// against Catches in order, and always running Finally on the way out.
type TryNode struct {
	base
	Body    []Node
	Catches []CatchClause
	Finally []Node
}

func (n *TryNode) Kind() NodeKind { return KindTry }

// ThrowNode raises Expr's value as an exception.
type ThrowNode struct {
	base
	Expr Node
}

func (n *ThrowNode) Kind() NodeKind { return KindThrow }

// ProtocolMethodSig names one method signature within a protocol
// definition (arity is informational; dispatch is always on argument 0).
type ProtocolMethodSig struct {
	Name  string
	Arity int
}

// DefProtocolNode declares a named interface.
type DefProtocolNode struct {
	base
	Namespace string
	Name      string
	Methods   []ProtocolMethodSig
}

func (n *DefProtocolNode) Kind() NodeKind { return KindDefProtocol }

// ExtendTypeNode extends a protocol for a concrete type key with method
// implementations.
type ExtendTypeNode struct {
	base
	TypeKey     string
	ProtocolNS  string
	ProtocolSym string
	Methods     []*FnNode
}

func (n *ExtendTypeNode) Kind() NodeKind { return KindExtendType }

// DefMultiNode declares a multimethod with a dispatch function.
type DefMultiNode struct {
	base
	Namespace  string
	Name       string
	DispatchFn Node
}

func (n *DefMultiNode) Kind() NodeKind { return KindDefMulti }

// DefMethodNode installs one dispatch-value -> implementation entry.
type DefMethodNode struct {
	base
	MultiNamespace string
	MultiName      string
	DispatchVal    Node // typically a ConstNode, but may be an expression
	Fn             *FnNode
}

func (n *DefMethodNode) Kind() NodeKind { return KindDefMethod }

// InteropCallNode calls a named member (method/field) on Target's value;
// the concrete host-interop resolution is an external-collaborator
// concern, this node is the shape the Compiler/Evaluator see.
type InteropCallNode struct {
	base
	Target Node
	Member string
	Args   []Node
}

func (n *InteropCallNode) Kind() NodeKind { return KindInteropCall }

// CaseClause matches Expr's value against Values (any match selects Body).
type CaseClause struct {
	Values []value.Value
	Body   Node
}

// CaseNode is compiled to a sequential equality chain, one comparison per
// clause value in order; no hashed jump table is built.
type CaseNode struct {
	base
	Expr    Node
	Clauses []CaseClause
	Default Node // nil means throw if unmatched
}

func (n *CaseNode) Kind() NodeKind { return KindCase }

// InvokeNode calls Fn with Args, routed through the Call Bridge's protocol
// regardless of Fn's runtime tag.
type InvokeNode struct {
	base
	Fn   Node
	Args []Node
}

func (n *InvokeNode) Kind() NodeKind { return KindInvoke }

// NewPos is a small constructor convenience used by tests and by
// cmd/lumen's inline (-e) path, which builds trivial Nodes directly
// without a real reader/analyzer upstream.
func NewPos(line, col int) Position { return Position{Line: line, Column: col} }
