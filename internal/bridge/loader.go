package bridge

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/bootstrap"
	"github.com/lumen-lang/lumen/internal/value"
)

// LoadTopLevel interprets the four bootstrap-registry forms the compiler
// and evaluator both refuse to compile/evaluate directly (defprotocol,
// extend-type, defmulti, defmethod): these are rare, top-level-only
// declarations that mutate the Protocol/Multimethod registries rather
// than compute an ordinary value, so Bridge — which already holds both
// engines and the Runtime — interprets them here instead of teaching
// either engine a one-off code path.
func (b *Bridge) LoadTopLevel(n ast.Node) (value.Value, error) {
	switch node := n.(type) {
	case *ast.DefProtocolNode:
		return b.loadDefProtocol(node)
	case *ast.ExtendTypeNode:
		return b.loadExtendType(node)
	case *ast.DefMultiNode:
		return b.loadDefMulti(node)
	case *ast.DefMethodNode:
		return b.loadDefMethod(node)
	default:
		return value.InitNil(), fmt.Errorf("bridge: LoadTopLevel called on non-bootstrap node %T", n)
	}
}

func (b *Bridge) loadDefProtocol(n *ast.DefProtocolNode) (value.Value, error) {
	names := make([]string, len(n.Methods))
	for i, m := range n.Methods {
		names[i] = m.Name
	}
	b.RT.Protocols.DefProtocol(n.Namespace, n.Name, names)

	for _, sig := range n.Methods {
		dispatcher := bootstrap.NewProtocolDispatcher(b.RT.Protocols, n.Namespace, n.Name, sig.Name, b.typeKeyFor)
		methodFn := b.RT.Builtins.RegisterBuiltin(n.Namespace+"/"+sig.Name, func(rt *bootstrap.Runtime, args []value.Value) (value.Value, error) {
			fn, err := dispatcher.Dispatch(args)
			if err != nil {
				return value.InitNil(), err
			}
			return rt.CallFn(fn, args)
		})
		if err := b.RT.SetVar(n.Namespace, sig.Name, methodFn); err != nil {
			return value.InitNil(), err
		}
	}
	return value.InitNil(), nil
}

func (b *Bridge) loadExtendType(n *ast.ExtendTypeNode) (value.Value, error) {
	methods := make(map[string]value.Value, len(n.Methods))
	for _, fnNode := range n.Methods {
		closure, err := b.evalTopLevel(fnNode)
		if err != nil {
			return value.InitNil(), fmt.Errorf("bridge: extend-type %s: %w", fnNode.Name, err)
		}
		methods[fnNode.Name] = closure
	}
	if err := b.RT.Protocols.ExtendType(n.ProtocolNS, n.ProtocolSym, n.TypeKey, methods); err != nil {
		return value.InitNil(), err
	}
	return value.InitNil(), nil
}

// loadDefMulti registers the multimethod and, mirroring defprotocol's
// methodFn pattern, binds n.Name to a dispatcher builtin so ordinary call
// syntax ((my-multi x)) actually reaches it — DefMulti alone only
// populates the registry, it doesn't make the name callable.
func (b *Bridge) loadDefMulti(n *ast.DefMultiNode) (value.Value, error) {
	dispatchFn, err := b.evalTopLevel(n.DispatchFn)
	if err != nil {
		return value.InitNil(), fmt.Errorf("bridge: defmulti %s: %w", n.Name, err)
	}
	b.RT.Multimethods.DefMulti(n.Namespace, n.Name, dispatchFn, value.InitNil())

	ns, name := n.Namespace, n.Name
	dispatcher := b.RT.Builtins.RegisterBuiltin(ns+"/"+name, func(rt *bootstrap.Runtime, args []value.Value) (value.Value, error) {
		dv, err := rt.CallFn(dispatchFn, args)
		if err != nil {
			return value.InitNil(), err
		}
		key := value.Print(b.Heap, dv, true, value.PrintLimits{})
		method, ok := rt.Multimethods.Resolve(ns, name, key, dv)
		if !ok {
			return value.InitNil(), fmt.Errorf("bridge: no method in multimethod %s/%s for dispatch value %s", ns, name, key)
		}
		return rt.CallFn(method, args)
	})
	if err := b.RT.SetVar(ns, name, dispatcher); err != nil {
		return value.InitNil(), err
	}
	return value.InitNil(), nil
}

func (b *Bridge) loadDefMethod(n *ast.DefMethodNode) (value.Value, error) {
	dispatchVal, err := b.evalTopLevel(n.DispatchVal)
	if err != nil {
		return value.InitNil(), fmt.Errorf("bridge: defmethod %s: %w", n.MultiName, err)
	}
	closure, err := b.evalTopLevel(n.Fn)
	if err != nil {
		return value.InitNil(), fmt.Errorf("bridge: defmethod %s: %w", n.MultiName, err)
	}
	key := value.Print(b.Heap, dispatchVal, true, value.PrintLimits{})
	if err := b.RT.Multimethods.DefMethod(n.MultiNamespace, n.MultiName, key, dispatchVal, closure); err != nil {
		return value.InitNil(), err
	}
	return value.InitNil(), nil
}

// evalTopLevel runs a single AST node (typically a fn* literal or a
// dispatch-value expression) through the tree-walk evaluator at top
// level, with no enclosing frame — exactly what defprotocol/defmulti/
// defmethod bodies need, since they're only ever written at namespace
// top level, never nested inside another function's locals.
func (b *Bridge) evalTopLevel(n ast.Node) (value.Value, error) {
	return b.Eval.EvalProgram([]ast.Node{n})
}
