package vm

import (
	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/value"
)

// numericPair extracts two operands as float64s (the common representation
// for mixed int/float arithmetic) along with whether both were integers, so
// the caller can re-box an all-integer result as an integer rather than a
// float.
func numericPair(a, b value.Value) (af, bf float64, bothInt bool, ok bool) {
	switch a.Kind() {
	case value.KindInteger:
		af = float64(a.AsInteger())
	case value.KindFloat:
		af = a.AsFloat()
	default:
		return 0, 0, false, false
	}
	switch b.Kind() {
	case value.KindInteger:
		bf = float64(b.AsInteger())
	default:
		if b.Kind() != value.KindFloat {
			return 0, 0, false, false
		}
		bf = b.AsFloat()
	}
	bothInt = a.Kind() == value.KindInteger && b.Kind() == value.KindInteger
	return af, bf, bothInt, true
}

func (vm *VM) execArith(op compiler.OpCode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}

	if a.Kind() == value.KindInteger && b.Kind() == value.KindInteger {
		x, y := a.AsInteger(), b.AsInteger()
		switch op {
		case compiler.OpAdd:
			vm.push(value.InitInteger(x + y))
			return nil
		case compiler.OpSub:
			vm.push(value.InitInteger(x - y))
			return nil
		case compiler.OpMul:
			if r, ok := mulInt64(x, y); ok {
				vm.push(value.InitInteger(r))
			} else {
				// x*y overflows int64 before InitInteger ever sees it;
				// compute in float64 instead of letting it wrap silently.
				vm.push(value.InitFloat(float64(x) * float64(y)))
			}
			return nil
		case compiler.OpDiv:
			if y == 0 {
				return &ThrownError{Value: vm.Host.NewExceptionValue("Divide by zero")}
			}
			if x%y == 0 {
				vm.push(value.InitInteger(x / y))
			} else {
				vm.push(value.InitFloat(float64(x) / float64(y)))
			}
			return nil
		case compiler.OpRem:
			if y == 0 {
				return &ThrownError{Value: vm.Host.NewExceptionValue("integer modulo by zero")}
			}
			vm.push(value.InitInteger(x % y))
			return nil
		}
	}

	af, bf, _, ok := numericPair(a, b)
	if !ok {
		return vm.runtimeError(op, "arithmetic on non-numeric operand")
	}
	switch op {
	case compiler.OpAdd:
		vm.push(value.InitFloat(af + bf))
	case compiler.OpSub:
		vm.push(value.InitFloat(af - bf))
	case compiler.OpMul:
		vm.push(value.InitFloat(af * bf))
	case compiler.OpDiv:
		vm.push(value.InitFloat(af / bf))
	case compiler.OpRem:
		vm.push(value.InitFloat(mod(af, bf)))
	}
	return nil
}

// mulInt64 multiplies x and y, reporting ok=false if the result would
// overflow int64 (the standard division-undoes-it check), so the caller
// can fall back to float64 instead of silently wrapping.
func mulInt64(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	r := x * y
	if r/y != x {
		return 0, false
	}
	return r, true
}

func mod(a, b float64) float64 {
	r := a - b*float64(int64(a/b))
	return r
}

func (vm *VM) execCompare(op compiler.OpCode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	af, bf, _, ok := numericPair(a, b)
	if !ok {
		return vm.runtimeError(op, "comparison on non-numeric operand")
	}
	var result bool
	switch op {
	case compiler.OpLt:
		result = af < bf
	case compiler.OpLe:
		result = af <= bf
	case compiler.OpGt:
		result = af > bf
	case compiler.OpGe:
		result = af >= bf
	}
	vm.push(value.InitBool(result))
	return nil
}
