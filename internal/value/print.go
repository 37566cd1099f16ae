package value

import (
	"fmt"
	"strconv"
	"strings"
)

// PrintLimits carries the dynamic *print-level*/*print-length* limits.
// A zero Level/Length means unlimited.
type PrintLimits struct {
	Level  int
	Length int
}

// Print renders v in readable (re-parseable) or pretty mode, honoring
// limits. When a depth or length limit is hit, "..." is emitted in its
// place.
func Print(r Resolver, v Value, readable bool, limits PrintLimits) string {
	var sb strings.Builder
	printTo(&sb, r, v, readable, limits, 0)
	return sb.String()
}

func printTo(sb *strings.Builder, r Resolver, v Value, readable bool, limits PrintLimits, depth int) {
	if limits.Level > 0 && depth > limits.Level {
		sb.WriteString("...")
		return
	}
	switch v.Kind() {
	case KindFloat:
		f := v.AsFloat()
		if f == float64(int64(f)) {
			fmt.Fprintf(sb, "%d.0", int64(f))
		} else {
			sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case KindInteger:
		fmt.Fprintf(sb, "%d", v.AsInteger())
	case KindConst:
		switch {
		case v.IsNil():
			sb.WriteString("nil")
		case v.IsTrue():
			sb.WriteString("true")
		default:
			sb.WriteString("false")
		}
	case KindChar:
		if readable {
			fmt.Fprintf(sb, "\\%c", v.AsChar())
		} else {
			sb.WriteRune(v.AsChar())
		}
	case KindBuiltin:
		fmt.Fprintf(sb, "#<builtin:%d>", v.AsBuiltin())
	case KindHeap:
		printHeap(sb, r, r.Resolve(v), readable, limits, depth)
	}
}

func printHeap(sb *strings.Builder, r Resolver, o HeapObject, readable bool, limits PrintLimits, depth int) {
	switch t := o.(type) {
	case *StringObj:
		if readable {
			sb.WriteByte('"')
			sb.WriteString(strings.ReplaceAll(string(t.Bytes), `"`, `\"`))
			sb.WriteByte('"')
		} else {
			sb.Write(t.Bytes)
		}
	case *SymbolObj:
		sb.WriteString(t.Qualified())
	case *KeywordObj:
		sb.WriteByte(':')
		sb.WriteString(t.Qualified())
	case *ConsObj:
		printSeq(sb, r, "(", ")", Seq(r, t), readable, limits, depth)
	case *VectorObj:
		printSeq(sb, r, "[", "]", Seq(r, t), readable, limits, depth)
	case *SetObj:
		sb.WriteString("#{")
		printItems(sb, r, t.Items, readable, limits, depth)
		sb.WriteByte('}')
	case *MapObj:
		sb.WriteByte('{')
		for i := range t.Keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			printTo(sb, r, t.Keys[i], readable, limits, depth+1)
			sb.WriteByte(' ')
			printTo(sb, r, t.Vals[i], readable, limits, depth+1)
		}
		sb.WriteByte('}')
	case *ClosureObj:
		fmt.Fprintf(sb, "#<fn %s>", t.Proto.ProtoName())
	case *AtomObj:
		sb.WriteString("#<atom ")
		printTo(sb, r, t.Load(), readable, limits, depth+1)
		sb.WriteByte('>')
	case *VolatileObj:
		sb.WriteString("#<volatile ")
		printTo(sb, r, t.Val, readable, limits, depth+1)
		sb.WriteByte('>')
	case *ReducedObj:
		sb.WriteString("#<reduced ")
		printTo(sb, r, t.Val, readable, limits, depth+1)
		sb.WriteByte('>')
	case *LazySeqObj:
		printSeq(sb, r, "(", ")", Seq(r, t), readable, limits, depth)
	case *VarRefObj:
		fmt.Fprintf(sb, "#'%s/%s", t.Namespace, t.Name)
	case *DelayObj:
		sb.WriteString("#<delay>")
	case *BigIntObj:
		sb.WriteString(formatBigInt(t))
	case *RatioObj:
		fmt.Fprintf(sb, "%d/%d", t.Num, t.Den)
	default:
		fmt.Fprintf(sb, "#<%s>", o.SubTag())
	}
}

func printSeq(sb *strings.Builder, r Resolver, open, close string, next func() (Value, bool), readable bool, limits PrintLimits, depth int) {
	sb.WriteString(open)
	i := 0
	for {
		if limits.Length > 0 && i >= limits.Length {
			sb.WriteString(" ...")
			break
		}
		v, ok := next()
		if !ok {
			break
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		printTo(sb, r, v, readable, limits, depth+1)
		i++
	}
	sb.WriteString(close)
}

func printItems(sb *strings.Builder, r Resolver, items []Value, readable bool, limits PrintLimits, depth int) {
	for i, v := range items {
		if limits.Length > 0 && i >= limits.Length {
			sb.WriteString(" ...")
			return
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		printTo(sb, r, v, readable, limits, depth+1)
	}
}

func formatBigInt(b *BigIntObj) string {
	if len(b.Limbs) == 0 {
		return "0"
	}
	// Render via big.Int for correct base-10 formatting; constructing one
	// on demand keeps math/big out of the hot arithmetic path.
	n := limbsToBigInt(b)
	s := n.String()
	return s
}
