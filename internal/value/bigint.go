package value

import "math/big"

// NewBigIntFromBig constructs a BigIntObj from a math/big.Int, splitting
// it into 32-bit limbs. math/big is used only for the conversion and for
// the arithmetic operations below; the stored representation itself is
// plain limbs so BigIntObj carries no external-library type.
func NewBigIntFromBig(n *big.Int) *BigIntObj {
	neg := n.Sign() < 0
	abs := new(big.Int).Abs(n)
	var limbs []uint32
	mask := big.NewInt(1 << 32)
	tmp := new(big.Int).Set(abs)
	for tmp.Sign() != 0 {
		rem := new(big.Int)
		tmp.DivMod(tmp, mask, rem)
		limbs = append(limbs, uint32(rem.Int64()))
	}
	return &BigIntObj{Header: NewHeader(HeapBigInt), Negative: neg, Limbs: limbs}
}

func limbsToBigInt(b *BigIntObj) *big.Int {
	n := new(big.Int)
	base := big.NewInt(1 << 32)
	for i := len(b.Limbs) - 1; i >= 0; i-- {
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(b.Limbs[i])))
	}
	if b.Negative {
		n.Neg(n)
	}
	return n
}

// BigAdd, BigMul back the exact-arithmetic (*' +') operators once operands
// overflow 48-bit integer range, promoting to bigint rather than wrapping
// silently.
func BigAdd(a, b *BigIntObj) *BigIntObj {
	return NewBigIntFromBig(new(big.Int).Add(limbsToBigInt(a), limbsToBigInt(b)))
}

func BigMul(a, b *BigIntObj) *BigIntObj {
	return NewBigIntFromBig(new(big.Int).Mul(limbsToBigInt(a), limbsToBigInt(b)))
}

// BigIntFromInt64 promotes a plain int64 to BigInt representation.
func BigIntFromInt64(i int64) *BigIntObj {
	return NewBigIntFromBig(big.NewInt(i))
}
