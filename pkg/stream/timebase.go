package stream

import (
	"fmt"
	"math/big"
)

// Rational 时间基，例如 1/30 秒
type Rational struct {
	Num int
	Den int
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Rescale 把 v 从 from 时间基换算到 to 时间基，四舍五入（远离零）
func Rescale(v int64, from, to Rational) int64 {
	if v == NoPTS {
		return NoPTS
	}
	if from == to {
		return v
	}
	// v * from.Num * to.Den / (from.Den * to.Num)
	num := new(big.Int).Mul(big.NewInt(v), big.NewInt(int64(from.Num)*int64(to.Den)))
	den := big.NewInt(int64(from.Den) * int64(to.Num))
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	r.Abs(r).Lsh(r, 1)
	if r.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}
