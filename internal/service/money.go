package service

import "github.com/shopspring/decimal"

// SplitEqually divides total among n parties.  Each share is truncated
// to places decimal places and the rest is returned as remainder, so
// that each*n + remainder == total holds exactly.  With n <= 0 nobody
// is paid and the whole total is the remainder.
func SplitEqually(total decimal.Decimal, n int, places int32) (each, remainder decimal.Decimal) {
	if n <= 0 {
		return decimal.Zero, total
	}
	count := decimal.NewFromInt(int64(n))
	each, _ = total.QuoRem(count, places)
	remainder = total.Sub(each.Mul(count))
	return each, remainder
}
