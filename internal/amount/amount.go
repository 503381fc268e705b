// Package amount implements the unsigned 128-bit currency amount used for
// prepaid storage balances. All arithmetic is checked: results outside
// [0, 2^128-1] are reported instead of wrapping.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// Decimals is the number of smallest units in one whole token (10^24).
	Decimals = 24

	// Size is the fixed encoded width of an Amount in bytes.
	Size = 16
)

var (
	maxU128  = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	oneToken = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
)

// Amount is a non-negative currency amount expressed in the smallest
// indivisible unit. The zero value is a valid zero amount.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount
func Zero() Amount {
	return Amount{}
}

// One returns the smallest indivisible unit
func One() Amount {
	return FromUint64(1)
}

// Max returns the largest representable amount (2^128-1)
func Max() Amount {
	return Amount{v: *maxU128}
}

// FromUint64 converts a uint64 into an Amount
func FromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Tokens returns n whole tokens expressed in smallest units. It panics if the
// result does not fit in 128 bits, so it is meant for constants and tests.
func Tokens(n uint64) Amount {
	var a Amount
	if _, overflow := a.v.MulOverflow(uint256.NewInt(n), oneToken); overflow || a.v.Gt(maxU128) {
		panic(fmt.Sprintf("amount: %d tokens overflows 128 bits", n))
	}
	return a
}

// Parse parses a base-10 string into an Amount
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("amount: empty string")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: invalid decimal %q: %w", s, err)
	}
	if v.Gt(maxU128) {
		return Amount{}, fmt.Errorf("amount: %q exceeds 128 bits", s)
	}
	return Amount{v: *v}, nil
}

// MustParse is like Parse but panics on error
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBytes decodes a 16-byte big-endian amount
func FromBytes(b []byte) (Amount, error) {
	if len(b) != Size {
		return Amount{}, fmt.Errorf("amount: expected %d bytes, got %d", Size, len(b))
	}
	var a Amount
	a.v.SetBytes(b)
	return a, nil
}

// Bytes returns the 16-byte big-endian encoding
func (a Amount) Bytes() []byte {
	full := a.v.Bytes32()
	out := make([]byte, Size)
	copy(out, full[32-Size:])
	return out
}

// String returns the base-10 representation
func (a Amount) String() string {
	return a.v.Dec()
}

// IsZero reports whether the amount is zero
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp compares a and b and returns -1, 0 or +1
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Eq reports whether a == b
func (a Amount) Eq(b Amount) bool {
	return a.v.Eq(&b.v)
}

// Lt reports whether a < b
func (a Amount) Lt(b Amount) bool {
	return a.v.Lt(&b.v)
}

// Gt reports whether a > b
func (a Amount) Gt(b Amount) bool {
	return a.v.Gt(&b.v)
}

// CheckedAdd returns a+b, or false if the sum exceeds 128 bits
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	var z Amount
	if _, overflow := z.v.AddOverflow(&a.v, &b.v); overflow || z.v.Gt(maxU128) {
		return Amount{}, false
	}
	return z, true
}

// CheckedSub returns a-b, or false if b > a
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	var z Amount
	if _, underflow := z.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, false
	}
	return z, true
}

// CheckedMulUint64 returns a*n, or false if the product exceeds 128 bits
func (a Amount) CheckedMulUint64(n uint64) (Amount, bool) {
	var z Amount
	if _, overflow := z.v.MulOverflow(&a.v, uint256.NewInt(n)); overflow || z.v.Gt(maxU128) {
		return Amount{}, false
	}
	return z, true
}

// Float64 returns a lossy float representation, used for metrics only
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.v.ToBig()).Float64()
	return f
}

// MarshalText implements encoding.TextMarshaler. Amounts travel as decimal
// strings in JSON and YAML because most decoders cannot hold 128 bits.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
