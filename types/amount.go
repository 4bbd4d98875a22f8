package types

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// LamportsPerSOL is the number of atomic reward units in one display unit.
const LamportsPerSOL = 1_000_000_000

// Unbounded is used as an open upper bound in reward ranges.
const Unbounded Amount = math.MaxUint64

// Amount is a reward or balance in atomic units.
type Amount uint64

// SOL converts a whole display-unit count into an Amount.
func SOL(n uint64) Amount {
	return Amount(n * LamportsPerSOL)
}

// ParseAmount parses a decimal display-unit value such as "0.5" or "12".
// The strings "inf", "unbounded" and "none" yield Unbounded.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "inf", "unbounded", "none", "":
		return Unbounded, nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if r.Sign() < 0 {
		return 0, fmt.Errorf("amount must not be negative: %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt64(LamportsPerSOL))
	if !r.IsInt() {
		return 0, fmt.Errorf("amount %q has more than 9 decimal places", s)
	}
	n := r.Num()
	if !n.IsUint64() || n.Uint64() == math.MaxUint64 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return Amount(n.Uint64()), nil
}

func (a Amount) String() string {
	if a == Unbounded {
		return "inf"
	}
	whole := uint64(a) / LamportsPerSOL
	frac := uint64(a) % LamportsPerSOL
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%09d", whole, frac), "0")
}

// UnmarshalFlag implements flags.Unmarshaler.
func (a *Amount) UnmarshalFlag(value string) error {
	parsed, err := ParseAmount(value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (a Amount) MarshalFlag() (string, error) {
	return a.String(), nil
}
