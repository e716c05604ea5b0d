package tranche

import (
	"errors"
	"fmt"
	"math/big"
)

// Tranche identifies a level of the pool's capital structure. Senior capital
// is repaid first on redemption and recovery; junior capital absorbs losses
// first and claims the residual profit.
type Tranche uint8

const (
	Senior Tranche = iota
	Junior

	trancheCount = 2
)

var errUnknownTranche = errors.New("tranche: unknown tranche")

func (t Tranche) String() string {
	switch t {
	case Senior:
		return "senior"
	case Junior:
		return "junior"
	default:
		return fmt.Sprintf("tranche(%d)", uint8(t))
	}
}

// Valid reports whether t names a real tranche.
func (t Tranche) Valid() bool {
	return t < trancheCount
}

// All returns the tranches in seniority order.
func All() []Tranche {
	return []Tranche{Senior, Junior}
}

// Parse converts the wire name of a tranche into its identifier.
func Parse(name string) (Tranche, error) {
	switch name {
	case "senior":
		return Senior, nil
	case "junior":
		return Junior, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownTranche, name)
	}
}

// MaxAmount is the upper bound for every persisted balance-like quantity.
// Amounts are carried as big integers but must stay within 96 bits end to end.
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))

// ErrAmountOverflow is returned when an operation would push a persisted
// amount past MaxAmount. The operation aborts before touching state.
var ErrAmountOverflow = errors.New("tranche: amount exceeds ledger width")

// FitsAmount reports whether v lies in [0, MaxAmount].
func FitsAmount(v *big.Int) bool {
	if v == nil {
		return true
	}
	return v.Sign() >= 0 && v.Cmp(MaxAmount) <= 0
}

// Assets holds the current total assets of both tranches.
type Assets struct {
	Senior *big.Int
	Junior *big.Int
}

// NewAssets builds a normalized asset pair from the given totals.
func NewAssets(senior, junior *big.Int) Assets {
	return Assets{Senior: copyBigInt(senior), Junior: copyBigInt(junior)}
}

func (a Assets) Clone() Assets {
	return Assets{Senior: copyBigInt(a.Senior), Junior: copyBigInt(a.Junior)}
}

// Total returns senior plus junior assets.
func (a Assets) Total() *big.Int {
	return new(big.Int).Add(copyBigInt(a.Senior), copyBigInt(a.Junior))
}

// Of returns the balance of the given tranche. The result aliases nothing.
func (a Assets) Of(t Tranche) *big.Int {
	if t == Senior {
		return copyBigInt(a.Senior)
	}
	return copyBigInt(a.Junior)
}

// Set replaces the balance of the given tranche.
func (a *Assets) Set(t Tranche, v *big.Int) {
	if t == Senior {
		a.Senior = copyBigInt(v)
		return
	}
	a.Junior = copyBigInt(v)
}

// Losses holds the outstanding (not yet recovered) loss of both tranches.
type Losses struct {
	Senior *big.Int
	Junior *big.Int
}

func NewLosses(senior, junior *big.Int) Losses {
	return Losses{Senior: copyBigInt(senior), Junior: copyBigInt(junior)}
}

func (l Losses) Clone() Losses {
	return Losses{Senior: copyBigInt(l.Senior), Junior: copyBigInt(l.Junior)}
}

// Total returns the combined outstanding loss.
func (l Losses) Total() *big.Int {
	return new(big.Int).Add(copyBigInt(l.Senior), copyBigInt(l.Junior))
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
