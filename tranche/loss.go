package tranche

import (
	"errors"
	"math/big"
)

// ErrLossExceedsAssets is returned when a loss would push tranche assets
// below zero. The upstream credit accounting cannot book losses the pool
// never funded, so this is a caller bug and aborts the whole operation.
var ErrLossExceedsAssets = errors.New("tranche: loss exceeds total tranche assets")

// Split carries per-tranche deltas from a loss or recovery application.
type Split struct {
	Senior *big.Int
	Junior *big.Int
}

// Total returns the combined delta.
func (s Split) Total() *big.Int {
	return new(big.Int).Add(copyBigInt(s.Senior), copyBigInt(s.Junior))
}

// ApplyLoss books a loss against the tranches, junior first. It returns the
// post-loss assets, the grown outstanding losses, and the per-tranche deltas.
// The inputs are never mutated.
func ApplyLoss(loss *big.Int, assets Assets, losses Losses) (Assets, Losses, Split, error) {
	if loss == nil || loss.Sign() < 0 {
		return Assets{}, Losses{}, Split{}, errors.New("tranche: loss must not be negative")
	}
	remaining := copyBigInt(loss)
	out := assets.Clone()
	outLosses := losses.Clone()

	juniorHit := minBigInt(remaining, out.Junior)
	out.Junior = new(big.Int).Sub(out.Junior, juniorHit)
	outLosses.Junior = new(big.Int).Add(outLosses.Junior, juniorHit)
	remaining.Sub(remaining, juniorHit)

	seniorHit := minBigInt(remaining, out.Senior)
	out.Senior = new(big.Int).Sub(out.Senior, seniorHit)
	outLosses.Senior = new(big.Int).Add(outLosses.Senior, seniorHit)
	remaining.Sub(remaining, seniorHit)

	if remaining.Sign() > 0 {
		return Assets{}, Losses{}, Split{}, ErrLossExceedsAssets
	}
	return out, outLosses, Split{Senior: seniorHit, Junior: juniorHit}, nil
}

// ApplyRecovery restores previously booked losses, senior first, up to each
// tranche's outstanding loss. It returns the post-recovery assets and losses,
// the per-tranche recovered deltas, and whatever part of the recovery the
// tranches could not consume (the first-loss covers claim that remainder).
func ApplyRecovery(recovery *big.Int, assets Assets, losses Losses) (Assets, Losses, Split, *big.Int, error) {
	if recovery == nil || recovery.Sign() < 0 {
		return Assets{}, Losses{}, Split{}, nil, errors.New("tranche: recovery must not be negative")
	}
	remaining := copyBigInt(recovery)
	out := assets.Clone()
	outLosses := losses.Clone()

	seniorRec := minBigInt(remaining, outLosses.Senior)
	out.Senior = new(big.Int).Add(out.Senior, seniorRec)
	outLosses.Senior = new(big.Int).Sub(outLosses.Senior, seniorRec)
	remaining.Sub(remaining, seniorRec)

	juniorRec := minBigInt(remaining, outLosses.Junior)
	out.Junior = new(big.Int).Add(out.Junior, juniorRec)
	outLosses.Junior = new(big.Int).Sub(outLosses.Junior, juniorRec)
	remaining.Sub(remaining, juniorRec)

	return out, outLosses, Split{Senior: seniorRec, Junior: juniorRec}, remaining, nil
}
