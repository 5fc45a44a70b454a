// Package coinselect implements the Coin Selector (component C3): given a
// target amount and an asset id, it picks the smallest set of available
// coins whose sum covers the target, marking them Outgoing atomically with
// the selection. It is grounded directly on the teacher's
// lnwallet/chanfunding/coin_select.go selectInputs/CoinSelect two-pass
// algorithm (select, size-estimate the fee, retry if the overshoot doesn't
// cover it), generalized from "fund a channel" to "fund amount+fee for a
// simple send".
package coinselect

import (
	"fmt"
	"sort"

	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Status mirrors the coin lifecycle from spec.md 3: a coin reserved for an
// in-flight transaction is Outgoing until the transaction completes or
// fails, at which point it returns to Available.
type Status int

const (
	Available Status = iota
	Outgoing
	Spent
	Incoming
)

func (s Status) String() string {
	switch s {
	case Available:
		return "Available"
	case Outgoing:
		return "Outgoing"
	case Spent:
		return "Spent"
	case Incoming:
		return "Incoming"
	default:
		return "Unknown"
	}
}

// Coin is the shape the selector reasons about: enough to sum amounts,
// exclude by asset, and break selection ties by age.
type Coin struct {
	ID       uint64
	Amount   uint64
	AssetID  uint64
	Status   Status
	Maturity uint64 // height at which the coin became spendable; lower is older
}

// ErrNoInputs is returned when the available coin set cannot cover the
// requested target, matching the NoInputs terminal status from spec.md 7.
type ErrNoInputs struct {
	Target    uint64
	Available uint64
}

func (e *ErrNoInputs) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, only %d available",
		e.Target, e.Available)
}

// Source provides the candidate coin pool and the atomic mark-Outgoing
// mutation. A real wallet store (component C9) implements this; tests use an
// in-memory stand-in.
type Source interface {
	AvailableCoins(assetID uint64, exclude map[uint64]bool) ([]Coin, error)
	MarkOutgoing(ids []uint64) error
}

// SizeEstimator estimates the marginal fee cost of adding one more input,
// one output, and a change output, in fee units compatible with feeRate. The
// teacher's input.TxSizeEstimator plays this role for P2PKH/P2SH sizes; here
// it's generalized to an opaque per-component weight so the selector doesn't
// need to know about kernel/output wire layout.
type SizeEstimator interface {
	AddInput()
	AddOutput()
	Fee(feeRatePerByte uint64) uint64
}

// Select picks the smallest-cardinality coin set covering amount+fee for
// assetID, excluding ids in exclude, iterating fee estimation the way
// CoinSelect does: select for an initial target, estimate the fee the
// resulting input/output/change set would need, and if the overshoot
// doesn't cover that fee, grow the target and reselect.
//
// On success the chosen coins are marked Outgoing in src before returning,
// so a concurrent selection can never double-spend them (spec.md 3's
// Outgoing invariant).
func Select(src Source, assetID uint64, amount uint64, feeRatePerByte uint64,
	exclude map[uint64]bool, newEstimator func() SizeEstimator) ([]Coin, uint64, error) {

	coins, err := src.AvailableCoins(assetID, exclude)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to list available coins: %w", err)
	}

	// Prefer the smallest set whose total is >= target; on ties prefer
	// older coins. Sorting ascending by (amount desc isn't what we want
	// here — we want *fewest* coins, so sort by amount descending lets
	// selectCovering greedily take the largest coins first, which for a
	// fixed target minimizes cardinality) then by maturity for tie-break
	// is what selectCovering implements below.
	target := amount

	for {
		selected, total, err := selectCovering(coins, target)
		if err != nil {
			return nil, 0, err
		}

		est := newEstimator()
		for range selected {
			est.AddInput()
		}
		est.AddOutput() // the payment output itself
		est.AddOutput() // assume a change output; trimmed below if exact

		requiredFee := est.Fee(feeRatePerByte)
		overshoot := total - amount

		if overshoot < requiredFee {
			target = amount + requiredFee
			continue
		}

		ids := make([]uint64, len(selected))
		for i, c := range selected {
			ids[i] = c.ID
		}
		if err := src.MarkOutgoing(ids); err != nil {
			return nil, 0, fmt.Errorf("unable to mark coins outgoing: %w", err)
		}

		change := overshoot - requiredFee
		log.Debugf("selected %d coins totalling %d for target %d "+
			"(fee %d, change %d)", len(selected), total, amount,
			requiredFee, change)

		return selected, change, nil
	}
}

// selectCovering implements the "smallest set >= target, ties favor older
// coins" policy: sort descending by amount (so the fewest big coins are
// tried first), breaking amount ties by maturity ascending (older first),
// then take a prefix until it covers target.
func selectCovering(coins []Coin, target uint64) ([]Coin, uint64, error) {
	var usable []Coin
	for _, c := range coins {
		if c.Status == Available {
			usable = append(usable, c)
		}
	}

	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Amount != usable[j].Amount {
			return usable[i].Amount > usable[j].Amount
		}
		return usable[i].Maturity < usable[j].Maturity
	})

	var total uint64
	for i, c := range usable {
		total += c.Amount
		if total >= target {
			subset, subsetTotal := bestSubset(usable[:i+1], target)
			return subset, subsetTotal, nil
		}
	}

	return nil, 0, &ErrNoInputs{Target: target, Available: total}
}

// bestSubset trims the greedy prefix down to the minimal-cardinality subset
// that still covers target: once a covering prefix is found, drop the
// largest coins from the front for as long as the remainder still covers
// the target, which converges on the fewest-coins, then-oldest selection.
// It returns the subset along with the true sum of that subset, since the
// trimmed subset's total is generally smaller than the original prefix's.
func bestSubset(prefix []Coin, target uint64) ([]Coin, uint64) {
	var total uint64
	for _, c := range prefix {
		total += c.Amount
	}

	start := 0
	for start < len(prefix)-1 {
		if total-prefix[start].Amount < target {
			break
		}
		total -= prefix[start].Amount
		start++
	}

	out := make([]Coin, len(prefix)-start)
	copy(out, prefix[start:])
	return out, total
}
