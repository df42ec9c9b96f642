// Package fees holds the fee table observed upstream and the threshold
// crossing rule evaluated against it.
package fees

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// SeriesAll is the snapshot key under which the aggregate table is stored.
const SeriesAll = "all_fees"

// Table maps from-asset -> to-asset -> fee percentage.
type Table map[string]map[string]float64

// Pair is a (from, to) asset combination.
type Pair struct {
	From string
	To   string
}

// Get returns the fee for a pair and whether both keys were present.
func (t Table) Get(from, to string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	row, ok := t[from]
	if !ok {
		return 0, false
	}
	fee, ok := row[to]
	return fee, ok
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for from, row := range t {
		out[from] = lo.Assign(row)
	}
	return out
}

// Merge copies every pair of other into t, overwriting existing pairs.
func (t Table) Merge(other Table) {
	for from, row := range other {
		if t[from] == nil {
			t[from] = make(map[string]float64, len(row))
		}
		for to, fee := range row {
			t[from][to] = fee
		}
	}
}

// Without returns a copy of t with the given pairs removed. From-assets left
// without any to-asset are dropped.
func (t Table) Without(pairs []Pair) Table {
	out := t.Clone()
	for _, p := range pairs {
		row, ok := out[p.From]
		if !ok {
			continue
		}
		delete(row, p.To)
		if len(row) == 0 {
			delete(out, p.From)
		}
	}
	return out
}

// FromAssets returns the from-asset keys in sorted order.
func (t Table) FromAssets() []string {
	keys := lo.Keys(t)
	sort.Strings(keys)
	return keys
}

// ToAssets returns the to-asset keys for from in sorted order.
func (t Table) ToAssets(from string) []string {
	keys := lo.Keys(t[from])
	sort.Strings(keys)
	return keys
}

// Crossed reports whether the fee for (from, to) moved across threshold between
// previous and current. A fee equal to the threshold counts as at/below it.
// Missing data on either side or an invalid threshold never counts as a crossing.
func Crossed(current, previous Table, from, to string, threshold decimal.Decimal) bool {
	fee, ok := current.Get(from, to)
	if !ok {
		return false
	}
	prev, ok := previous.Get(from, to)
	if !ok || !ValidThreshold(threshold) {
		return false
	}
	return AtOrBelow(fee, threshold) != AtOrBelow(prev, threshold)
}

// AtOrBelow reports fee <= threshold using decimal comparison.
func AtOrBelow(fee float64, threshold decimal.Decimal) bool {
	return decimal.NewFromFloat(fee).LessThanOrEqual(threshold)
}

// Threshold bounds. Fees are percentages.
const (
	MaxThresholdScale = 8
	// thresholdExpLimit bounds the decimal exponent before any comparison;
	// comparing rescales both sides to the smaller exponent.
	thresholdExpLimit = 32
)

var maxThreshold = decimal.NewFromInt(100)

// ValidThreshold reports whether t lies within [-100, 100] with at most
// MaxThresholdScale decimal places.
func ValidThreshold(t decimal.Decimal) bool {
	if exp := t.Exponent(); exp > thresholdExpLimit || exp < -thresholdExpLimit {
		return false
	}
	if t.Abs().GreaterThan(maxThreshold) {
		return false
	}
	return t.Equal(t.Truncate(MaxThresholdScale))
}
