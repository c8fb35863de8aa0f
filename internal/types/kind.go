package types

import (
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// DataKind identifies which dataset a page holds.
type DataKind string

const (
	DataKindCandles      DataKind = "candles"
	DataKindTrades       DataKind = "trades"
	DataKindFunding      DataKind = "funding"
	DataKindOpenInterest DataKind = "open_interest"
	DataKindPremium      DataKind = "premium"
)

// AllDataKinds lists every kind in a stable order.
var AllDataKinds = []DataKind{
	DataKindCandles,
	DataKindTrades,
	DataKindFunding,
	DataKindOpenInterest,
	DataKindPremium,
}

// UsesTimeframe reports whether the timeframe is part of the page identity.
// Tick and funding-style kinds are cached per range only.
func (k DataKind) UsesTimeframe() bool {
	return k == DataKindCandles
}

// Valid reports whether k is a known kind.
func (k DataKind) Valid() bool {
	for _, known := range AllDataKinds {
		if k == known {
			return true
		}
	}

	return false
}

// ParseDataKind converts a wire or config string into a DataKind.
func ParseDataKind(s string) (DataKind, error) {
	k := DataKind(s)
	if !k.Valid() {
		return "", errors.Newf(errors.ErrCodeInvalidDataKind, "unknown data kind: %q", s)
	}

	return k, nil
}

// PageState is the lifecycle state of a page.
type PageState string

const (
	PageStateEmpty    PageState = "empty"
	PageStateLoading  PageState = "loading"
	PageStateReady    PageState = "ready"
	PageStateUpdating PageState = "updating"
	PageStateError    PageState = "error"
)

// HasData reports whether a page in this state carries data.
func (s PageState) HasData() bool {
	return s == PageStateReady || s == PageStateUpdating
}

// Terminal reports whether a load has finished, successfully or not.
func (s PageState) Terminal() bool {
	return s == PageStateReady || s == PageStateError
}
