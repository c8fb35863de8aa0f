package types

import (
	"time"
)

// Record is one time-stamped row of a page dataset.
type Record interface {
	Timestamp() time.Time
}

// Candle is an OHLCV bar.
type Candle struct {
	Symbol string    `csv:"symbol" json:"symbol"`
	Time   time.Time `csv:"time" json:"time"`
	Open   float64   `csv:"open" json:"open"`
	High   float64   `csv:"high" json:"high"`
	Low    float64   `csv:"low" json:"low"`
	Close  float64   `csv:"close" json:"close"`
	Volume float64   `csv:"volume" json:"volume"`
}

func (c Candle) Timestamp() time.Time { return c.Time }

// TickTrade is a single aggregated exchange trade.
type TickTrade struct {
	ID       int64     `json:"id"`
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	// IsBuyerMaker is true when the aggressor was the seller.
	IsBuyerMaker bool `json:"is_buyer_maker"`
}

func (t TickTrade) Timestamp() time.Time { return t.Time }

// SignedQuantity returns the quantity signed by aggressor side: positive for
// taker buys, negative for taker sells.
func (t TickTrade) SignedQuantity() float64 {
	if t.IsBuyerMaker {
		return -t.Quantity
	}

	return t.Quantity
}

// FundingRate is one perpetual funding settlement.
type FundingRate struct {
	Time time.Time `json:"time"`
	Rate float64   `json:"rate"`
}

func (f FundingRate) Timestamp() time.Time { return f.Time }

// OpenInterest is one open interest sample.
type OpenInterest struct {
	Time              time.Time `json:"time"`
	OpenInterest      float64   `json:"open_interest"`
	OpenInterestValue float64   `json:"open_interest_value"`
}

func (o OpenInterest) Timestamp() time.Time { return o.Time }

// PremiumIndex is one premium index kline.
type PremiumIndex struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

func (p PremiumIndex) Timestamp() time.Time { return p.Time }
