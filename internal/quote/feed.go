// Package quote holds the last known market price per ticker.
//
// Prices arrive from the HTTP quote endpoint or the polling loop and
// are read by the order checker and valuation paths. The feed never
// fetches prices itself.
package quote

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single observed price.
type Quote struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Feed is a concurrency-safe last-price cache.
type Feed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewFeed() *Feed {
	return &Feed{quotes: make(map[string]Quote)}
}

// Set records the latest price for a ticker. Non-positive prices are
// ignored.
func (f *Feed) Set(ticker string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	ticker = strings.ToUpper(ticker)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[ticker] = Quote{Ticker: ticker, Price: price, UpdatedAt: time.Now().UTC()}
}

// Get returns the last known price for a ticker.
func (f *Feed) Get(ticker string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[strings.ToUpper(ticker)]
	return q.Price, ok
}

// Snapshot returns a copy of all current prices keyed by ticker.
func (f *Feed) Snapshot() map[string]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(f.quotes))
	for t, q := range f.quotes {
		out[t] = q.Price
	}
	return out
}

// Quotes returns a copy of all current quotes with timestamps.
func (f *Feed) Quotes() []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Quote, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, q)
	}
	return out
}
