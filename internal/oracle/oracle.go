package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNoPrice = errors.New("oracle: no price for pair")

// PriceData is one oracle quote: units of asset B per unit of asset A,
// scaled by 1e14.
type PriceData struct {
	Price     int64 `json:"price"`
	Timestamp int64 `json:"timestamp"`
}

// PairKey names a quoted pair.
func PairKey(assetA, assetB string) string {
	return assetA + "/" + assetB
}

// Static serves fixed prices set by the operator or a test.
type Static struct {
	mu     sync.RWMutex
	prices map[string]PriceData
}

func NewStatic() *Static {
	return &Static{prices: make(map[string]PriceData)}
}

// SetPrice replaces the quote of a pair.
func (s *Static) SetPrice(assetA, assetB string, price, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[PairKey(assetA, assetB)] = PriceData{Price: price, Timestamp: timestamp}
}

func (s *Static) SpotPrice(_ context.Context, assetA, assetB string) (PriceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[PairKey(assetA, assetB)]
	if !ok {
		return PriceData{}, fmt.Errorf("%w %s", ErrNoPrice, PairKey(assetA, assetB))
	}
	return p, nil
}
