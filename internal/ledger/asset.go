package ledger

// AssetAggregate mirrors the participant counters summed per asset. Each
// counter is denominated in Asset.
type AssetAggregate struct {
	Asset  AssetID `json:"asset"`
	Symbol string  `json:"symbol"`
	Counters
	Members int64 `json:"members"` // participants who deposited this asset
}

func NewAssetAggregate(asset AssetID, symbol string) *AssetAggregate {
	return &AssetAggregate{Asset: asset, Symbol: symbol}
}

// Unswapped is deposited liquidity not yet paid out at swap.
func (a *AssetAggregate) Unswapped() int64 {
	return a.DepositedAmount - a.SwappedAmount
}

// AvailableReturned is repaid liquidity not yet withdrawn.
func (a *AssetAggregate) AvailableReturned() int64 {
	return a.ReturnedAmount - a.WithdrawnAmount
}

// Escrowed is the amount the engine should hold in custody for this asset.
func (a *AssetAggregate) Escrowed() int64 {
	in := a.DepositedAmount + a.Collateral + a.ReturnedAmount
	out := a.SwappedAmount + a.WithdrawnAmount + a.ReclaimedAmount + a.WithdrawnCollateral
	return in - out
}
