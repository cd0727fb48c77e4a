package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder   AccountScope = iota // a participant's or admin's wallet
	AccountScopeEscrow                       // funds held by the settlement engine
	AccountScopeExternal                     // issuance boundary, may go negative
)

// AssetID identifies a registered token (symbol or contract address).
type AssetID string

// AccountKey is the key for custody balance tracking
type AccountKey struct {
	Scope  AccountScope
	Holder uuid.UUID
	Asset  AssetID
}

func NewHolderAccountKey(holder uuid.UUID, asset AssetID) AccountKey {
	return AccountKey{
		Scope:  AccountScopeHolder,
		Holder: holder,
		Asset:  asset,
	}
}

func NewEscrowAccountKey(asset AssetID) AccountKey {
	return AccountKey{
		Scope: AccountScopeEscrow,
		Asset: asset,
	}
}

func NewExternalAccountKey(asset AssetID) AccountKey {
	return AccountKey{
		Scope: AccountScopeExternal,
		Asset: asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.Holder.String(), k.Asset)
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s", k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%s", k.Asset)
	}
	return "unknown"
}

// CanGoNegative reports whether the account is exempt from the
// non-negative balance check.
func (k AccountKey) CanGoNegative() bool {
	return k.Scope == AccountScopeExternal
}
