package core

import (
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"
	"FXSwapLedger/internal/store"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AssetInfo identifies one leg's token.
type AssetInfo struct {
	ID     ledger.AssetID `json:"id"`
	Symbol string         `json:"symbol"`
}

// ContractConfig is written once by Initialize. SpotRate stays zero until
// the near leg executes.
type ContractConfig struct {
	Admin       uuid.UUID `json:"admin"`
	AssetA      AssetInfo `json:"asset_a"`
	AssetB      AssetInfo `json:"asset_b"`
	ForwardRate int64     `json:"forward_rate"`
	SetupRate   int64     `json:"setup_rate"`
	SpotRate    int64     `json:"spot_rate"`
	InitTime    int64     `json:"init_time"`
	Maturity    int64     `json:"maturity"`
}

func (c *ContractConfig) Schedule() state.Schedule {
	return state.Schedule{InitTime: c.InitTime, Maturity: c.Maturity}
}

func (c *ContractConfig) Asset(side state.Side) AssetInfo {
	if side == state.SideA {
		return c.AssetA
	}
	return c.AssetB
}

// SideOf maps an asset to its leg.
func (c *ContractConfig) SideOf(asset ledger.AssetID) (state.Side, bool) {
	switch asset {
	case c.AssetA.ID:
		return state.SideA, true
	case c.AssetB.ID:
		return state.SideB, true
	}
	return 0, false
}

// chainTip is the last committed link of the state hash chain.
type chainTip struct {
	Sequence int64    `json:"sequence"`
	Hash     [32]byte `json:"hash"`
}

var (
	configKey = store.NewKey(store.KindConfig, "contract")
	tipKey    = store.NewKey(store.KindChain, "tip")
)

func aggregateKey(side state.Side) store.Key {
	return store.NewKey(store.KindAsset, side.String())
}

func participantKey(id uuid.UUID) store.Key {
	return store.NewKey(store.KindParticipant, id.String())
}

func memberKey(side state.Side, index int64) store.Key {
	return store.NewKey(store.KindMember, fmt.Sprintf("%s:%d", side, index))
}

// records is the typed view of contract state inside one transaction.
type records struct {
	tx *store.Tx
}

func (r records) config(ctx context.Context) (*ContractConfig, error) {
	var cfg ContractConfig
	ok, err := r.tx.Get(ctx, configKey, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (r records) putConfig(cfg *ContractConfig) error {
	return r.tx.Put(configKey, cfg)
}

func (r records) aggregate(ctx context.Context, side state.Side) (*ledger.AssetAggregate, error) {
	var agg ledger.AssetAggregate
	ok, err := r.tx.Get(ctx, aggregateKey(side), &agg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("aggregate %s missing", side)
	}
	return &agg, nil
}

func (r records) putAggregate(side state.Side, agg *ledger.AssetAggregate) error {
	return r.tx.Put(aggregateKey(side), agg)
}

// participant returns nil when id never deposited.
func (r records) participant(ctx context.Context, id uuid.UUID) (*ledger.Participant, error) {
	var p ledger.Participant
	ok, err := r.tx.Get(ctx, participantKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r records) putParticipant(p *ledger.Participant) error {
	return r.tx.Put(participantKey(p.Identity), p)
}

// addMember registers id as a depositor of side. The caller persists agg.
func (r records) addMember(side state.Side, agg *ledger.AssetAggregate, id uuid.UUID) error {
	if err := r.tx.Put(memberKey(side, agg.Members), id); err != nil {
		return err
	}
	agg.Members++
	return nil
}

// participants loads every depositor of side in registration order.
func (r records) participants(ctx context.Context, side state.Side, count int64) ([]*ledger.Participant, error) {
	out := make([]*ledger.Participant, 0, count)
	for i := int64(0); i < count; i++ {
		var id uuid.UUID
		ok, err := r.tx.Get(ctx, memberKey(side, i), &id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("member %s:%d missing", side, i)
		}
		p, err := r.participant(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("member %s has no participant record", id)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r records) tip(ctx context.Context) (chainTip, error) {
	var tip chainTip
	ok, err := r.tx.Get(ctx, tipKey, &tip)
	if err != nil {
		return chainTip{}, err
	}
	if !ok {
		return chainTip{Hash: GenesisHash()}, nil
	}
	return tip, nil
}

func (r records) putTip(tip chainTip) error {
	return r.tx.Put(tipKey, tip)
}
