package core

import (
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Config returns the contract configuration.
func (e *Engine) Config(ctx context.Context) (*ContractConfig, error) {
	var cfg *ContractConfig
	err := e.view(ctx, func(o *op) error {
		var err error
		cfg, err = o.requireConfig()
		return err
	})
	return cfg, err
}

func (e *Engine) Admin(ctx context.Context) (uuid.UUID, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return cfg.Admin, nil
}

// SpotRate is zero until the near leg executes.
func (e *Engine) SpotRate(ctx context.Context) (int64, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.SpotRate, nil
}

// Stage resolves the lifecycle stage at the current clock.
func (e *Engine) Stage(ctx context.Context) (state.Stage, error) {
	var stage state.Stage
	err := e.view(ctx, func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		stage = cfg.Schedule().StageAt(o.now)
		return nil
	})
	return stage, err
}

// Balance returns the participant's record. Only the participant may read it.
func (e *Engine) Balance(ctx context.Context, participant uuid.UUID) (*ledger.Participant, error) {
	var p *ledger.Participant
	err := e.view(ctx, func(o *op) error {
		if _, err := o.requireConfig(); err != nil {
			return err
		}
		if err := e.authorize(ctx, participant); err != nil {
			return err
		}
		var err error
		p, _, err = e.participantSide(o, participant)
		return err
	})
	return p, err
}

// Tokens holds the aggregate of each asset.
type Tokens struct {
	A *ledger.AssetAggregate
	B *ledger.AssetAggregate
}

func (e *Engine) Tokens(ctx context.Context) (Tokens, error) {
	var tokens Tokens
	err := e.view(ctx, func(o *op) error {
		if _, err := o.requireConfig(); err != nil {
			return err
		}
		var err error
		if tokens.A, err = o.rec.aggregate(ctx, state.SideA); err != nil {
			return err
		}
		tokens.B, err = o.rec.aggregate(ctx, state.SideB)
		return err
	})
	return tokens, err
}

// Deposits holds both pools and their position arenas. Pools are nil before
// InitPositions.
type Deposits struct {
	PoolA     *state.Pool
	PoolB     *state.Pool
	PositionA []state.PositionEntry
	PositionB []state.PositionEntry
}

func (e *Engine) Deposits(ctx context.Context) (Deposits, error) {
	var d Deposits
	err := e.view(ctx, func(o *op) error {
		if _, err := o.requireConfig(); err != nil {
			return err
		}
		initialized, err := o.positions.Initialized(ctx)
		if err != nil || !initialized {
			return err
		}
		if d.PoolA, err = o.positions.GetPool(ctx, state.SideA); err != nil {
			return err
		}
		if d.PoolB, err = o.positions.GetPool(ctx, state.SideB); err != nil {
			return err
		}
		if d.PositionA, err = o.positions.Entries(ctx, state.SideA); err != nil {
			return err
		}
		d.PositionB, err = o.positions.Entries(ctx, state.SideB)
		return err
	})
	return d, err
}

// UserRisk is one funded participant's margin snapshot.
type UserRisk struct {
	Identity      uuid.UUID
	Collateral    int64
	MinCollateral int64
	IsLiquidated  bool
}

// Users lists every funded participant per side in first-deposit order,
// with the minimum collateral at the live oracle price.
type Users struct {
	A     []UserRisk
	B     []UserRisk
	Price int64
}

func (e *Engine) Users(ctx context.Context) (Users, error) {
	var users Users
	err := e.view(ctx, func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if cfg.SpotRate == 0 {
			return ErrNearLegNotExecuted
		}
		price, err := e.livePrice(o)
		if err != nil {
			return err
		}
		users.Price = price

		for _, side := range []state.Side{state.SideA, state.SideB} {
			entries, err := o.positions.Entries(ctx, side)
			if err != nil {
				return err
			}
			dir := state.DirectionFor(side)
			seen := make(map[uuid.UUID]bool, len(entries))
			var list []UserRisk
			for _, entry := range entries {
				if seen[entry.Participant] {
					continue
				}
				seen[entry.Participant] = true

				p, err := o.rec.participant(ctx, entry.Participant)
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("position %s:%d has no participant record", side, entry.Index)
				}
				list = append(list, UserRisk{
					Identity:      p.Identity,
					Collateral:    p.Collateral,
					MinCollateral: e.margin.MinCollateral(dir, p.SwappedAmount, cfg.SpotRate, cfg.ForwardRate, price),
					IsLiquidated:  p.IsLiquidated,
				})
			}
			if side == state.SideA {
				users.A = list
			} else {
				users.B = list
			}
		}
		return nil
	})
	return users, err
}

// VerifyConservation recomputes both aggregates from participant records.
func (e *Engine) VerifyConservation(ctx context.Context) error {
	return e.view(ctx, func(o *op) error {
		if err := e.checkConservation(ctx, o.rec); err != nil {
			if e.metrics != nil {
				e.metrics.ConservationFailed.Inc()
			}
			return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
		return nil
	})
}

// ChainTip returns the last committed sequence and state hash. A fresh
// store reports sequence 0 and the genesis hash.
func (e *Engine) ChainTip(ctx context.Context) (int64, [32]byte, error) {
	var tip chainTip
	err := e.view(ctx, func(o *op) error {
		var err error
		tip, err = o.rec.tip(ctx)
		return err
	})
	return tip.Sequence, tip.Hash, err
}
