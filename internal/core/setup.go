package core

import (
	"FXSwapLedger/internal/event"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/oracle"
	"FXSwapLedger/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InitializeParams configures a new contract.
type InitializeParams struct {
	Admin       uuid.UUID
	AssetA      AssetInfo
	AssetB      AssetInfo
	ForwardRate int64
	Maturity    int64 // seconds added to the repay window
}

// Initialize stores the contract configuration and returns the setup rate
// read from the oracle. The spot rate stays undefined until the near leg.
func (e *Engine) Initialize(ctx context.Context, params InitializeParams) (int64, error) {
	var setupRate int64
	err := e.apply(ctx, "initialize", func(o *op) error {
		if o.cfg != nil {
			return ErrContractAlreadyInitialized
		}
		if err := e.authorize(ctx, params.Admin); err != nil {
			return err
		}
		if params.AssetA.ID == "" || params.AssetB.ID == "" || params.AssetA.ID == params.AssetB.ID {
			return ErrInvalidToken
		}
		if params.ForwardRate <= 0 {
			return ErrInvalidRate
		}
		if params.Maturity < 0 {
			return ErrInvalidAmount
		}

		price, err := e.oracle.SpotPrice(ctx, string(params.AssetA.ID), string(params.AssetB.ID))
		if err != nil {
			return fmt.Errorf("setup rate: %w", err)
		}
		if price.Price <= 0 {
			return ErrInvalidRate
		}

		cfg := &ContractConfig{
			Admin:       params.Admin,
			AssetA:      params.AssetA,
			AssetB:      params.AssetB,
			ForwardRate: params.ForwardRate,
			SetupRate:   price.Price,
			InitTime:    o.now,
			Maturity:    params.Maturity,
		}
		if err := o.rec.putConfig(cfg); err != nil {
			return err
		}
		if err := o.rec.putAggregate(state.SideA, ledger.NewAssetAggregate(cfg.AssetA.ID, cfg.AssetA.Symbol)); err != nil {
			return err
		}
		if err := o.rec.putAggregate(state.SideB, ledger.NewAssetAggregate(cfg.AssetB.ID, cfg.AssetB.Symbol)); err != nil {
			return err
		}

		setupRate = price.Price
		o.event = &event.Initialized{
			Admin:       cfg.Admin,
			AssetA:      string(cfg.AssetA.ID),
			AssetB:      string(cfg.AssetB.ID),
			ForwardRate: cfg.ForwardRate,
			SetupRate:   cfg.SetupRate,
			Maturity:    cfg.Maturity,
			InitTime:    cfg.InitTime,
		}
		return nil
	})
	if err == nil {
		e.logger.Info().
			Str("asset_a", string(params.AssetA.ID)).
			Str("asset_b", string(params.AssetB.ID)).
			Int64("forward_rate", params.ForwardRate).
			Int64("setup_rate", setupRate).
			Msg("contract initialized")
	}
	return setupRate, err
}

// InitPositions creates both slot pools. Pool B slots are sized to the
// value of pool A at the setup rate; the B slot amount is returned.
func (e *Engine) InitPositions(ctx context.Context, caller uuid.UUID, slotsA, slotsB, slotAmountA int64) (int64, error) {
	var slotAmountB int64
	err := e.apply(ctx, "init_positions", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.requireAdmin(ctx, cfg, caller); err != nil {
			return err
		}
		initialized, err := o.positions.Initialized(ctx)
		if err != nil {
			return err
		}
		if initialized {
			return ErrPositionsAlreadyInitialized
		}
		if slotsA <= 0 || slotsB <= 0 || slotAmountA <= 0 {
			return ErrInvalidAmount
		}

		slotAmountB = state.SlotAmountB(slotsA, slotsB, slotAmountA, cfg.SetupRate)
		if slotAmountB <= 0 {
			return ErrInvalidAmount
		}
		if err := o.positions.InitPools(slotsA, slotAmountA, slotsB, slotAmountB); err != nil {
			return err
		}

		o.event = &event.PositionsInitialized{
			SlotsA:      slotsA,
			SlotsB:      slotsB,
			SlotAmountA: slotAmountA,
			SlotAmountB: slotAmountB,
		}
		return nil
	})
	return slotAmountB, err
}

// NearLeg fixes the spot rate from the oracle once the swap stage opens.
// Anyone may call it.
func (e *Engine) NearLeg(ctx context.Context) (oracle.PriceData, error) {
	var price oracle.PriceData
	err := e.apply(ctx, "near_leg", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if !cfg.Schedule().NearLegTimeReached(o.now) {
			return ErrTimeNotReached
		}
		if cfg.SpotRate != 0 {
			return ErrSpotRateAlreadyDefined
		}

		price, err = e.oracle.SpotPrice(ctx, string(cfg.AssetA.ID), string(cfg.AssetB.ID))
		if err != nil {
			return fmt.Errorf("spot rate: %w", err)
		}
		if price.Price <= 0 {
			return ErrInvalidRate
		}

		cfg.SpotRate = price.Price
		if err := o.rec.putConfig(cfg); err != nil {
			return err
		}
		o.event = &event.NearLegExecuted{SpotRate: price.Price, PriceTimestamp: price.Timestamp}
		return nil
	})
	if err == nil {
		if e.metrics != nil {
			e.metrics.SpotRate.Set(float64(price.Price))
		}
		e.logger.Info().Int64("spot_rate", price.Price).Msg("near leg executed")
	}
	return price, err
}

// SetSpot overrides the spot rate. Admin only.
func (e *Engine) SetSpot(ctx context.Context, caller uuid.UUID, rate int64) error {
	err := e.apply(ctx, "set_spot", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.requireAdmin(ctx, cfg, caller); err != nil {
			return err
		}
		if rate <= 0 {
			return ErrInvalidRate
		}

		previous := cfg.SpotRate
		cfg.SpotRate = rate
		if err := o.rec.putConfig(cfg); err != nil {
			return err
		}
		o.event = &event.SpotRateSet{Admin: caller, Previous: previous, SpotRate: rate}
		return nil
	})
	if err == nil {
		if e.metrics != nil {
			e.metrics.SpotRate.Set(float64(rate))
		}
		e.logger.Warn().Int64("spot_rate", rate).Msg("spot rate overridden by admin")
	}
	return err
}

// TransferAdmin moves escrowed tokens to recipient once the contract has
// closed. Admin only.
func (e *Engine) TransferAdmin(ctx context.Context, caller, recipient uuid.UUID, asset ledger.AssetID, amount int64) error {
	return e.apply(ctx, "transfer_admin", func(o *op) error {
		cfg, err := o.requireConfig()
		if err != nil {
			return err
		}
		if err := e.requireAdmin(ctx, cfg, caller); err != nil {
			return err
		}
		if cfg.Schedule().StageAt(o.now) != state.StageWithdraw {
			return ErrContractStillOpen
		}
		if _, ok := cfg.SideOf(asset); !ok {
			return ErrInvalidToken
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}

		o.transfer(ledger.NewEscrowAccountKey(asset), ledger.NewHolderAccountKey(recipient, asset), asset, amount, ledger.JournalTypeAdminTransfer)
		o.event = &event.AdminTransferred{Admin: caller, Recipient: recipient, Asset: string(asset), Amount: amount}
		return nil
	})
}

func (e *Engine) requireAdmin(ctx context.Context, cfg *ContractConfig, caller uuid.UUID) error {
	if err := e.authorize(ctx, caller); err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrUnauthorized
	}
	return nil
}
