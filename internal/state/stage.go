package state

// Stage is the lifecycle phase of a swap, derived from the clock on every
// call and never stored.
type Stage int32

const (
	StageDeposit Stage = iota
	StageSwap
	StageRepay
	StageWithdraw
)

const (
	TimeToExec  int64 = 86_400  // deposit window, seconds
	TimeToRepay int64 = 172_800 // repay window, seconds
)

func (s Stage) String() string {
	switch s {
	case StageDeposit:
		return "Deposit"
	case StageSwap:
		return "Swap"
	case StageRepay:
		return "Repay"
	case StageWithdraw:
		return "Withdraw"
	default:
		return "Unknown"
	}
}

// Schedule holds the stage boundaries of one contract.
type Schedule struct {
	InitTime int64
	Maturity int64
}

// SwapStart is when the near leg may execute and the Swap stage opens.
func (s Schedule) SwapStart() int64 {
	return s.InitTime + TimeToExec
}

func (s Schedule) RepayStart() int64 {
	return s.SwapStart() + s.Maturity
}

func (s Schedule) WithdrawStart() int64 {
	return s.RepayStart() + TimeToRepay
}

// StageAt resolves the stage at now.
func (s Schedule) StageAt(now int64) Stage {
	switch {
	case now < s.SwapStart():
		return StageDeposit
	case now < s.RepayStart():
		return StageSwap
	case now < s.WithdrawStart():
		return StageRepay
	default:
		return StageWithdraw
	}
}

// NearLegTimeReached reports whether the deposit window has closed.
func (s Schedule) NearLegTimeReached(now int64) bool {
	return now >= s.SwapStart()
}

// MaxTimeReached reports whether withdrawals are open.
func (s Schedule) MaxTimeReached(now int64) bool {
	return now >= s.WithdrawStart()
}
