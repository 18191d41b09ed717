package backtester

import "errors"

var (
	// ErrInvalidConfig is returned when a BacktestConfig fails
	// validation before any engine state is built.
	ErrInvalidConfig = errors.New("invalid backtest configuration")
	// ErrNoTriggers is returned when a run would generate zero
	// trigger events.
	ErrNoTriggers = errors.New("no trigger events generated")
)
