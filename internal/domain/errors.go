package domain

import "errors"

var (
	// ErrInsufficientData means there are too few bars to compute indicators.
	ErrInsufficientData = errors.New("insufficient market data")
	// ErrNoOpenPosition means the position does not exist or is already closed.
	ErrNoOpenPosition = errors.New("no open position")
	// ErrPositionConflict means a same-direction position is already open for the symbol.
	ErrPositionConflict = errors.New("position already open in same direction")
	// ErrUpstreamUnavailable wraps market-data collaborator failures.
	ErrUpstreamUnavailable = errors.New("market data unavailable")
	ErrUnsupportedSymbol   = errors.New("unsupported symbol")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient paper balance")
)
