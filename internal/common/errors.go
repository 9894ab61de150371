package common

import "errors"

// Error taxonomy shared across the engine. Calculators and policies return
// these directly; the exchange client wraps transport and API failures into
// them so the orchestrator can classify with errors.Is.
var (
	// ErrInvalidInput marks malformed numeric input to a pure calculator.
	// Always a caller bug, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPriceUnavailable marks a transient failure to obtain a mark price.
	// The affected position is skipped for the cycle and retried next poll.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrOrderRejected marks an exchange-declined mutation (insufficient
	// margin, invalid trigger price). Retried next cycle.
	ErrOrderRejected = errors.New("order rejected")

	// ErrNetworkError marks a transport failure talking to the exchange.
	ErrNetworkError = errors.New("network error")

	// ErrConfiguration marks an invalid configuration. Fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")
)
