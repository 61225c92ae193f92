package runtime

import "fmt"

// GasState tracks the gas budget of one call. remaining never exceeds limit
// and a charge that does not fit leaves it untouched.
type GasState struct {
	limit     uint64
	remaining uint64
}

// NewGasState creates a new GasState with the given limit
func NewGasState(limit uint64) *GasState {
	return &GasState{
		limit:     limit,
		remaining: limit,
	}
}

// Consume charges amount, failing with a GasError when it exceeds what is left.
func (g *GasState) Consume(amount uint64) error {
	if amount > g.remaining {
		return &GasError{
			Wanted:    amount,
			Available: g.remaining,
		}
	}
	g.remaining -= amount
	return nil
}

func (g *GasState) Limit() uint64 {
	return g.limit
}

func (g *GasState) Remaining() uint64 {
	return g.remaining
}

func (g *GasState) Used() uint64 {
	return g.limit - g.remaining
}

// GasError represents an error related to gas consumption
type GasError struct {
	Wanted    uint64
	Available uint64
}

func (e *GasError) Error() string {
	return fmt.Sprintf("insufficient gas: required %d, but only %d available", e.Wanted, e.Available)
}
