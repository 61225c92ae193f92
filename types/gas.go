package types

// Gas represents the amount of computational resources consumed during execution.
type Gas = uint64

// RunOutput reports the gas accounting of one prepare or execute call.
type RunOutput struct {
	GasLimit Gas `json:"gas_limit"`
	GasUsed  Gas `json:"gas_used"`
}

// GasRemaining is the unused part of the limit.
func (o RunOutput) GasRemaining() Gas {
	return o.GasLimit - o.GasUsed
}
