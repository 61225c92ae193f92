// Package instrument validates raw oracle scripts and rewrites them to pay
// for their own execution through the env.gas host function.
package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/bandprotocol/go-owasm/types"
)

// CoreFeatures is the wasm feature set accepted by the instrumentor and
// enabled in the execution engine. Both sides must agree: the decoder here
// understands exactly the instructions these features allow.
const CoreFeatures = api.CoreFeaturesV1 |
	api.CoreFeatureSignExtensionOps |
	api.CoreFeatureNonTrappingFloatToIntConversion |
	api.CoreFeatureMultiValue

// Stage errors. Instrument wraps exactly one of them.
var (
	ErrValidate     = errors.New("validation failed")
	ErrDeserialize  = errors.New("deserialization failed")
	ErrGasInjection = errors.New("gas counter injection failed")
	ErrSerialize    = errors.New("serialization failed")
)

// Validate runs the engine's own decoder and validator over code.
func Validate(ctx context.Context, code []byte) error {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(CoreFeatures))
	defer r.Close(ctx)
	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		return err
	}
	return compiled.Close(ctx)
}

// Instrument validates raw, injects gas metering with DefaultRules and
// returns the new binary.
func Instrument(ctx context.Context, raw []byte) ([]byte, error) {
	return InstrumentWithRules(ctx, raw, DefaultRules)
}

// InstrumentWithRules is Instrument with a custom cost model.
func InstrumentWithRules(ctx context.Context, raw []byte, rules Rules) ([]byte, error) {
	if err := Validate(ctx, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidate, err)
	}
	m, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if err := InjectGasCounter(m, rules); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGasInjection, err)
	}
	out, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return out, nil
}

// Code maps an error returned by Instrument to its error code.
func Code(err error) types.ErrorCode {
	switch {
	case err == nil:
		return types.NoError
	case errors.Is(err, ErrValidate):
		return types.ValidateError
	case errors.Is(err, ErrDeserialize):
		return types.DeserializationError
	case errors.Is(err, ErrGasInjection):
		return types.GasCounterInjectionError
	case errors.Is(err, ErrSerialize):
		return types.SerializationError
	}
	return types.UnknownError
}
