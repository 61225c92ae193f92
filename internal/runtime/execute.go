package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/bandprotocol/go-owasm/types"
)

// Phase selects the exported entry point of an oracle script.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseExecute
)

// PhaseFromBool maps the isPrepare flag of the public API to a Phase.
func PhaseFromBool(isPrepare bool) Phase {
	if isPrepare {
		return PhasePrepare
	}
	return PhaseExecute
}

// Entry is the name of the export called for the phase.
func (p Phase) Entry() string {
	if p == PhasePrepare {
		return "prepare"
	}
	return "execute"
}

func (p Phase) String() string {
	return p.Entry()
}

// Compiler hands out engine artifacts for instrumented code. The runtime it
// returns must already have the host module registered. A compiled module
// stays usable until its release func is called.
type Compiler interface {
	Runtime() wazero.Runtime
	Compile(ctx context.Context, code []byte) (wazero.CompiledModule, func(), error)
}

// Run executes the phase entry point of code against env with a fresh host
// bridge. The returned error is nil or carries exactly one types.ErrorCode.
func Run(ctx context.Context, compiler Compiler, code []byte, gasLimit uint32, phase Phase, env types.Environment, logger zerolog.Logger) (types.RunOutput, error) {
	logic := NewVMLogic(env, gasLimit, logger)
	output := func() types.RunOutput {
		return types.RunOutput{GasLimit: logic.Gas().Limit(), GasUsed: logic.Gas().Used()}
	}

	compiled, release, err := compiler.Compile(ctx, code)
	if err != nil {
		return output(), err
	}
	defer release()

	// The entry point is resolved before the start section can charge gas.
	def, ok := compiled.ExportedFunctions()[phase.Entry()]
	if !ok {
		return output(), wrap(types.FunctionNotFoundError, fmt.Errorf("export %q not found", phase.Entry()))
	}
	if !isEntryPoint(def) {
		return output(), wrap(types.FunctionNotFoundError, fmt.Errorf("export %q must take and return nothing", phase.Entry()))
	}

	ctx = WithVMLogic(ctx, logic)
	// Only the start section runs on instantiation; "_start" is not special here.
	mod, err := compiler.Runtime().InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		if trap := logic.Trap(); trap != nil && trap.Kind == TrapOutOfGas {
			return output(), wrap(types.GasLimitExceedError, err)
		}
		return output(), wrap(types.CompilationError, err)
	}
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction(phase.Entry()).Call(ctx)
	out := output()
	if err != nil {
		err = classify(logic, err)
		logger.Debug().
			Stringer("phase", phase).
			Uint64("gas_used", out.GasUsed).
			Err(err).
			Msg("oracle script failed")
		return out, err
	}
	logger.Debug().
		Stringer("phase", phase).
		Uint64("gas_used", out.GasUsed).
		Int("return_size", len(logic.ReturnData())).
		Msg("oracle script finished")
	return out, nil
}

// classify reduces a failed call to its error code. The trap recorded by the
// bridge wins over anything the engine reports.
func classify(logic *VMLogic, err error) error {
	if trap := logic.Trap(); trap != nil {
		switch trap.Kind {
		case TrapOutOfGas:
			return wrap(types.GasLimitExceedError, trap)
		case TrapMemoryAccess:
			return wrap(types.RunError, trap)
		default:
			return wrap(types.UnknownError, trap)
		}
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return wrap(types.UnknownError, err)
	}
	return wrap(types.RunError, err)
}

func wrap(code types.ErrorCode, err error) error {
	return fmt.Errorf("%w: %v", code, err)
}
