package owasm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bandprotocol/go-owasm/internal/cache"
	"github.com/bandprotocol/go-owasm/internal/instrument"
	"github.com/bandprotocol/go-owasm/internal/runtime"
	"github.com/bandprotocol/go-owasm/internal/wat"
	"github.com/bandprotocol/go-owasm/types"
)

// Environment is what an oracle script can see of the chain.
type Environment = types.Environment

// Checksum identifies an instrumented oracle script.
type Checksum = types.Checksum

// VM is the main entry point to this library.
// It owns one wazero runtime and a cache of compiled oracle scripts, and is
// safe to use from many goroutines.
type VM struct {
	cache  *cache.Cache
	config types.VMConfig
	logger zerolog.Logger
}

// NewVM creates a new VM.
//
// `config.Cache.BaseDir` persists instrumented scripts across restarts when set.
// `config.Cache.MemoryCacheSize` is the number of compiled scripts kept in memory.
// `config.Limits.MemoryLimitPages` caps the linear memory of every run.
func NewVM(config types.VMConfig, logger zerolog.Logger) (*VM, error) {
	c, err := cache.InitCache(context.Background(), config, logger)
	if err != nil {
		return nil, err
	}
	return &VM{cache: c, config: config, logger: logger.With().Str("module", "owasm").Logger()}, nil
}

// Cleanup should be called when no longer using this to free the runtime and
// release the lock on the base directory.
func (vm *VM) Cleanup() {
	if err := vm.cache.Close(context.Background()); err != nil {
		vm.logger.Error().Err(err).Msg("failed to close cache")
	}
}

// Compile validates raw and returns the gas-metered module without storing it.
func (vm *VM) Compile(raw []byte) ([]byte, error) {
	if err := vm.config.Limits.CheckCodeSize(raw); err != nil {
		return nil, err
	}
	return compile(context.Background(), raw)
}

// StoreCode compiles raw and keeps the result. The checksum can be used to
// run the script many times without recompiling it.
func (vm *VM) StoreCode(raw []byte) (Checksum, error) {
	if err := vm.config.Limits.CheckCodeSize(raw); err != nil {
		return Checksum{}, err
	}
	checksum, _, err := vm.cache.StoreCode(context.Background(), raw)
	return checksum, err
}

// GetCode loads the instrumented script stored under checksum.
func (vm *VM) GetCode(checksum Checksum) ([]byte, error) {
	return vm.cache.GetCode(checksum)
}

// RemoveCode forgets the script stored under checksum.
func (vm *VM) RemoveCode(checksum Checksum) error {
	return vm.cache.RemoveCode(checksum)
}

// Prepare runs the prepare phase of a stored script. During this phase the
// script asks for external data through env.
func (vm *VM) Prepare(checksum Checksum, gasLimit uint32, env Environment) (types.RunOutput, error) {
	return vm.runStored(checksum, gasLimit, runtime.PhasePrepare, env)
}

// Execute runs the execute phase of a stored script. During this phase the
// script reads the reports from env and sets the result.
func (vm *VM) Execute(checksum Checksum, gasLimit uint32, env Environment) (types.RunOutput, error) {
	return vm.runStored(checksum, gasLimit, runtime.PhaseExecute, env)
}

func (vm *VM) runStored(checksum Checksum, gasLimit uint32, phase runtime.Phase, env Environment) (types.RunOutput, error) {
	code, err := vm.cache.GetCode(checksum)
	if err != nil {
		return types.RunOutput{GasLimit: types.Gas(gasLimit)}, fmt.Errorf("%w: %v", types.UnknownError, err)
	}
	return vm.run(code, gasLimit, phase, env)
}

// Run executes already compiled code. isPrepare selects the prepare entry
// point, otherwise execute is called.
func (vm *VM) Run(code []byte, gasLimit uint32, isPrepare bool, env Environment) (types.RunOutput, error) {
	return vm.run(code, gasLimit, runtime.PhaseFromBool(isPrepare), env)
}

func (vm *VM) run(code []byte, gasLimit uint32, phase runtime.Phase, env Environment) (types.RunOutput, error) {
	return runtime.Run(context.Background(), vm.cache, code, gasLimit, phase, env, vm.logger)
}

// AnalyzeCode reports the entry points and host imports of a stored script.
func (vm *VM) AnalyzeCode(checksum Checksum) (types.AnalysisReport, error) {
	code, err := vm.cache.GetCode(checksum)
	if err != nil {
		return types.AnalysisReport{}, err
	}
	compiled, release, err := vm.cache.Compile(context.Background(), code)
	if err != nil {
		return types.AnalysisReport{}, err
	}
	defer release()
	return runtime.Analyze(compiled), nil
}

// Metrics returns the cache counters of the VM.
func (vm *VM) Metrics() types.Metrics {
	return vm.cache.Metrics()
}

var (
	defaultVM     *VM
	defaultVMErr  error
	defaultVMOnce sync.Once
)

func sharedVM() (*VM, error) {
	defaultVMOnce.Do(func() {
		config := types.DefaultVMConfig()
		config.Limits.MaxCodeSize = 0
		defaultVM, defaultVMErr = NewVM(config, zerolog.Nop())
	})
	return defaultVM, defaultVMErr
}

func compile(ctx context.Context, raw []byte) ([]byte, error) {
	code, err := instrument.Instrument(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", instrument.Code(err), err)
	}
	return code, nil
}

// Compile validates raw and returns it with gas metering injected.
func Compile(raw []byte) ([]byte, error) {
	return compile(context.Background(), raw)
}

// Run executes compiled code once on a process-wide VM. isPrepare selects
// the prepare entry point, otherwise execute is called.
func Run(code []byte, gasLimit uint32, isPrepare bool, env Environment) error {
	vm, err := sharedVM()
	if err != nil {
		return fmt.Errorf("%w: %v", types.UnknownError, err)
	}
	_, err = vm.Run(code, gasLimit, isPrepare, env)
	return err
}

// Wat2Wasm converts the text format into a validated binary module.
func Wat2Wasm(text []byte) ([]byte, error) {
	bin, err := wat.ToBinary(text)
	if err != nil {
		return nil, watError(err)
	}
	if err := instrument.Validate(context.Background(), bin); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ValidateError, err)
	}
	return bin, nil
}

func watError(err error) error {
	var werr *wat.Error
	if !errors.As(err, &werr) {
		return fmt.Errorf("%w: %v", types.UnknownError, err)
	}
	switch werr.Kind {
	case wat.KindParse:
		return fmt.Errorf("%w: %v", types.ParseError, err)
	case wat.KindResolveNames:
		return fmt.Errorf("%w: %v", types.ResolveNamesError, err)
	case wat.KindWriteBinary:
		return fmt.Errorf("%w: %v", types.WriteBinaryError, err)
	default:
		return fmt.Errorf("%w: %v", types.UnknownError, err)
	}
}
