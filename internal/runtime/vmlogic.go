package runtime

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/bandprotocol/go-owasm/types"
)

// VMLogic is the per-call state of one sandbox run: the environment it reads
// from, the gas budget and the return data the script has set so far.
type VMLogic struct {
	env    types.Environment
	gas    *GasState
	logger zerolog.Logger

	calldata   []byte
	askCount   int64
	minCount   int64
	ansCount   int64
	returnData []byte

	trap *Trap
}

// NewVMLogic snapshots the calldata and the counts of env. They are served
// from the snapshot for the rest of the call.
func NewVMLogic(env types.Environment, gasLimit uint32, logger zerolog.Logger) *VMLogic {
	return &VMLogic{
		env:      env,
		gas:      NewGasState(uint64(gasLimit)),
		logger:   logger,
		calldata: append([]byte(nil), env.GetCallData()...),
		askCount: env.GetAskCount(),
		minCount: env.GetMinCount(),
		ansCount: env.GetAnsCount(),
	}
}

type vmLogicKey struct{}

// WithVMLogic attaches logic to ctx so host functions can reach it.
func WithVMLogic(ctx context.Context, logic *VMLogic) context.Context {
	return context.WithValue(ctx, vmLogicKey{}, logic)
}

// VMLogicFromContext returns the logic attached by WithVMLogic, or nil.
func VMLogicFromContext(ctx context.Context) *VMLogic {
	logic, _ := ctx.Value(vmLogicKey{}).(*VMLogic)
	return logic
}

func (l *VMLogic) Gas() *GasState {
	return l.gas
}

// Trap returns the first trap raised during the call, or nil.
func (l *VMLogic) Trap() *Trap {
	return l.trap
}

// ReturnData returns the last buffer the script passed to set_return_data.
func (l *VMLogic) ReturnData() []byte {
	return l.returnData
}

// fail records the trap and returns it. Only the first trap is kept; once the
// sandbox is unwinding nothing later is more accurate.
func (l *VMLogic) fail(kind TrapKind, op string, err error) *Trap {
	if l.trap == nil {
		l.trap = &Trap{Kind: kind, Op: op, Err: err}
		l.logger.Debug().
			Str("op", op).
			Stringer("kind", kind).
			Err(err).
			Msg("host trap")
	}
	return l.trap
}

func (l *VMLogic) memoryFail(op string, err error) error {
	return l.fail(TrapMemoryAccess, op, err)
}

func (l *VMLogic) envFail(op string, err error) error {
	return l.fail(TrapEnvironment, op, err)
}

// ConsumeGas charges amount against the budget. Running out is a trap.
func (l *VMLogic) ConsumeGas(amount uint32) error {
	if err := l.gas.Consume(uint64(amount)); err != nil {
		return l.fail(TrapOutOfGas, "gas", err)
	}
	return nil
}

func (l *VMLogic) GetCallDataSize() int64 {
	return int64(len(l.calldata))
}

// ReadCallData copies the first length bytes of the calldata to ptr.
func (l *VMLogic) ReadCallData(mem Memory, ptr, length int64) error {
	if err := writeMemory(mem, ptr, length, l.calldata); err != nil {
		return l.memoryFail("read_calldata", err)
	}
	l.trace("read_calldata").Int64("ptr", ptr).Int64("len", length).Send()
	return nil
}

// SetReturnData replaces the return buffer with length bytes read from ptr
// and forwards them to the environment.
func (l *VMLogic) SetReturnData(mem Memory, ptr, length int64) error {
	data, err := readMemory(mem, ptr, length)
	if err != nil {
		return l.memoryFail("set_return_data", err)
	}
	l.returnData = data
	traceData(l.trace("set_return_data"), "data", data).Send()
	if err := l.env.SetReturnData(data); err != nil {
		return l.envFail("set_return_data", err)
	}
	return nil
}

func (l *VMLogic) GetAskCount() int64 {
	return l.askCount
}

func (l *VMLogic) GetMinCount() int64 {
	return l.minCount
}

func (l *VMLogic) GetAnsCount() int64 {
	return l.ansCount
}

// AskExternalData reads length bytes of calldata from ptr and submits a raw
// request for data source did under external id eid.
func (l *VMLogic) AskExternalData(mem Memory, eid, did, ptr, length int64) error {
	data, err := readMemory(mem, ptr, length)
	if err != nil {
		return l.memoryFail("ask_external_data", err)
	}
	traceData(l.trace("ask_external_data").Int64("eid", eid).Int64("did", did), "calldata", data).Send()
	if err := l.env.AskExternalData(eid, did, data); err != nil {
		return l.envFail("ask_external_data", err)
	}
	return nil
}

func (l *VMLogic) GetExternalDataStatus(eid, vid int64) (int64, error) {
	status, err := l.env.GetExternalDataStatus(eid, vid)
	if err != nil {
		return 0, l.envFail("get_external_data_status", err)
	}
	return status, nil
}

func (l *VMLogic) GetExternalDataSize(eid, vid int64) (int64, error) {
	data, err := l.env.GetExternalData(eid, vid)
	if err != nil {
		return 0, l.envFail("get_external_data_size", err)
	}
	return int64(len(data)), nil
}

// ReadExternalData copies the first length bytes of the report of validator
// vid for eid to ptr.
func (l *VMLogic) ReadExternalData(mem Memory, eid, vid, ptr, length int64) error {
	data, err := l.env.GetExternalData(eid, vid)
	if err != nil {
		return l.envFail("read_external_data", err)
	}
	if err := writeMemory(mem, ptr, length, data); err != nil {
		return l.memoryFail("read_external_data", err)
	}
	traceData(l.trace("read_external_data").Int64("eid", eid).Int64("vid", vid), "data", data[:length]).Send()
	return nil
}

// IsTrap reports whether err came out of the host bridge.
func IsTrap(err error) bool {
	var trap *Trap
	return errors.As(err, &trap)
}
