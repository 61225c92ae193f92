package runtime

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module every oracle script links against.
const HostModuleName = "env"

var errNoVMLogic = errors.New("host function called outside of a run")

func logicFrom(ctx context.Context) *VMLogic {
	logic := VMLogicFromContext(ctx)
	if logic == nil {
		panic(errNoVMLogic)
	}
	return logic
}

// check unwinds the sandbox when a host call failed. wazero recovers the
// panic and returns it from the exported function call.
func check(err error) {
	if err != nil {
		panic(err)
	}
}

// RegisterHostFunctions instantiates the "env" module on runtime. It is done
// once per runtime; the per-call state travels in the context passed to the
// exported function.
func RegisterHostFunctions(ctx context.Context, runtime wazero.Runtime) (api.Module, error) {
	builder := runtime.NewHostModuleBuilder(HostModuleName)

	registerGasFunctions(builder)
	registerCallDataFunctions(builder)
	registerRequestFunctions(builder)
	registerExternalDataFunctions(builder)

	return builder.Instantiate(ctx)
}

func registerGasFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, cost uint32) {
			check(logicFrom(ctx).ConsumeGas(cost))
		}).
		WithParameterNames("cost").
		Export("gas")
}

func registerCallDataFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) int64 {
			return logicFrom(ctx).GetCallDataSize()
		}).
		Export("get_calldata_size")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length int64) {
			check(logicFrom(ctx).ReadCallData(m.Memory(), ptr, length))
		}).
		WithParameterNames("ptr", "len").
		Export("read_calldata")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length int64) {
			check(logicFrom(ctx).SetReturnData(m.Memory(), ptr, length))
		}).
		WithParameterNames("ptr", "len").
		Export("set_return_data")
}

func registerRequestFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) int64 {
			return logicFrom(ctx).GetAskCount()
		}).
		Export("get_ask_count")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) int64 {
			return logicFrom(ctx).GetMinCount()
		}).
		Export("get_min_count")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) int64 {
			return logicFrom(ctx).GetAnsCount()
		}).
		Export("get_ans_count")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, eid, did, ptr, length int64) {
			check(logicFrom(ctx).AskExternalData(m.Memory(), eid, did, ptr, length))
		}).
		WithParameterNames("eid", "did", "ptr", "len").
		Export("ask_external_data")
}

func registerExternalDataFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, eid, vid int64) int64 {
			status, err := logicFrom(ctx).GetExternalDataStatus(eid, vid)
			check(err)
			return status
		}).
		WithParameterNames("eid", "vid").
		Export("get_external_data_status")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, eid, vid int64) int64 {
			size, err := logicFrom(ctx).GetExternalDataSize(eid, vid)
			check(err)
			return size
		}).
		WithParameterNames("eid", "vid").
		Export("get_external_data_size")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, eid, vid, ptr, length int64) {
			check(logicFrom(ctx).ReadExternalData(m.Memory(), eid, vid, ptr, length))
		}).
		WithParameterNames("eid", "vid", "ptr", "len").
		Export("read_external_data")
}
