package runtime

import (
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/bandprotocol/go-owasm/types"
)

// Analyze reports the entry points and host imports of a compiled script.
// It does not reject anything: a missing entry point only fails the phase
// that needs it.
func Analyze(compiled wazero.CompiledModule) types.AnalysisReport {
	var report types.AnalysisReport

	exports := compiled.ExportedFunctions()
	report.HasPrepare = isEntryPoint(exports[PhasePrepare.Entry()])
	report.HasExecute = isEntryPoint(exports[PhaseExecute.Entry()])

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module == HostModuleName && name == "gas" {
			continue
		}
		report.RequiredImports = append(report.RequiredImports, module+"."+name)
	}
	sort.Strings(report.RequiredImports)
	return report
}

func isEntryPoint(def api.FunctionDefinition) bool {
	return def != nil && len(def.ParamTypes()) == 0 && len(def.ResultTypes()) == 0
}
