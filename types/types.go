package types

// Metrics counts the activity of a VM's compiled-module cache.
type Metrics struct {
	HitsMemoryCache uint32 `json:"hits_memory_cache"`
	Misses          uint32 `json:"misses"`
	// ElementsMemory is the number of compiled modules held in memory.
	ElementsMemory uint32 `json:"elements_memory"`
	// ElementsStored is the number of instrumented scripts kept by the VM.
	ElementsStored uint32 `json:"elements_stored"`
	// Cumulative size of all stored scripts (in bytes)
	SizeStoredCodeSum uint64 `json:"size_stored_code_sum"`
}

// AnalysisReport describes what a stored script provides and needs.
type AnalysisReport struct {
	HasPrepare bool `json:"has_prepare"`
	HasExecute bool `json:"has_execute"`
	// RequiredImports lists the host functions the script imports, as
	// "module.name", sorted, without the gas counter.
	RequiredImports []string `json:"required_imports"`
}
