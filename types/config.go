package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WasmPageSize is the size of one page of linear memory.
const WasmPageSize = 65536

// VMConfig defines the configuration for the VM.
type VMConfig struct {
	Cache  CacheOptions `json:"cache" yaml:"cache"`
	Limits WasmLimits   `json:"limits" yaml:"limits"`
}

type CacheOptions struct {
	// BaseDir persists instrumented code when non-empty.
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	// MemoryCacheSize is the number of compiled modules kept in memory.
	// At least one module is always kept.
	MemoryCacheSize uint32 `json:"memory_cache_size" yaml:"memory_cache_size"`
}

type WasmLimits struct {
	// MemoryLimitPages caps the linear memory of every instance.
	MemoryLimitPages uint32 `json:"memory_limit_pages" yaml:"memory_limit_pages"`
	// MaxCodeSize rejects raw modules larger than this many bytes. Zero means no limit.
	MaxCodeSize uint32 `json:"max_code_size" yaml:"max_code_size"`
}

// DefaultVMConfig returns the configuration used when none is supplied.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		Cache: CacheOptions{
			MemoryCacheSize: 100,
		},
		Limits: WasmLimits{
			MemoryLimitPages: 512, // 32 MiB
			MaxCodeSize:      512 * 1024,
		},
	}
}

// MemoryLimitBytes returns the instance memory limit in bytes.
func (l WasmLimits) MemoryLimitBytes() uint64 {
	return uint64(l.MemoryLimitPages) * WasmPageSize
}

// CheckCodeSize fails with ValidateError when raw is larger than MaxCodeSize.
func (l WasmLimits) CheckCodeSize(raw []byte) error {
	if l.MaxCodeSize != 0 && uint64(len(raw)) > uint64(l.MaxCodeSize) {
		return fmt.Errorf("%w: code size %d exceeds limit %d", ValidateError, len(raw), l.MaxCodeSize)
	}
	return nil
}

// Validate checks the configuration for values the engine cannot honour.
func (c VMConfig) Validate() error {
	if c.Limits.MemoryLimitPages == 0 || c.Limits.MemoryLimitPages > 65536 {
		return fmt.Errorf("memory limit must be between 1 and 65536 pages, got %d", c.Limits.MemoryLimitPages)
	}
	return nil
}

// LoadVMConfig reads a YAML file on top of DefaultVMConfig.
func LoadVMConfig(path string) (VMConfig, error) {
	config := DefaultVMConfig()
	bz, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(bz, &config); err != nil {
		return config, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return config, config.Validate()
}
