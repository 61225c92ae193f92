// Package cache owns the wazero runtime shared by every run and keeps
// compiled oracle scripts around between calls.
package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/sys/unix"

	"github.com/bandprotocol/go-owasm/internal/instrument"
	owasmruntime "github.com/bandprotocol/go-owasm/internal/runtime"
	"github.com/bandprotocol/go-owasm/types"
)

// Cache manages a wazero runtime, compiled modules, and on-disk code storage.
type Cache struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	runtime wazero.Runtime
	host    api.Module
	modules *lru.Cache[types.Checksum, *entry]
	// held are modules dropped from the memory cache that runs still use.
	// wazero keys compiled code by content, so a recompile of the same code
	// would share them; they are revived instead.
	held map[types.Checksum]*entry
	// code stores instrumented wasm by checksum
	code map[types.Checksum][]byte
	// lockfile holds the exclusive lock on baseDir
	lockfile *os.File
	baseDir  string
	metrics  types.Metrics
}

var _ owasmruntime.Compiler = (*Cache)(nil)

// entry is a compiled module with the number of runs currently using it.
// A module dropped from the memory cache is closed once the last run
// releases it.
type entry struct {
	checksum types.Checksum
	module   wazero.CompiledModule
	refs     int
	dropped  bool
}

// closeIfUnused must be called with the cache lock held.
func (c *Cache) closeIfUnused(e *entry) {
	if !e.dropped || e.refs > 0 {
		return
	}
	delete(c.held, e.checksum)
	c.logger.Debug().Stringer("checksum", e.checksum).Msg("close compiled module")
	_ = e.module.Close(context.Background())
}

// acquire must be called with the cache lock held.
func (c *Cache) acquire(e *entry) (wazero.CompiledModule, func()) {
	e.refs++
	var once sync.Once
	return e.module, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			e.refs--
			c.closeIfUnused(e)
		})
	}
}

// NewRuntime creates the engine every oracle script runs on, with the env
// host module already registered.
func NewRuntime(ctx context.Context, limits types.WasmLimits) (wazero.Runtime, api.Module, error) {
	config := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(instrument.CoreFeatures).
		WithMemoryLimitPages(limits.MemoryLimitPages).
		WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, config)
	host, err := owasmruntime.RegisterHostFunctions(ctx, r)
	if err != nil {
		r.Close(ctx)
		return nil, nil, fmt.Errorf("could not register host functions: %w", err)
	}
	return r, host, nil
}

// InitCache opens a cache for config. With a base directory the previously
// stored code is loaded and the directory is locked for this process.
func InitCache(ctx context.Context, config types.VMConfig, logger zerolog.Logger) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		logger:  logger.With().Str("module", "cache").Logger(),
		code:    make(map[types.Checksum][]byte),
		held:    make(map[types.Checksum]*entry),
		baseDir: config.Cache.BaseDir,
	}

	if c.baseDir != "" {
		if err := c.openBaseDir(); err != nil {
			return nil, err
		}
	}

	size := max(1, int(config.Cache.MemoryCacheSize))
	// The callback runs inside Add and Remove, which are only called with
	// c.mu held.
	modules, err := lru.NewWithEvict(size, func(checksum types.Checksum, e *entry) {
		c.logger.Debug().Stringer("checksum", checksum).Int("refs", e.refs).Msg("evict compiled module")
		e.dropped = true
		if e.refs > 0 {
			c.held[checksum] = e
			return
		}
		c.closeIfUnused(e)
	})
	if err != nil {
		c.unlock()
		return nil, err
	}
	c.modules = modules

	c.runtime, c.host, err = NewRuntime(ctx, config.Limits)
	if err != nil {
		c.unlock()
		return nil, err
	}
	c.logger.Debug().
		Str("base_dir", c.baseDir).
		Int("memory_cache_size", size).
		Int("stored", len(c.code)).
		Msg("cache initialized")
	return c, nil
}

func (c *Cache) openBaseDir() error {
	base := c.baseDir
	if strings.Contains(base, ":") && runtime.GOOS != "windows" {
		return fmt.Errorf("invalid base directory: %s", base)
	}
	codeDir := filepath.Join(base, "code")
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		return fmt.Errorf("could not create code directory: %w", err)
	}

	lockPath := filepath.Join(base, "exclusive.lock")
	lf, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("could not open exclusive.lock: %w", err)
	}
	if _, err := lf.WriteString("exclusive lock for owasm VM\n"); err != nil {
		lf.Close()
		return fmt.Errorf("error writing to exclusive.lock: %w", err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lf.Close()
		return fmt.Errorf("could not lock exclusive.lock; is another VM running? %w", err)
	}
	c.lockfile = lf

	files, err := filepath.Glob(filepath.Join(codeDir, "*.wasm"))
	if err != nil {
		c.unlock()
		return fmt.Errorf("failed scanning code directory: %w", err)
	}
	for _, p := range files {
		checksum, err := types.ParseChecksum(strings.TrimSuffix(filepath.Base(p), ".wasm"))
		if err != nil {
			c.logger.Warn().Str("file", p).Msg("skipping file with invalid checksum name")
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			c.unlock()
			return fmt.Errorf("failed reading existing code %s: %w", p, err)
		}
		c.code[checksum] = data
		c.metrics.SizeStoredCodeSum += uint64(len(data))
	}
	c.metrics.ElementsStored = uint32(len(c.code))
	return nil
}

func (c *Cache) unlock() {
	if c.lockfile != nil {
		c.lockfile.Close()
		c.lockfile = nil
	}
}

// Runtime returns the shared engine.
func (c *Cache) Runtime() wazero.Runtime {
	return c.runtime
}

// Compile returns the compiled form of instrumented code, compiling and
// caching it on a miss. The module stays open until release is called, even
// if it leaves the memory cache in the meantime. release may be called more
// than once.
func (c *Cache) Compile(ctx context.Context, code []byte) (wazero.CompiledModule, func(), error) {
	checksum := types.CreateChecksum(code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.modules.Get(checksum); ok {
		c.metrics.HitsMemoryCache++
		mod, release := c.acquire(e)
		return mod, release, nil
	}
	c.metrics.Misses++

	if e, ok := c.held[checksum]; ok {
		delete(c.held, checksum)
		e.dropped = false
		mod, release := c.acquire(e)
		c.modules.Add(checksum, e)
		return mod, release, nil
	}

	mod, err := c.runtime.CompileModule(ctx, code)
	if err != nil {
		c.logger.Debug().Stringer("checksum", checksum).Err(err).Msg("compile failed")
		return nil, func() {}, fmt.Errorf("%w: %v", types.CompilationError, err)
	}
	e := &entry{checksum: checksum, module: mod}
	acquired, release := c.acquire(e)
	c.modules.Add(checksum, e)
	return acquired, release, nil
}

// StoreCode instruments raw, keeps the result under its checksum and warms
// the memory cache with it.
func (c *Cache) StoreCode(ctx context.Context, raw []byte) (types.Checksum, []byte, error) {
	code, err := instrument.Instrument(ctx, raw)
	if err != nil {
		return types.Checksum{}, nil, fmt.Errorf("%w: %v", instrument.Code(err), err)
	}
	checksum := types.CreateChecksum(code)

	_, release, err := c.Compile(ctx, code)
	if err != nil {
		return types.Checksum{}, nil, err
	}
	release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.code[checksum]; ok {
		return checksum, code, nil
	}
	if c.baseDir != "" {
		filePath := filepath.Join(c.baseDir, "code", checksum.String()+".wasm")
		if err := os.WriteFile(filePath, code, 0o644); err != nil {
			return types.Checksum{}, nil, fmt.Errorf("%w: failed to write wasm file: %v", types.UnknownError, err)
		}
	}
	c.code[checksum] = code
	c.metrics.ElementsStored++
	c.metrics.SizeStoredCodeSum += uint64(len(code))
	c.logger.Debug().Stringer("checksum", checksum).Int("size", len(code)).Msg("stored code")
	return checksum, code, nil
}

// GetCode returns the instrumented wasm stored under checksum.
func (c *Cache) GetCode(checksum types.Checksum) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.code[checksum]
	if !ok {
		return nil, fmt.Errorf("code '%s' not found", hex.EncodeToString(checksum[:]))
	}
	return append([]byte(nil), data...), nil
}

// RemoveCode drops the stored and compiled forms of checksum.
func (c *Cache) RemoveCode(checksum types.Checksum) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.code[checksum]
	if !ok {
		return fmt.Errorf("code '%s' not found", checksum)
	}
	if c.baseDir != "" {
		filePath := filepath.Join(c.baseDir, "code", checksum.String()+".wasm")
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove wasm file: %w", err)
		}
	}
	delete(c.code, checksum)
	c.metrics.ElementsStored--
	c.metrics.SizeStoredCodeSum -= uint64(len(data))
	c.modules.Remove(checksum)
	return nil
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() types.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.ElementsMemory = uint32(c.modules.Len())
	return m
}

// Close releases the runtime and the directory lock.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.runtime != nil {
		// closes the compiled modules and the host module with it
		err = c.runtime.Close(ctx)
		c.runtime = nil
	}
	c.unlock()
	return err
}
