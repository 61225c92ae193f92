package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/bandprotocol/go-owasm/internal/api"
	owasmruntime "github.com/bandprotocol/go-owasm/internal/runtime"
	"github.com/bandprotocol/go-owasm/internal/wat"
	"github.com/bandprotocol/go-owasm/types"
)

const (
	TESTING_MEMORY_LIMIT = 32 // pages
	TESTING_CACHE_SIZE   = 100
)

var (
	scriptA = `(module (func (export "prepare")) (func (export "execute")))`
	scriptB = `(module
		(import "env" "get_ask_count" (func (result i64)))
		(func (export "prepare") call 0 drop)
		(func (export "execute")))`
)

func testConfig(baseDir string, size uint32) types.VMConfig {
	return types.VMConfig{
		Cache: types.CacheOptions{
			BaseDir:         baseDir,
			MemoryCacheSize: size,
		},
		Limits: types.WasmLimits{
			MemoryLimitPages: TESTING_MEMORY_LIMIT,
		},
	}
}

func withCache(t *testing.T, config types.VMConfig) *Cache {
	t.Helper()
	c, err := InitCache(context.Background(), config, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestStoreAndGetCode(t *testing.T) {
	c := withCache(t, testConfig("", TESTING_CACHE_SIZE))
	ctx := context.Background()

	checksum, code, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	assert.Equal(t, types.CreateChecksum(code), checksum)

	got, err := c.GetCode(checksum)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	// storing the same script again is a no-op
	again, _, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	assert.Equal(t, checksum, again)
	assert.Equal(t, uint32(1), c.Metrics().ElementsStored)
}

func TestStoreCodeRejectsInvalidScript(t *testing.T) {
	c := withCache(t, testConfig("", TESTING_CACHE_SIZE))

	_, _, err := c.StoreCode(context.Background(), []byte("nope"))
	require.Error(t, err)
	assert.Equal(t, types.ValidateError, types.ToCode(err))
}

func TestCompileHitsAndMisses(t *testing.T) {
	c := withCache(t, testConfig("", TESTING_CACHE_SIZE))
	ctx := context.Background()

	_, code, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	// StoreCode warmed the cache
	m := c.Metrics()
	assert.Equal(t, uint32(1), m.Misses)
	assert.Equal(t, uint32(1), m.ElementsMemory)

	first, release, err := c.Compile(ctx, code)
	require.NoError(t, err)
	defer release()
	second, release2, err := c.Compile(ctx, code)
	require.NoError(t, err)
	defer release2()
	assert.Same(t, first, second)
	assert.Equal(t, uint32(2), c.Metrics().HitsMemoryCache)
}

func TestCompileRejectsGarbage(t *testing.T) {
	c := withCache(t, testConfig("", TESTING_CACHE_SIZE))
	_, _, err := c.Compile(context.Background(), []byte{0x00, 0x61, 0x73, 0x6d})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.CompilationError))
}

func TestCompileUnknownImport(t *testing.T) {
	c := withCache(t, testConfig("", TESTING_CACHE_SIZE))
	ctx := context.Background()
	code := wat.MustToBinary(`(module (import "env" "nope" (func)) (func (export "execute")))`)

	// compiles fine, linking happens on instantiation
	compiled, release, err := c.Compile(ctx, code)
	require.NoError(t, err)
	defer release()
	_, err = c.Runtime().InstantiateModule(ctx, compiled, nil)
	require.Error(t, err)
}

func TestMemoryCacheEvicts(t *testing.T) {
	c := withCache(t, testConfig("", 1))
	ctx := context.Background()

	_, codeA, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	_, _, err = c.StoreCode(ctx, wat.MustToBinary(scriptB))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), c.Metrics().ElementsMemory)

	// A was evicted by B
	_, release, err := c.Compile(ctx, codeA)
	require.NoError(t, err)
	release()
	m := c.Metrics()
	assert.Equal(t, uint32(3), m.Misses)
	assert.Equal(t, uint32(0), m.HitsMemoryCache)
}

func TestEvictedModuleStaysOpenWhileInUse(t *testing.T) {
	c := withCache(t, testConfig("", 1))
	ctx := context.Background()

	_, codeA, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	compiledA, releaseA, err := c.Compile(ctx, codeA)
	require.NoError(t, err)
	entryA, ok := c.modules.Peek(types.CreateChecksum(codeA))
	require.True(t, ok)

	// B pushes A out of the memory cache while A is still held
	_, _, err = c.StoreCode(ctx, wat.MustToBinary(scriptB))
	require.NoError(t, err)
	assert.True(t, entryA.dropped)
	assert.Equal(t, 1, entryA.refs)
	assert.Same(t, entryA, c.held[types.CreateChecksum(codeA)])

	mod, err := c.Runtime().InstantiateModule(ctx, compiledA, wazero.NewModuleConfig().WithName(""))
	require.NoError(t, err)
	require.NoError(t, mod.Close(ctx))

	releaseA()
	releaseA()
	assert.Equal(t, 0, entryA.refs)
	assert.Empty(t, c.held)
}

func TestHeldModuleIsReusedAfterEviction(t *testing.T) {
	c := withCache(t, testConfig("", 1))
	ctx := context.Background()

	_, codeA, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	first, releaseFirst, err := c.Compile(ctx, codeA)
	require.NoError(t, err)
	_, _, err = c.StoreCode(ctx, wat.MustToBinary(scriptB))
	require.NoError(t, err)

	// A comes back while the first run still holds it
	second, releaseSecond, err := c.Compile(ctx, codeA)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Empty(t, c.held)

	// the first release must not close the module under the second run
	releaseFirst()
	mod, err := c.Runtime().InstantiateModule(ctx, second, wazero.NewModuleConfig().WithName(""))
	require.NoError(t, err)
	require.NoError(t, mod.Close(ctx))
	releaseSecond()
}

func TestRemovedModuleStaysOpenWhileInUse(t *testing.T) {
	c := withCache(t, testConfig("", TESTING_CACHE_SIZE))
	ctx := context.Background()

	checksum, code, err := c.StoreCode(ctx, wat.MustToBinary(scriptA))
	require.NoError(t, err)
	compiled, release, err := c.Compile(ctx, code)
	require.NoError(t, err)
	defer release()

	require.NoError(t, c.RemoveCode(checksum))
	mod, err := c.Runtime().InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	require.NoError(t, err)
	require.NoError(t, mod.Close(ctx))
}

func TestConcurrentRunsWithTinyCache(t *testing.T) {
	c := withCache(t, testConfig("", 1))
	ctx := context.Background()

	var codes [][]byte
	for _, text := range []string{
		`(module (func (export "execute") (local $i i32)
			(loop $l
				(local.set $i (i32.add (local.get $i) (i32.const 1)))
				(br_if $l (i32.lt_u (local.get $i) (i32.const 100))))))`,
		`(module (func (export "execute") (local $i i64)
			(loop $l
				(local.set $i (i64.add (local.get $i) (i64.const 1)))
				(br_if $l (i64.lt_u (local.get $i) (i64.const 50))))))`,
	} {
		_, code, err := c.StoreCode(ctx, wat.MustToBinary(text))
		require.NoError(t, err)
		codes = append(codes, code)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8*100)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				code := codes[(g+i)%len(codes)]
				_, err := owasmruntime.Run(ctx, c, code, 1_000_000, owasmruntime.PhaseExecute, api.NewMockEnv(nil, 0, 0, 0), zerolog.Nop())
				if err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("valid script failed: %v", err)
	}
	assert.Equal(t, uint32(1), c.Metrics().ElementsMemory)
}

func TestRemoveCode(t *testing.T) {
	dir := t.TempDir()
	c := withCache(t, testConfig(dir, TESTING_CACHE_SIZE))

	checksum, _, err := c.StoreCode(context.Background(), wat.MustToBinary(scriptA))
	require.NoError(t, err)
	path := filepath.Join(dir, "code", checksum.String()+".wasm")
	require.FileExists(t, path)

	require.NoError(t, c.RemoveCode(checksum))
	assert.NoFileExists(t, path)
	_, err = c.GetCode(checksum)
	require.Error(t, err)
	assert.Equal(t, uint32(0), c.Metrics().ElementsMemory)

	require.Error(t, c.RemoveCode(checksum))
}

func TestReloadFromBaseDir(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := InitCache(ctx, testConfig(dir, TESTING_CACHE_SIZE), zerolog.Nop())
	require.NoError(t, err)
	checksum, code, err := c.StoreCode(ctx, wat.MustToBinary(scriptB))
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	// stray files are skipped
	require.NoError(t, os.WriteFile(filepath.Join(dir, "code", "junk.wasm"), []byte{1}, 0o644))

	reopened := withCache(t, testConfig(dir, TESTING_CACHE_SIZE))
	got, err := reopened.GetCode(checksum)
	require.NoError(t, err)
	assert.Equal(t, code, got)
	m := reopened.Metrics()
	assert.Equal(t, uint32(1), m.ElementsStored)
	assert.Equal(t, uint64(len(code)), m.SizeStoredCodeSum)
}

func TestBaseDirIsLocked(t *testing.T) {
	dir := t.TempDir()
	withCache(t, testConfig(dir, TESTING_CACHE_SIZE))

	_, err := InitCache(context.Background(), testConfig(dir, TESTING_CACHE_SIZE), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclusive.lock")
}

func TestInitCacheRejectsBadConfig(t *testing.T) {
	bad := testConfig("", TESTING_CACHE_SIZE)
	bad.Limits.MemoryLimitPages = 0
	_, err := InitCache(context.Background(), bad, zerolog.Nop())
	require.Error(t, err)

	_, err = InitCache(context.Background(), testConfig("a:b", TESTING_CACHE_SIZE), zerolog.Nop())
	require.Error(t, err)
}
