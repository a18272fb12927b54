package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/errors"
)

// WazeroLibrary is an engine compiled to WebAssembly and run with wazero
type WazeroLibrary struct {
	runtime   wazero.Runtime
	instance  api.Module
	memory    *WazeroMemory
	alloc     *wazeroAllocator
	funcCache map[string]api.Function
	bootErr   error
	bootOnce  sync.Once
	cacheMu   sync.RWMutex
	mu        sync.Mutex // serializes guest execution and memory access
	closed    atomic.Bool
}

// Open reads an engine binary from disk and instantiates it
func Open(ctx context.Context, path string, cfg *Config) (*WazeroLibrary, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read engine "+path, err)
	}
	return NewWazeroLibrary(ctx, wasmBytes, cfg)
}

// NewWazeroLibrary compiles and instantiates an engine binary.
// The engine's start functions are not run; call Bootstrap before use.
func NewWazeroLibrary(ctx context.Context, wasmBytes []byte, cfg *Config) (*WazeroLibrary, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Load("instantiate WASI", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Load("compile failed", err)
	}

	modConfig := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime()
	if cfg.Stdout != nil {
		modConfig = modConfig.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modConfig = modConfig.WithStderr(cfg.Stderr)
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		modConfig = modConfig.WithEnv(k, cfg.Env[k])
	}

	instance, err := runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Load("instantiate failed", err)
	}

	mem := instance.Memory()
	if mem == nil {
		_ = runtime.Close(ctx)
		return nil, errors.MissingExport("memory")
	}

	lib := &WazeroLibrary{
		runtime:   runtime,
		instance:  instance,
		memory:    &WazeroMemory{mem: mem},
		funcCache: make(map[string]api.Function),
	}
	lib.alloc = newWazeroAllocator(instance)

	Logger().Debug("engine instantiated",
		zap.Int("exports", len(instance.ExportedFunctionDefinitions())),
		zap.Uint32("memory_bytes", mem.Size()),
		zap.Bool("has_allocator", lib.alloc.allocFn != nil))

	return lib, nil
}

// Bootstrap runs the _initialize export once, if the engine has one
func (l *WazeroLibrary) Bootstrap(ctx context.Context) error {
	l.bootOnce.Do(func() {
		if !l.Has(abi.FnBootstrap) {
			return
		}
		_, l.bootErr = l.Call(ctx, abi.FnBootstrap)
	})
	return l.bootErr
}

func (l *WazeroLibrary) Memory() testopt.Memory {
	return l.memory
}

func (l *WazeroLibrary) Allocator() testopt.Allocator {
	return l.alloc
}

func (l *WazeroLibrary) Has(fn string) bool {
	return l.function(fn) != nil
}

// function returns a cached export
func (l *WazeroLibrary) function(name string) api.Function {
	l.cacheMu.RLock()
	fn, ok := l.funcCache[name]
	l.cacheMu.RUnlock()
	if ok {
		return fn
	}

	if l.closed.Load() {
		return nil
	}
	fn = l.instance.ExportedFunction(name)

	l.cacheMu.Lock()
	l.funcCache[name] = fn
	l.cacheMu.Unlock()
	return fn
}

func (l *WazeroLibrary) Call(ctx context.Context, fn string, params ...uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.call(ctx, fn, params)
}

// Do holds the library lock for the whole of fn. The allocator and memory
// rely on it; they take no lock of their own.
func (l *WazeroLibrary) Do(ctx context.Context, fn func(call Caller) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(func(name string, params ...uint64) (uint64, error) {
		return l.call(ctx, name, params)
	})
}

// call runs an export. l.mu must be held.
func (l *WazeroLibrary) call(ctx context.Context, fn string, params []uint64) (uint64, error) {
	if l.closed.Load() {
		return 0, errors.New(errors.PhaseCall, errors.KindNotInitialized).
			Func(fn).
			Detail("engine closed").
			Build()
	}
	f := l.function(fn)
	if f == nil {
		return 0, errors.MissingExport(fn)
	}

	results, err := f.Call(ctx, params...)
	if err != nil {
		return 0, errors.CallFailed(fn, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// Close releases the runtime and every module in it. Safe to call twice.
func (l *WazeroLibrary) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cacheMu.Lock()
	l.funcCache = make(map[string]api.Function)
	l.cacheMu.Unlock()
	return l.runtime.Close(ctx)
}

// wazeroAllocator implements testopt.Allocator using engine exports.
// Allocation runs guest code, so callers must be inside WazeroLibrary.Do.
type wazeroAllocator struct {
	allocFn       api.Function
	freeFn        api.Function
	stackBuf      []uint64
	freeParams    int
	isSimpleAlloc bool
}

func newWazeroAllocator(instance api.Module) *wazeroAllocator {
	a := &wazeroAllocator{stackBuf: make([]uint64, 4)}
	defs := instance.ExportedFunctionDefinitions()

	for _, name := range abi.AllocExports {
		if def, ok := defs[name]; ok {
			a.allocFn = instance.ExportedFunction(name)
			a.isSimpleAlloc = len(def.ParamTypes()) < 4
			break
		}
	}
	for _, name := range abi.FreeExports {
		if def, ok := defs[name]; ok {
			a.freeFn = instance.ExportedFunction(name)
			a.freeParams = len(def.ParamTypes())
			break
		}
	}
	return a
}

func (a *wazeroAllocator) Alloc(size, align uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, errors.MissingExport("cabi_realloc")
	}

	ctx := context.Background()
	if a.isSimpleAlloc {
		a.stackBuf[0] = api.EncodeU32(size)
		if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
			return 0, err
		}
		return api.DecodeU32(a.stackBuf[0]), nil
	}
	a.stackBuf[0] = 0
	a.stackBuf[1] = 0
	a.stackBuf[2] = api.EncodeU32(align)
	a.stackBuf[3] = api.EncodeU32(size)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:4]); err != nil {
		return 0, err
	}
	return api.DecodeU32(a.stackBuf[0]), nil
}

func (a *wazeroAllocator) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}

	ctx := context.Background()
	var err error
	switch {
	case a.freeFn != nil && a.freeParams == 1:
		a.stackBuf[0] = api.EncodeU32(ptr)
		err = a.freeFn.CallWithStack(ctx, a.stackBuf[:1])
	case a.freeFn != nil:
		a.stackBuf[0] = api.EncodeU32(ptr)
		a.stackBuf[1] = api.EncodeU32(size)
		a.stackBuf[2] = api.EncodeU32(align)
		err = a.freeFn.CallWithStack(ctx, a.stackBuf[:3])
	case a.allocFn != nil && !a.isSimpleAlloc:
		// realloc to zero bytes
		a.stackBuf[0] = api.EncodeU32(ptr)
		a.stackBuf[1] = api.EncodeU32(size)
		a.stackBuf[2] = api.EncodeU32(align)
		a.stackBuf[3] = 0
		err = a.allocFn.CallWithStack(ctx, a.stackBuf[:4])
	default:
		return
	}
	if err != nil {
		Logger().Warn("Free: engine deallocation failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// WazeroMemory wraps wazero memory to implement testopt.Memory.
// It is unsynchronized: memory.grow in a concurrent guest call replaces the
// backing buffer, so access belongs inside WazeroLibrary.Do.
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU8(offset uint32) (uint8, error) {
	val, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU16(offset uint32) (uint16, error) {
	val, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var _ testopt.Memory = (*WazeroMemory)(nil)
var _ testopt.MemorySizer = (*WazeroMemory)(nil)
var _ testopt.Allocator = (*wazeroAllocator)(nil)
var _ Library = (*WazeroLibrary)(nil)
