package abi

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"go.uber.org/zap"
)

// Host module names.
const (
	ModuleHTTPBody    = "fastly_http_body"
	ModuleCache       = "fastly_cache"
	ModuleAsyncIO     = "fastly_async_io"
	ModulePurge       = "fastly_purge"
	ModuleDictionary  = "fastly_dictionary"
	ModuleSecretStore = "fastly_secret_store"
)

// FuncDef defines one exported host function.
type FuncDef struct {
	Name        string
	Handler     api.GoModuleFunc
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// Module is a named group of host functions.
type Module struct {
	name  string
	funcs map[string]*FuncDef
}

// Name returns the import module name.
func (m *Module) Name() string { return m.name }

// Func returns a function by name, or nil.
func (m *Module) Func(name string) *FuncDef { return m.funcs[name] }

// Funcs returns the functions sorted by name.
func (m *Module) Funcs() []*FuncDef {
	out := make([]*FuncDef, 0, len(m.funcs))
	for _, f := range m.funcs {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *FuncDef) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger used for failed calls.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// Exporter serves a hostcall.Host to guests. Safe for concurrent use; the
// host is expected to be as well.
type Exporter struct {
	host    hostcall.Host
	logger  *zap.Logger
	modules []*Module
	mu      sync.Mutex
}

// New builds the host modules for host.
func New(host hostcall.Host, opts ...Option) *Exporter {
	e := &Exporter{host: host}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = Logger()
	}
	e.modules = []*Module{
		e.bodyModule(),
		e.cacheModule(),
		e.asyncModule(),
		e.purgeModule(),
		e.dictionaryModule(),
		e.secretModule(),
	}
	return e
}

// Modules returns every host module.
func (e *Exporter) Modules() []*Module {
	return slices.Clone(e.modules)
}

// Module returns a host module by name, or nil.
func (e *Exporter) Module(name string) *Module {
	for _, m := range e.modules {
		if m.name == name {
			return m
		}
	}
	return nil
}

// Instantiate registers every host module in rt. Modules already present
// under the same name are left alone.
func (e *Exporter) Instantiate(ctx context.Context, rt wazero.Runtime) ([]api.Module, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []api.Module
	for _, m := range e.modules {
		if existing := rt.Module(m.name); existing != nil {
			out = append(out, existing)
			continue
		}
		builder := rt.NewHostModuleBuilder(m.name)
		for _, f := range m.Funcs() {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(f.Handler, f.ParamTypes, f.ResultTypes).
				Export(f.Name)
		}
		mod, err := builder.Instantiate(ctx)
		if err != nil {
			return out, fmt.Errorf("abi: instantiate %s: %w", m.name, err)
		}
		e.logger.Debug("host module instantiated", zap.String("module", m.name), zap.Int("funcs", len(m.funcs)))
		out = append(out, mod)
	}
	return out, nil
}

// call is the body of a host function: it reads its i32 arguments and
// returns the error whose status the guest sees.
type call func(g guest, args []uint64) error

func newModule(name string) *Module {
	return &Module{name: name, funcs: make(map[string]*FuncDef)}
}

func (e *Exporter) def(m *Module, name string, nparams int, fn call) {
	params := make([]api.ValueType, nparams)
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	qualified := m.name + "." + name
	m.funcs[name] = &FuncDef{
		Name:        name,
		ParamTypes:  params,
		ResultTypes: []api.ValueType{api.ValueTypeI32},
		Handler: func(ctx context.Context, mod api.Module, stack []uint64) {
			g, err := memoryOf(mod)
			if err == nil {
				err = fn(g, stack[:nparams])
			}
			status := errors.StatusOf(err)
			if err != nil && status != errors.StatusOptionalNone && status != errors.StatusBufferLen {
				e.logger.Debug("host call failed",
					zap.String("func", qualified),
					zap.Uint32("status", uint32(status)),
					zap.Error(err))
			}
			stack[0] = uint64(status)
		},
	}
}

func arg(args []uint64, i int) uint32 {
	return uint32(args[i])
}
