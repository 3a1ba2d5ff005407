package abi

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/memhost"
	"github.com/wippyai/edgecache/resource"
)

// section encodes one wasm section. Contents stay under 128 bytes so the
// size fits a single LEB128 byte.
func section(id byte, parts ...[]byte) []byte {
	var body []byte
	for _, p := range parts {
		body = append(body, p...)
	}
	return append([]byte{id, byte(len(body))}, body...)
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// memoryModule is a module exporting one page of memory and nothing else.
func memoryModule() []byte {
	out := append([]byte{}, wasmHeader...)
	out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)
	out = append(out, section(7, []byte{0x01}, name("memory"), []byte{0x02, 0x00})...)
	return out
}

// bodyNewGuest imports fastly_http_body.new and exports run, which calls it
// with the out pointer 16 and returns the status.
func bodyNewGuest() []byte {
	out := append([]byte{}, wasmHeader...)
	out = append(out, section(1, []byte{0x02,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x60, 0x00, 0x01, 0x7f})...)
	out = append(out, section(2, []byte{0x01}, name(ModuleHTTPBody), name("new"), []byte{0x00, 0x00})...)
	out = append(out, section(3, []byte{0x01, 0x01})...)
	out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)
	out = append(out, section(7, []byte{0x02},
		name("memory"), []byte{0x02, 0x00},
		name("run"), []byte{0x00, 0x01})...)
	out = append(out, section(10, []byte{0x01, 0x06, 0x00, 0x41, 0x10, 0x10, 0x00, 0x0b})...)
	return out
}

type fixture struct {
	t    *testing.T
	ctx  context.Context
	host *memhost.Host
	exp  *Exporter
	mod  api.Module
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })

	mod, err := rt.Instantiate(ctx, memoryModule())
	if err != nil {
		t.Fatalf("instantiate memory module: %v", err)
	}
	host := memhost.New(memhost.Config{})
	t.Cleanup(func() { host.Close() })
	return &fixture{t: t, ctx: ctx, host: host, exp: New(host), mod: mod}
}

func (f *fixture) call(module, fn string, args ...uint32) errors.Status {
	f.t.Helper()
	m := f.exp.Module(module)
	if m == nil {
		f.t.Fatalf("no module %s", module)
	}
	def := m.Func(fn)
	if def == nil {
		f.t.Fatalf("no function %s.%s", module, fn)
	}
	if len(args) != len(def.ParamTypes) {
		f.t.Fatalf("%s.%s takes %d args, got %d", module, fn, len(def.ParamTypes), len(args))
	}
	stack := make([]uint64, max(len(args), 1))
	for i, a := range args {
		stack[i] = uint64(a)
	}
	def.Handler(f.ctx, f.mod, stack)
	return errors.Status(stack[0])
}

func (f *fixture) ok(module, fn string, args ...uint32) {
	f.t.Helper()
	if st := f.call(module, fn, args...); st != errors.StatusOK {
		f.t.Fatalf("%s.%s status = %d, want 0", module, fn, st)
	}
}

func (f *fixture) write(ptr uint32, data []byte) {
	f.t.Helper()
	if !f.mod.Memory().Write(ptr, data) {
		f.t.Fatalf("write %d bytes at %d", len(data), ptr)
	}
}

func (f *fixture) read(ptr, n uint32) []byte {
	f.t.Helper()
	b, ok := f.mod.Memory().Read(ptr, n)
	if !ok {
		f.t.Fatalf("read %d bytes at %d", n, ptr)
	}
	return append([]byte{}, b...)
}

func (f *fixture) u32(ptr uint32) uint32 {
	f.t.Helper()
	v, ok := f.mod.Memory().ReadUint32Le(ptr)
	if !ok {
		f.t.Fatalf("read u32 at %d", ptr)
	}
	return v
}

func (f *fixture) u64(ptr uint32) uint64 {
	f.t.Helper()
	v, ok := f.mod.Memory().ReadUint64Le(ptr)
	if !ok {
		f.t.Fatalf("read u64 at %d", ptr)
	}
	return v
}

// Scratch layout used by the tests.
const (
	outA    = 0
	outB    = 8
	outLen  = 16
	optsPtr = 64
	keyPtr  = 256
	dataPtr = 512
	bufPtr  = 1024
)

type writeOpts struct {
	mask      hostcall.WriteOptionsMask
	maxAge    time.Duration
	surrogate string
	metadata  string
	length    uint64
}

// put lays out the write options struct at optsPtr, with strings after it.
func (f *fixture) putWriteOpts(o writeOpts) {
	raw := make([]byte, writeOptionsSize)
	binary.LittleEndian.PutUint64(raw[writeOptMaxAge:], uint64(o.maxAge))
	strPtr := uint32(optsPtr + writeOptionsSize)
	if o.surrogate != "" {
		f.write(strPtr, []byte(o.surrogate))
		binary.LittleEndian.PutUint32(raw[writeOptSurrogatePtr:], strPtr)
		binary.LittleEndian.PutUint32(raw[writeOptSurrogateLen:], uint32(len(o.surrogate)))
		strPtr += uint32(len(o.surrogate))
	}
	if o.metadata != "" {
		f.write(strPtr, []byte(o.metadata))
		binary.LittleEndian.PutUint32(raw[writeOptMetadataPtr:], strPtr)
		binary.LittleEndian.PutUint32(raw[writeOptMetadataLen:], uint32(len(o.metadata)))
	}
	binary.LittleEndian.PutUint64(raw[writeOptLength:], o.length)
	f.write(optsPtr, raw)
}

func TestExporter_Modules(t *testing.T) {
	exp := New(memhost.New(memhost.Config{}))
	want := map[string][]string{
		ModuleHTTPBody:    {"abandon", "append", "close", "known_length", "new", "read", "write"},
		ModuleCache:       {"transaction_lookup", "transaction_insert_and_stream_back", "get_body", "get_state"},
		ModuleAsyncIO:     {"is_ready", "select"},
		ModulePurge:       {"purge_surrogate_key"},
		ModuleDictionary:  {"get", "open"},
		ModuleSecretStore: {"from_bytes", "get", "open", "plaintext"},
	}
	if len(exp.Modules()) != len(want) {
		t.Fatalf("modules = %d, want %d", len(exp.Modules()), len(want))
	}
	for mod, funcs := range want {
		m := exp.Module(mod)
		if m == nil {
			t.Fatalf("missing module %s", mod)
		}
		for _, fn := range funcs {
			def := m.Func(fn)
			if def == nil {
				t.Errorf("missing %s.%s", mod, fn)
				continue
			}
			if len(def.ResultTypes) != 1 || def.ResultTypes[0] != api.ValueTypeI32 {
				t.Errorf("%s.%s results = %v, want one i32", mod, fn, def.ResultTypes)
			}
		}
	}
}

func TestExporter_GuestCallsHost(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	host := memhost.New(memhost.Config{})
	defer host.Close()
	exp := New(host)
	if _, err := exp.Instantiate(ctx, rt); err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if _, err := exp.Instantiate(ctx, rt); err != nil {
		t.Fatalf("second Instantiate: %v", err)
	}

	mod, err := rt.Instantiate(ctx, bodyNewGuest())
	if err != nil {
		t.Fatalf("instantiate guest: %v", err)
	}
	res, err := mod.ExportedFunction("run").Call(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if errors.Status(res[0]) != errors.StatusOK {
		t.Fatalf("status = %d", res[0])
	}
	handle, _ := mod.Memory().ReadUint32Le(16)
	if !resource.Handle(handle).Valid() {
		t.Fatalf("handle %d not valid", handle)
	}
	if host.Handles() != 1 {
		t.Errorf("host handles = %d, want 1", host.Handles())
	}
}

func TestBody_WriteReadThroughMemory(t *testing.T) {
	f := newFixture(t)
	f.ok(ModuleHTTPBody, "new", outA)
	body := f.u32(outA)

	f.write(dataPtr, []byte("hello world"))
	f.ok(ModuleHTTPBody, "write", body, dataPtr, 11, uint32(hostcall.BodyEndBack), outLen)
	if n := f.u32(outLen); n != 11 {
		t.Fatalf("nwritten = %d, want 11", n)
	}
	f.ok(ModuleHTTPBody, "known_length", body, outB)
	if n := f.u64(outB); n != 11 {
		t.Errorf("known_length = %d, want 11", n)
	}

	f.ok(ModuleHTTPBody, "read", body, bufPtr, 5, outLen)
	if n := f.u32(outLen); n != 5 {
		t.Fatalf("nread = %d, want 5", n)
	}
	if got := string(f.read(bufPtr, 5)); got != "hello" {
		t.Errorf("read = %q, want hello", got)
	}
	f.ok(ModuleHTTPBody, "close", body)
	if st := f.call(ModuleHTTPBody, "close", body); st != errors.StatusBadHandle {
		t.Errorf("second close status = %d, want bad_handle", st)
	}
}

func TestBody_MemoryFaults(t *testing.T) {
	f := newFixture(t)
	f.ok(ModuleHTTPBody, "new", outA)
	body := f.u32(outA)

	tests := []struct {
		name string
		fn   string
		args []uint32
		want errors.Status
	}{
		{"misaligned out pointer", "new", []uint32{2}, errors.StatusBadAlign},
		{"out pointer past memory", "new", []uint32{0x20000}, errors.StatusInvalidArgument},
		{"source past memory", "write", []uint32{body, 0xFFF0, 0x100, 0, outLen}, errors.StatusInvalidArgument},
		{"bad end", "write", []uint32{body, dataPtr, 1, 7, outLen}, errors.StatusInvalidArgument},
		{"misaligned u64 out", "known_length", []uint32{body, 4}, errors.StatusBadAlign},
		{"unknown handle", "close", []uint32{999}, errors.StatusBadHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if st := f.call(ModuleHTTPBody, tt.fn, tt.args...); st != tt.want {
				t.Errorf("status = %d, want %d", st, tt.want)
			}
		})
	}
}

func TestCache_InsertLookupMetadata(t *testing.T) {
	f := newFixture(t)
	key := []byte("page:/index")
	f.write(keyPtr, key)

	mask := hostcall.WriteOptSurrogateKeys | hostcall.WriteOptUserMetadata | hostcall.WriteOptLength
	f.putWriteOpts(writeOpts{maxAge: time.Minute, surrogate: "pages index", metadata: "meta-data", length: 3})
	f.ok(ModuleCache, "insert", keyPtr, uint32(len(key)), uint32(mask), optsPtr, outA)
	writer := f.u32(outA)
	f.write(dataPtr, []byte("abc"))
	f.ok(ModuleHTTPBody, "write", writer, dataPtr, 3, 0, outLen)
	f.ok(ModuleHTTPBody, "close", writer)

	f.ok(ModuleCache, "lookup", keyPtr, uint32(len(key)), 0, 0, outA)
	entry := f.u32(outA)
	f.ok(ModuleCache, "get_state", entry, outLen)
	state := hostcall.LookupState(f.u32(outLen))
	if state&hostcall.LookupFound == 0 || state&hostcall.LookupUsable == 0 {
		t.Fatalf("state = %b, want found|usable", state)
	}

	if st := f.call(ModuleCache, "get_user_metadata", entry, bufPtr, 4, outLen); st != errors.StatusBufferLen {
		t.Fatalf("small buffer status = %d, want buffer_len", st)
	}
	if need := f.u32(outLen); need != 9 {
		t.Fatalf("required = %d, want 9", need)
	}
	f.ok(ModuleCache, "get_user_metadata", entry, bufPtr, 9, outLen)
	if got := string(f.read(bufPtr, 9)); got != "meta-data" {
		t.Errorf("metadata = %q", got)
	}

	f.ok(ModuleCache, "get_surrogate_keys", entry, bufPtr, 64, outLen)
	if got := string(f.read(bufPtr, f.u32(outLen))); got != "pages index" {
		t.Errorf("surrogate keys = %q", got)
	}

	f.ok(ModuleCache, "get_max_age_ns", entry, outB)
	if got := time.Duration(f.u64(outB)); got != time.Minute {
		t.Errorf("max age = %v", got)
	}
	f.ok(ModuleCache, "get_length", entry, outB)
	if got := f.u64(outB); got != 3 {
		t.Errorf("length = %d", got)
	}

	rng := make([]byte, 16)
	binary.LittleEndian.PutUint64(rng[0:], 1)
	f.write(optsPtr, rng)
	f.ok(ModuleCache, "get_body", entry, uint32(hostcall.GetBodyOptStart), optsPtr, outA)
	body := f.u32(outA)
	f.ok(ModuleHTTPBody, "read", body, bufPtr, 16, outLen)
	if got := string(f.read(bufPtr, f.u32(outLen))); got != "bc" {
		t.Errorf("ranged body = %q, want bc", got)
	}
	f.ok(ModuleHTTPBody, "close", body)
	f.ok(ModuleCache, "close", entry)
}

func TestCache_MissWritesInvalidBody(t *testing.T) {
	f := newFixture(t)
	key := []byte("absent")
	f.write(keyPtr, key)

	f.ok(ModuleCache, "lookup", keyPtr, uint32(len(key)), 0, 0, outA)
	entry := f.u32(outA)
	f.write(outB, []byte{1, 2, 3, 4})
	if st := f.call(ModuleCache, "get_body", entry, 0, 0, outB); st != errors.StatusOptionalNone {
		t.Fatalf("get_body status = %d, want optional_none", st)
	}
	if got := f.u32(outB); got != uint32(resource.Invalid) {
		t.Errorf("body out = %#x, want INVALID_HANDLE", got)
	}
}

func TestCache_TransactionStreamBackAndPurge(t *testing.T) {
	f := newFixture(t)
	key := []byte("tx")
	f.write(keyPtr, key)

	f.ok(ModuleCache, "transaction_lookup", keyPtr, uint32(len(key)), 0, 0, outA)
	owner := f.u32(outA)
	f.ok(ModuleCache, "get_state", owner, outLen)
	if st := hostcall.LookupState(f.u32(outLen)); st&hostcall.LookupMustInsertOrUpdate == 0 {
		t.Fatalf("state = %b, want must_insert_or_update", st)
	}

	f.putWriteOpts(writeOpts{maxAge: time.Minute, surrogate: "group"})
	f.ok(ModuleCache, "transaction_insert_and_stream_back", owner,
		uint32(hostcall.WriteOptSurrogateKeys), optsPtr, outA, outB)
	writer, streamed := f.u32(outA), f.u32(outB)
	f.write(dataPtr, []byte("xyz"))
	f.ok(ModuleHTTPBody, "write", writer, dataPtr, 3, 0, outLen)
	f.ok(ModuleHTTPBody, "close", writer)

	f.ok(ModuleCache, "get_body", streamed, 0, 0, outA)
	body := f.u32(outA)
	f.ok(ModuleHTTPBody, "read", body, bufPtr, 16, outLen)
	if got := string(f.read(bufPtr, f.u32(outLen))); got != "xyz" {
		t.Fatalf("streamed body = %q", got)
	}
	f.ok(ModuleHTTPBody, "close", body)
	f.ok(ModuleCache, "close", streamed)
	f.ok(ModuleCache, "close", owner)

	f.write(dataPtr, []byte("group"))
	f.ok(ModulePurge, "purge_surrogate_key", dataPtr, 5, 0, 0)
	f.ok(ModuleCache, "lookup", keyPtr, uint32(len(key)), 0, 0, outA)
	f.ok(ModuleCache, "get_state", f.u32(outA), outLen)
	if st := hostcall.LookupState(f.u32(outLen)); st&hostcall.LookupFound != 0 {
		t.Errorf("state after purge = %b, want miss", st)
	}

	if st := f.call(ModulePurge, "purge_surrogate_key", dataPtr, 5, uint32(hostcall.PurgeReturnBuf), optsPtr); st != errors.StatusUnsupported {
		t.Errorf("return buffer status = %d, want unsupported", st)
	}
}

func TestCache_WriteOptionMasks(t *testing.T) {
	f := newFixture(t)
	key := []byte("k")
	f.write(keyPtr, key)
	f.putWriteOpts(writeOpts{maxAge: time.Second})

	tests := []struct {
		name string
		mask uint32
		opts uint32
		want errors.Status
	}{
		{"reserved bit", uint32(hostcall.WriteOptReserved), optsPtr, errors.StatusInvalidArgument},
		{"unknown bit", 1 << 12, optsPtr, errors.StatusInvalidArgument},
		{"misaligned struct", 0, optsPtr + 4, errors.StatusBadAlign},
		{"struct past memory", 0, 0xFFF8, errors.StatusInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := f.call(ModuleCache, "insert", keyPtr, uint32(len(key)), tt.mask, tt.opts, outA)
			if st != tt.want {
				t.Fatalf("status = %d, want %d", st, tt.want)
			}
			if got := f.u32(outA); got != uint32(resource.Invalid) {
				t.Errorf("body out = %#x, want INVALID_HANDLE", got)
			}
		})
	}
}

func TestAsync_SelectAndReady(t *testing.T) {
	f := newFixture(t)
	f.ok(ModuleHTTPBody, "new", outA)
	body := f.u32(outA)

	handles := make([]byte, 4)
	binary.LittleEndian.PutUint32(handles, body)
	f.write(dataPtr, handles)
	f.ok(ModuleAsyncIO, "select", dataPtr, 1, 0, outLen)
	if idx := f.u32(outLen); idx != 0 {
		t.Errorf("ready index = %d, want 0", idx)
	}
	f.ok(ModuleAsyncIO, "is_ready", body, outLen)
	if f.u32(outLen) != 1 {
		t.Error("plain body not ready")
	}
	if st := f.call(ModuleAsyncIO, "select", dataPtr+1, 1, 0, outLen); st != errors.StatusBadAlign {
		t.Errorf("misaligned handles status = %d, want bad_align", st)
	}

	f.ok(ModuleAsyncIO, "select", dataPtr, 0, 5, outLen)
	if idx := f.u32(outLen); idx != hostcall.NoReadyIndex {
		t.Errorf("timeout index = %#x, want u32 max", idx)
	}
}

func TestDictionary_Get(t *testing.T) {
	f := newFixture(t)
	f.host.SetDictionary("config", map[string]string{"greeting": "hello there"})

	f.write(keyPtr, []byte("config"))
	f.ok(ModuleDictionary, "open", keyPtr, 6, outA)
	dict := f.u32(outA)

	f.write(dataPtr, []byte("greeting"))
	if st := f.call(ModuleDictionary, "get", dict, dataPtr, 8, bufPtr, 4, outLen); st != errors.StatusBufferLen {
		t.Fatalf("small buffer status = %d, want buffer_len", st)
	}
	if need := f.u32(outLen); need != 11 {
		t.Fatalf("required = %d, want 11", need)
	}
	f.ok(ModuleDictionary, "get", dict, dataPtr, 8, bufPtr, 64, outLen)
	if got := string(f.read(bufPtr, f.u32(outLen))); got != "hello there" {
		t.Errorf("value = %q", got)
	}

	f.write(dataPtr, []byte("missing"))
	if st := f.call(ModuleDictionary, "get", dict, dataPtr, 7, bufPtr, 64, outLen); st != errors.StatusOptionalNone {
		t.Errorf("missing key status = %d, want optional_none", st)
	}

	f.write(keyPtr, []byte("nope"))
	if st := f.call(ModuleDictionary, "open", keyPtr, 4, outA); st != errors.StatusOptionalNone {
		t.Errorf("missing dictionary status = %d, want optional_none", st)
	}
	if got := f.u32(outA); got != uint32(resource.Invalid) {
		t.Errorf("handle out = %#x, want INVALID_HANDLE", got)
	}
}

func TestSecretStore_Plaintext(t *testing.T) {
	f := newFixture(t)
	f.host.AddSecretStore("creds", map[string][]byte{"token": []byte("s3cr3t")})

	f.write(keyPtr, []byte("creds"))
	f.ok(ModuleSecretStore, "open", keyPtr, 5, outA)
	store := f.u32(outA)

	f.write(dataPtr, []byte("token"))
	f.ok(ModuleSecretStore, "get", store, dataPtr, 5, outA)
	f.ok(ModuleSecretStore, "plaintext", f.u32(outA), bufPtr, 64, outLen)
	if got := string(f.read(bufPtr, f.u32(outLen))); got != "s3cr3t" {
		t.Errorf("plaintext = %q", got)
	}

	f.write(dataPtr, []byte("raw-bytes"))
	f.ok(ModuleSecretStore, "from_bytes", dataPtr, 9, outA)
	f.ok(ModuleSecretStore, "plaintext", f.u32(outA), bufPtr, 64, outLen)
	if got := string(f.read(bufPtr, f.u32(outLen))); got != "raw-bytes" {
		t.Errorf("from_bytes plaintext = %q", got)
	}
}
