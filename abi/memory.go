package abi

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/resource"
)

// guest wraps the linear memory of the calling module.
type guest struct {
	mem api.Memory
}

func memoryOf(mod api.Module) (guest, error) {
	if mod == nil || mod.Memory() == nil {
		return guest{}, errors.New(errors.PhaseABI, errors.KindInvalidArgument).
			Detail("calling module exports no memory").Build()
	}
	return guest{mem: mod.Memory()}, nil
}

func errOutOfRange(ptr, n uint32) error {
	return errors.New(errors.PhaseABI, errors.KindInvalidArgument).
		Value(ptr).Detail("%d bytes at %#x are outside guest memory", n, ptr).Build()
}

func errAlign(ptr, align uint32) error {
	return errors.New(errors.PhaseABI, errors.KindBadAlign).
		Value(ptr).Detail("pointer %#x is not %d-byte aligned", ptr, align).Build()
}

// bytes copies n bytes out of guest memory.
func (g guest) bytes(ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b, ok := g.mem.Read(ptr, n)
	if !ok {
		return nil, errOutOfRange(ptr, n)
	}
	return bytes.Clone(b), nil
}

func (g guest) string(ptr, n uint32) (string, error) {
	b, err := g.bytes(ptr, n)
	return string(b), err
}

func (g guest) u32(ptr uint32) (uint32, error) {
	if ptr%4 != 0 {
		return 0, errAlign(ptr, 4)
	}
	v, ok := g.mem.ReadUint32Le(ptr)
	if !ok {
		return 0, errOutOfRange(ptr, 4)
	}
	return v, nil
}

func (g guest) putU32(ptr, v uint32) error {
	if ptr%4 != 0 {
		return errAlign(ptr, 4)
	}
	if !g.mem.WriteUint32Le(ptr, v) {
		return errOutOfRange(ptr, 4)
	}
	return nil
}

func (g guest) putU64(ptr uint32, v uint64) error {
	if ptr%8 != 0 {
		return errAlign(ptr, 8)
	}
	if !g.mem.WriteUint64Le(ptr, v) {
		return errOutOfRange(ptr, 8)
	}
	return nil
}

func (g guest) putBool(ptr uint32, v bool) error {
	if v {
		return g.putU32(ptr, 1)
	}
	return g.putU32(ptr, 0)
}

// putBuffer copies data into a guest buffer of capacity bufLen and stores
// the byte count at nwrittenOut. When the host reported buffer_len, or data
// does not fit, the required size is stored instead and buffer_len returned.
func (g guest) putBuffer(bufPtr, bufLen, nwrittenOut uint32, data []byte, err error) error {
	if need, ok := errors.RequiredLen(err); ok {
		if werr := g.putU32(nwrittenOut, uint32(need)); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		return err
	}
	if len(data) > int(bufLen) {
		if werr := g.putU32(nwrittenOut, uint32(len(data))); werr != nil {
			return werr
		}
		return errors.BufferLen(len(data))
	}
	if len(data) > 0 && !g.mem.Write(bufPtr, data) {
		return errOutOfRange(bufPtr, uint32(len(data)))
	}
	return g.putU32(nwrittenOut, uint32(len(data)))
}

// putHandle stores a produced handle, or INVALID_HANDLE when the call
// failed, and passes the call's error through.
func putHandle[H ~uint32](g guest, ptr uint32, h H, err error) error {
	if err != nil {
		_ = g.putU32(ptr, uint32(resource.Invalid))
		return err
	}
	return g.putU32(ptr, uint32(h))
}

// maxHandles keeps n*4 inside uint32.
const maxHandles = 1 << 20

// handles reads an array of n u32 handles.
func (g guest) handles(ptr, n uint32) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	if ptr%4 != 0 {
		return nil, errAlign(ptr, 4)
	}
	if n > maxHandles {
		return nil, errOutOfRange(ptr, n)
	}
	raw, ok := g.mem.Read(ptr, n*4)
	if !ok {
		return nil, errOutOfRange(ptr, n*4)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = le.Uint32(raw[i*4:])
	}
	return out, nil
}
