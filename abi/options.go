package abi

import (
	"encoding/binary"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

var le = binary.LittleEndian

// Layout of the cache write options struct.
const (
	writeOptMaxAge         = 0
	writeOptRequestHeaders = 8
	writeOptVaryPtr        = 12
	writeOptVaryLen        = 16
	writeOptInitialAge     = 24
	writeOptSWR            = 32
	writeOptSurrogatePtr   = 40
	writeOptSurrogateLen   = 44
	writeOptLength         = 48
	writeOptMetadataPtr    = 56
	writeOptMetadataLen    = 60
	writeOptionsSize       = 64
)

const knownWriteMask = hostcall.WriteOptReserved | hostcall.WriteOptRequestHeaders |
	hostcall.WriteOptVaryRule | hostcall.WriteOptInitialAge | hostcall.WriteOptStaleWhileRevalidate |
	hostcall.WriteOptSurrogateKeys | hostcall.WriteOptLength | hostcall.WriteOptUserMetadata |
	hostcall.WriteOptSensitiveData

// optionsStruct reads a fixed-size, 8-byte aligned option struct.
func (g guest) optionsStruct(ptr, size uint32) ([]byte, error) {
	if ptr%8 != 0 {
		return nil, errAlign(ptr, 8)
	}
	raw, ok := g.mem.Read(ptr, size)
	if !ok {
		return nil, errOutOfRange(ptr, size)
	}
	return raw, nil
}

func checkMask[M ~uint32](mask, known, reserved M) error {
	if mask&reserved != 0 {
		return errors.InvalidArgument("reserved option bit set")
	}
	if mask&^known != 0 {
		return errors.InvalidArgument("unknown option bits %#x", uint32(mask&^known))
	}
	return nil
}

// writeOptions decodes cache write options. max_age is always read; other
// fields only when their mask bit is set.
func (g guest) writeOptions(mask, ptr uint32) (hostcall.CacheWriteOptions, error) {
	m := hostcall.WriteOptionsMask(mask)
	if err := checkMask(m, knownWriteMask, hostcall.WriteOptReserved); err != nil {
		return hostcall.CacheWriteOptions{}, err
	}
	raw, err := g.optionsStruct(ptr, writeOptionsSize)
	if err != nil {
		return hostcall.CacheWriteOptions{}, err
	}

	o := hostcall.CacheWriteOptions{Mask: m, MaxAgeNs: le.Uint64(raw[writeOptMaxAge:])}
	if o.Has(hostcall.WriteOptRequestHeaders) {
		o.RequestHeaders = hostcall.RequestHandle(le.Uint32(raw[writeOptRequestHeaders:]))
	}
	if o.Has(hostcall.WriteOptVaryRule) {
		if o.VaryRule, err = g.string(le.Uint32(raw[writeOptVaryPtr:]), le.Uint32(raw[writeOptVaryLen:])); err != nil {
			return o, err
		}
	}
	if o.Has(hostcall.WriteOptInitialAge) {
		o.InitialAgeNs = le.Uint64(raw[writeOptInitialAge:])
	}
	if o.Has(hostcall.WriteOptStaleWhileRevalidate) {
		o.StaleWhileRevalidateNs = le.Uint64(raw[writeOptSWR:])
	}
	if o.Has(hostcall.WriteOptSurrogateKeys) {
		if o.SurrogateKeys, err = g.string(le.Uint32(raw[writeOptSurrogatePtr:]), le.Uint32(raw[writeOptSurrogateLen:])); err != nil {
			return o, err
		}
	}
	if o.Has(hostcall.WriteOptLength) {
		o.Length = le.Uint64(raw[writeOptLength:])
	}
	if o.Has(hostcall.WriteOptUserMetadata) {
		if o.UserMetadata, err = g.bytes(le.Uint32(raw[writeOptMetadataPtr:]), le.Uint32(raw[writeOptMetadataLen:])); err != nil {
			return o, err
		}
	}
	return o, nil
}

// lookupOptions decodes {request_headers u32}.
func (g guest) lookupOptions(mask, ptr uint32) (hostcall.CacheLookupOptions, error) {
	m := hostcall.LookupOptionsMask(mask)
	known := hostcall.LookupOptReserved | hostcall.LookupOptRequestHeaders
	if err := checkMask(m, known, hostcall.LookupOptReserved); err != nil {
		return hostcall.CacheLookupOptions{}, err
	}
	o := hostcall.CacheLookupOptions{Mask: m}
	if m&hostcall.LookupOptRequestHeaders != 0 {
		h, err := g.u32(ptr)
		if err != nil {
			return o, err
		}
		o.RequestHeaders = hostcall.RequestHandle(h)
	}
	return o, nil
}

// bodyRange decodes {from u64, to u64}.
func (g guest) bodyRange(mask, ptr uint32) (hostcall.BodyRange, error) {
	m := hostcall.GetBodyOptionsMask(mask)
	known := hostcall.GetBodyOptReserved | hostcall.GetBodyOptStart | hostcall.GetBodyOptEnd
	if err := checkMask(m, known, hostcall.GetBodyOptReserved); err != nil {
		return hostcall.BodyRange{}, err
	}
	rng := hostcall.BodyRange{Mask: m}
	if m&(hostcall.GetBodyOptStart|hostcall.GetBodyOptEnd) == 0 {
		return rng, nil
	}
	raw, err := g.optionsStruct(ptr, 16)
	if err != nil {
		return rng, err
	}
	if m&hostcall.GetBodyOptStart != 0 {
		rng.Start = le.Uint64(raw[0:])
	}
	if m&hostcall.GetBodyOptEnd != 0 {
		rng.End = le.Uint64(raw[8:])
	}
	return rng, nil
}
