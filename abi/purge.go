package abi

import (
	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
)

func (e *Exporter) purgeModule() *Module {
	m := newModule(ModulePurge)
	h := e.host

	// purge_surrogate_key(key_ptr, key_len, options_mask, options). The
	// options struct only matters for the purge-id return buffer, which
	// this host does not produce.
	e.def(m, "purge_surrogate_key", 4, func(g guest, a []uint64) error {
		mask := hostcall.PurgeOptionsMask(arg(a, 2))
		if mask&hostcall.PurgeReturnBuf != 0 {
			return errors.New(errors.PhaseABI, errors.KindUnsupported).
				Detail("purge return buffer").Build()
		}
		if mask&^hostcall.PurgeSoft != 0 {
			return errors.InvalidArgument("unknown purge option bits %#x", uint32(mask&^hostcall.PurgeSoft))
		}
		key, err := g.string(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		return h.PurgeSurrogateKey(key, mask)
	})
	return m
}
