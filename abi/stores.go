package abi

import "github.com/wippyai/edgecache/hostcall"

func (e *Exporter) dictionaryModule() *Module {
	m := newModule(ModuleDictionary)
	h := e.host

	// open(name_ptr, name_len, dict_handle_out)
	e.def(m, "open", 3, func(g guest, a []uint64) error {
		name, err := g.string(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		d, err := h.DictionaryOpen(name).Get()
		return putHandle(g, arg(a, 2), d, err)
	})

	// get(dict, key_ptr, key_len, value, value_max_len, nwritten_out)
	e.def(m, "get", 6, func(g guest, a []uint64) error {
		key, err := g.string(arg(a, 1), arg(a, 2))
		if err != nil {
			return err
		}
		v, err := h.DictionaryGet(hostcall.DictionaryHandle(arg(a, 0)), key, arg(a, 4)).Get()
		return g.putBuffer(arg(a, 3), arg(a, 4), arg(a, 5), []byte(v), err)
	})
	return m
}

func (e *Exporter) secretModule() *Module {
	m := newModule(ModuleSecretStore)
	h := e.host

	// open(name_ptr, name_len, store_handle_out)
	e.def(m, "open", 3, func(g guest, a []uint64) error {
		name, err := g.string(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		s, err := h.SecretStoreOpen(name).Get()
		return putHandle(g, arg(a, 2), s, err)
	})

	// get(store, key_ptr, key_len, secret_handle_out)
	e.def(m, "get", 4, func(g guest, a []uint64) error {
		key, err := g.string(arg(a, 1), arg(a, 2))
		if err != nil {
			return err
		}
		s, err := h.SecretStoreGet(hostcall.SecretStoreHandle(arg(a, 0)), key).Get()
		return putHandle(g, arg(a, 3), s, err)
	})

	// plaintext(secret, buf, buf_len, nwritten_out)
	e.def(m, "plaintext", 4, func(g guest, a []uint64) error {
		data, err := h.SecretPlaintext(hostcall.SecretHandle(arg(a, 0)), arg(a, 2)).Get()
		return g.putBuffer(arg(a, 1), arg(a, 2), arg(a, 3), data, err)
	})

	// from_bytes(buf, buf_len, secret_handle_out)
	e.def(m, "from_bytes", 3, func(g guest, a []uint64) error {
		data, err := g.bytes(arg(a, 0), arg(a, 1))
		if err != nil {
			return err
		}
		s, err := h.SecretFromBytes(data).Get()
		return putHandle(g, arg(a, 2), s, err)
	})
	return m
}
