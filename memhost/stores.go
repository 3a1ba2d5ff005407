package memhost

import (
	"maps"
	"slices"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/hostcall"
	"github.com/wippyai/edgecache/resource"
)

// MaxSecretLen is the largest plaintext a secret may hold.
const MaxSecretLen = 64 * 1024

type secretStore struct {
	name string
}

type secret struct {
	plaintext []byte
}

type dictionary struct {
	name string
}

// AddSecretStore creates or replaces a secret store.
func (h *Host) AddSecretStore(name string, secrets map[string][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make(map[string][]byte, len(secrets))
	for k, v := range secrets {
		cp[k] = slices.Clone(v)
	}
	h.secrets[name] = cp
}

func (h *Host) SecretStoreOpen(name string) hostcall.Result[hostcall.SecretStoreHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.secrets[name]; !ok {
		return hostcall.Fail[hostcall.SecretStoreHandle](errors.OptionalNone())
	}
	handle, err := h.insert(resource.KindSecretStore, &secretStore{name: name})
	return hostcall.FromError(hostcall.SecretStoreHandle(handle), err)
}

func (h *Host) SecretStoreGet(s hostcall.SecretStoreHandle, key string) hostcall.Result[hostcall.SecretHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := get[*secretStore](h, resource.Handle(s), resource.KindSecretStore)
	if err != nil {
		return hostcall.Fail[hostcall.SecretHandle](err)
	}
	v, ok := h.secrets[st.name][key]
	if !ok {
		return hostcall.Fail[hostcall.SecretHandle](errors.OptionalNone())
	}
	handle, err := h.insert(resource.KindSecret, &secret{plaintext: v})
	return hostcall.FromError(hostcall.SecretHandle(handle), err)
}

func (h *Host) SecretPlaintext(s hostcall.SecretHandle, maxLen uint32) hostcall.Result[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()
	sec, err := get[*secret](h, resource.Handle(s), resource.KindSecret)
	if err != nil {
		return hostcall.Fail[[]byte](err)
	}
	out, err := fitBuffer(slices.Clone(sec.plaintext), maxLen)
	return hostcall.FromError(out, err)
}

func (h *Host) SecretFromBytes(plaintext []byte) hostcall.Result[hostcall.SecretHandle] {
	if len(plaintext) > MaxSecretLen {
		return hostcall.Fail[hostcall.SecretHandle](errors.InvalidArgument("secret is %d bytes, limit is %d", len(plaintext), MaxSecretLen))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, err := h.insert(resource.KindSecret, &secret{plaintext: slices.Clone(plaintext)})
	return hostcall.FromError(hostcall.SecretHandle(handle), err)
}

// SetDictionary creates or replaces a dictionary. Open handles see the new
// contents.
func (h *Host) SetDictionary(name string, items map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dicts[name] = maps.Clone(items)
}

func (h *Host) DictionaryOpen(name string) hostcall.Result[hostcall.DictionaryHandle] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.dicts[name]; !ok {
		return hostcall.Fail[hostcall.DictionaryHandle](errors.OptionalNone())
	}
	handle, err := h.insert(resource.KindDictionary, &dictionary{name: name})
	return hostcall.FromError(hostcall.DictionaryHandle(handle), err)
}

func (h *Host) DictionaryGet(d hostcall.DictionaryHandle, key string, maxLen uint32) hostcall.Result[string] {
	h.mu.Lock()
	defer h.mu.Unlock()
	dict, err := get[*dictionary](h, resource.Handle(d), resource.KindDictionary)
	if err != nil {
		return hostcall.Fail[string](err)
	}
	v, ok := h.dicts[dict.name][key]
	if !ok {
		return hostcall.Fail[string](errors.OptionalNone())
	}
	out, err := fitBuffer(v, maxLen)
	return hostcall.FromError(out, err)
}
