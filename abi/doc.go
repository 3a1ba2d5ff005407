// Package abi exports a hostcall.Host to WebAssembly guests.
//
// Each host module (fastly_http_body, fastly_cache, fastly_async_io,
// fastly_purge, fastly_dictionary, fastly_secret_store) is built with
// wazero's host module builder. Every function takes i32 arguments and
// returns an i32 status: strings and byte lists arrive as pointer and
// length pairs, results leave through out pointers, and option structs carry
// a presence mask next to their pointer.
//
// Guest memory is read and written only here. Misaligned out pointers fail
// with bad_align and out of range accesses with invalid_argument. Calls that
// fill a guest buffer write the size they need to nwritten_out before
// failing with buffer_len, so the guest can retry once.
//
//	rt := wazero.NewRuntime(ctx)
//	exp := abi.New(host, abi.WithLogger(log))
//	if _, err := exp.Instantiate(ctx, rt); err != nil {
//		return err
//	}
//	mod, err := rt.Instantiate(ctx, guestWasm)
package abi
