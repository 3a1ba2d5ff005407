// Package hostcall describes the host capability ABI as Go types.
//
// Every call returns a Result or a plain error; expected failures such as
// absence (optional_none) or a short buffer (buffer_len) are errors from
// package errors, never panics. Handles are distinct named types so a body
// handle cannot be passed where a cache handle is expected.
//
// The interfaces are grouped the way the flat ABI groups its modules. The
// memhost package implements all of them in process; the abi package
// exports an implementation to WebAssembly guests.
package hostcall
