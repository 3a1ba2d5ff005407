package errors

// Status is the integer code a host call returns. 0 is success.
type Status uint32

const (
	StatusOK                Status = 0
	StatusGeneric           Status = 1
	StatusInvalidArgument   Status = 2
	StatusBadHandle         Status = 3
	StatusBufferLen         Status = 4
	StatusUnsupported       Status = 5
	StatusBadAlign          Status = 6
	StatusHTTPInvalid       Status = 7
	StatusHTTPUser          Status = 8
	StatusHTTPIncomplete    Status = 9
	StatusOptionalNone      Status = 10
	StatusHTTPHeadTooLarge  Status = 11
	StatusHTTPInvalidStatus Status = 12
	StatusLimitExceeded     Status = 13
	StatusUnknown           Status = 100
)

var statusKinds = map[Status]Kind{
	StatusGeneric:           KindGeneric,
	StatusInvalidArgument:   KindInvalidArgument,
	StatusBadHandle:         KindBadHandle,
	StatusBufferLen:         KindBufferLen,
	StatusUnsupported:       KindUnsupported,
	StatusBadAlign:          KindBadAlign,
	StatusHTTPInvalid:       KindHTTPInvalid,
	StatusHTTPUser:          KindHTTPUser,
	StatusHTTPIncomplete:    KindHTTPIncomplete,
	StatusOptionalNone:      KindOptionalNone,
	StatusHTTPHeadTooLarge:  KindHTTPHeadTooLarge,
	StatusHTTPInvalidStatus: KindHTTPInvalidStatus,
	StatusLimitExceeded:     KindLimitExceeded,
	StatusUnknown:           KindUnknown,
}

var kindStatuses = func() map[Kind]Status {
	m := make(map[Kind]Status, len(statusKinds))
	for s, k := range statusKinds {
		m[k] = s
	}
	return m
}()

// FromStatus converts a host status code into an error. StatusOK yields nil
// and codes outside the table map to unknown.
func FromStatus(s Status) error {
	if s == StatusOK {
		return nil
	}
	kind, ok := statusKinds[s]
	if !ok {
		return &Error{Phase: PhaseHost, Kind: KindUnknown, Value: uint32(s)}
	}
	return Host(kind)
}

// StatusOf converts an error into the status code a guest sees. Errors
// without a host kind collapse to generic.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	kind, ok := KindOf(err)
	if !ok {
		return StatusGeneric
	}
	if s, ok := kindStatuses[kind]; ok {
		return s
	}
	switch kind {
	case KindInvalidInput, KindBadRequest:
		return StatusInvalidArgument
	case KindNotFound:
		return StatusOptionalNone
	case KindPayloadTooLarge, KindTooManyRequests:
		return StatusLimitExceeded
	}
	return StatusGeneric
}

var hostMessages = map[Kind]string{
	KindGeneric:           "generic error",
	KindInvalidArgument:   "invalid argument",
	KindBadHandle:         "invalid handle",
	KindBufferLen:         "buffer too small",
	KindUnsupported:       "unsupported operation",
	KindBadAlign:          "misaligned pointer",
	KindHTTPInvalid:       "invalid HTTP message",
	KindHTTPUser:          "invalid HTTP message usage",
	KindHTTPIncomplete:    "incomplete HTTP message",
	KindOptionalNone:      "value not present",
	KindHTTPHeadTooLarge:  "HTTP head too large",
	KindHTTPInvalidStatus: "invalid HTTP status",
	KindLimitExceeded:     "limit exceeded",
	KindUnknown:           "unknown error",
}

var kvMessages = map[Kind]string{
	KindBadRequest:         "bad request: key or options rejected by the store",
	KindNotFound:           "key not found",
	KindPreconditionFailed: "precondition failed: generation or insert mode did not match",
	KindPayloadTooLarge:    "payload too large",
	KindTooManyRequests:    "too many requests to the store",
	KindInternalError:      "internal store error",
}

// Message returns the fixed descriptive text for a kind.
func Message(kind Kind) string {
	if m, ok := hostMessages[kind]; ok {
		return m
	}
	return kvMessages[kind]
}

// KVMessage returns the kv store text for a kind, falling back to the host
// table.
func KVMessage(kind Kind) string {
	if m, ok := kvMessages[kind]; ok {
		return m
	}
	return hostMessages[kind]
}
