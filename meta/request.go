package meta

import "fmt"

// Request is a tagged variant over Get, Set, Delete, Arithmetic, Debug, and
// NoOp, carried as a single struct (Go has no sum types) with Command
// selecting which fields apply.
type Request struct {
	Command Command
	Key     string
	Data    []byte // Set only
	Flags   Flags
}

// NewGetRequest builds a meta-get request.
func NewGetRequest(key string, flags Flags) (*Request, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return &Request{Command: CmdGet, Key: key, Flags: flags}, nil
}

// NewSetRequest builds a meta-set request. data may be empty but not nil-length
// mismatched; length is derived from len(data).
func NewSetRequest(key string, data []byte, flags Flags) (*Request, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return &Request{Command: CmdSet, Key: key, Data: data, Flags: flags}, nil
}

// NewDeleteRequest builds a meta-delete request.
func NewDeleteRequest(key string) (*Request, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return &Request{Command: CmdDelete, Key: key}, nil
}

// NewArithmeticRequest builds a meta-arithmetic request. delta must be > 0;
// this is a precondition enforced here rather than left to the server.
func NewArithmeticRequest(key string, flags Flags) (*Request, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if flags.Delta == 0 {
		return nil, fmt.Errorf("meta: arithmetic delta must be > 0")
	}
	return &Request{Command: CmdArithmetic, Key: key, Flags: flags}, nil
}

// NewDebugRequest builds a meta-debug (me) request. This is a low-level
// escape hatch; Connection.Debug returns its raw Response untranslated.
func NewDebugRequest(key string) (*Request, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return &Request{Command: CmdDebug, Key: key}, nil
}

// NewNoOpRequest builds a no-op request.
func NewNoOpRequest() *Request {
	return &Request{Command: CmdNoOp}
}
