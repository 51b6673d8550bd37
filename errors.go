package memcache

import "fmt"

// ConnectionShutdownError is returned by a Connection that has reached its
// Finished state: submissions are rejected immediately, and any request
// still in flight when the connection ended resolves with this error.
type ConnectionShutdownError struct {
	Cause error
}

func (e *ConnectionShutdownError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("memcache: connection shut down: %v", e.Cause)
	}
	return "memcache: connection shut down"
}

func (e *ConnectionShutdownError) Unwrap() error { return e.Cause }

// ConnectionUnavailableError is returned by the pool when it could not
// establish a connection within its limits, or the transport refused.
type ConnectionUnavailableError struct {
	Cause error
}

func (e *ConnectionUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("memcache: no connection available: %v", e.Cause)
	}
	return "memcache: no connection available"
}

func (e *ConnectionUnavailableError) Unwrap() error { return e.Cause }

// ProtocolError covers an unexpected return code, a malformed response, or
// a value payload that couldn't be converted to the caller's requested
// type.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("memcache: protocol error on %s: %s", e.Command, e.Message)
}

// KeyNotFoundError reports a missing key for a command that demands
// presence: NF from delete and arithmetic, NS from replace/append/prepend,
// and EN from touch (which is sent as a meta-get).
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("memcache: key not found: %q", e.Key)
}

// KeyExistsError is NS from add.
type KeyExistsError struct {
	Key string
}

func (e *KeyExistsError) Error() string {
	return fmt.Sprintf("memcache: key already exists: %q", e.Key)
}

// ShouldCloseConnection reports whether err indicates the connection it
// occurred on is no longer usable. Errors with no opinion are treated
// conservatively as fatal.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *KeyNotFoundError, *KeyExistsError, *ConnectionUnavailableError:
		return false
	default:
		return true
	}
}
