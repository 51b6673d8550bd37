package memcache

import (
	"context"

	"github.com/pior/metacache/meta"
)

// Get retrieves the value stored at key. found is false on a cache miss;
// err is nil in that case, matching the meta protocol's EN response,
// which is a normal outcome rather than a failure.
func (c *Connection) Get(ctx context.Context, key string) (data []byte, found bool, err error) {
	req, err := meta.NewGetRequest(key, meta.Flags{ReturnValue: true})
	if err != nil {
		return nil, false, err
	}
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return nil, false, err
	}
	switch resp.Code {
	case meta.CodeVA:
		return resp.Data, true, nil
	case meta.CodeEN:
		return nil, false, nil
	default:
		return nil, false, unexpectedCode("get", resp.Code)
	}
}

// Set stores data at key unconditionally. A zero ttl.IsIndefinite() means
// the item never expires.
func (c *Connection) Set(ctx context.Context, key string, data []byte, ttl meta.TTL) error {
	return c.store(ctx, key, data, ttl, meta.ModeSet)
}

// Add stores data at key only if it doesn't already exist.
func (c *Connection) Add(ctx context.Context, key string, data []byte, ttl meta.TTL) error {
	return c.store(ctx, key, data, ttl, meta.ModeAdd)
}

// Replace stores data at key only if it already exists.
func (c *Connection) Replace(ctx context.Context, key string, data []byte, ttl meta.TTL) error {
	return c.store(ctx, key, data, ttl, meta.ModeReplace)
}

// Append adds data to the end of the existing value at key.
func (c *Connection) Append(ctx context.Context, key string, data []byte) error {
	return c.store(ctx, key, data, meta.Indefinite(), meta.ModeAppend)
}

// Prepend adds data to the start of the existing value at key.
func (c *Connection) Prepend(ctx context.Context, key string, data []byte) error {
	return c.store(ctx, key, data, meta.Indefinite(), meta.ModePrepend)
}

func (c *Connection) store(ctx context.Context, key string, data []byte, ttl meta.TTL, mode meta.StorageMode) error {
	flags := meta.Flags{HasStorageMode: true, StorageMode: mode}
	if !ttl.IsIndefinite() {
		flags.HasTTL = true
		flags.TTL = ttl
	}
	req, err := meta.NewSetRequest(key, data, flags)
	if err != nil {
		return err
	}
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}
	switch resp.Code {
	case meta.CodeHD:
		return nil
	case meta.CodeNS:
		if mode == meta.ModeAdd {
			return &KeyExistsError{Key: key}
		}
		return &KeyNotFoundError{Key: key}
	default:
		return unexpectedCode(string(meta.CmdSet), resp.Code)
	}
}

// Delete removes key.
func (c *Connection) Delete(ctx context.Context, key string) error {
	req, err := meta.NewDeleteRequest(key)
	if err != nil {
		return err
	}
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}
	switch resp.Code {
	case meta.CodeHD:
		return nil
	case meta.CodeNF:
		return &KeyNotFoundError{Key: key}
	default:
		return unexpectedCode(string(meta.CmdDelete), resp.Code)
	}
}

// Increment adds delta to the integer stored at key, returning the new
// value when the server reports one.
func (c *Connection) Increment(ctx context.Context, key string, delta uint64) (newValue uint64, hasValue bool, err error) {
	return c.arithmetic(ctx, key, delta, meta.ModeIncrement)
}

// Decrement subtracts delta from the integer stored at key. Decrementing
// below zero saturates at zero (server behavior, not enforced here).
func (c *Connection) Decrement(ctx context.Context, key string, delta uint64) (newValue uint64, hasValue bool, err error) {
	return c.arithmetic(ctx, key, delta, meta.ModeDecrement)
}

func (c *Connection) arithmetic(ctx context.Context, key string, delta uint64, mode meta.ArithmeticMode) (uint64, bool, error) {
	req, err := meta.NewArithmeticRequest(key, meta.Flags{ArithmeticMode: mode, Delta: delta, ReturnValue: true})
	if err != nil {
		return 0, false, err
	}
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return 0, false, err
	}
	switch resp.Code {
	case meta.CodeHD:
		return 0, false, nil
	case meta.CodeVA:
		n, ok := ReadUint(resp.Data)
		if !ok {
			return 0, false, &ProtocolError{Command: string(meta.CmdArithmetic), Message: "non-numeric value"}
		}
		return n, true, nil
	case meta.CodeNF:
		return 0, false, &KeyNotFoundError{Key: key}
	default:
		return 0, false, unexpectedCode(string(meta.CmdArithmetic), resp.Code)
	}
}

// Touch updates the TTL of key without fetching its value.
func (c *Connection) Touch(ctx context.Context, key string, ttl meta.TTL) error {
	req, err := meta.NewGetRequest(key, meta.Flags{HasTTL: true, TTL: ttl})
	if err != nil {
		return err
	}
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}
	switch resp.Code {
	case meta.CodeHD, meta.CodeVA:
		return nil
	case meta.CodeEN:
		return &KeyNotFoundError{Key: key}
	default:
		return unexpectedCode("touch", resp.Code)
	}
}

// NoOp sends a no-op and waits for the MN sentinel, used for keep-alive
// probing and liveness checks.
func (c *Connection) NoOp(ctx context.Context) error {
	resp, err := c.Submit(ctx, meta.NewNoOpRequest())
	if err != nil {
		return err
	}
	if resp.Code != meta.CodeMN {
		return unexpectedCode(string(meta.CmdNoOp), resp.Code)
	}
	return nil
}

// Debug issues a meta-debug (me) request, a low-level escape hatch for
// introspecting item metadata that isn't part of the typed method surface.
func (c *Connection) Debug(ctx context.Context, key string) (*meta.Response, error) {
	req, err := meta.NewDebugRequest(key)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, req)
}

func unexpectedCode(command string, code meta.ReturnCode) error {
	return &ProtocolError{Command: command, Message: "unexpected return code " + string(code)}
}
