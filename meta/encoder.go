package meta

import (
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
)

// RequestEncoder serializes Requests onto the wire. It carries no state
// across calls; a single encoder can be shared by many goroutines.
type RequestEncoder struct{}

// Encode appends the wire representation of req to buf. It re-validates
// the key defensively even though callers are expected to have gone
// through the New*Request constructors already.
func (RequestEncoder) Encode(buf *bytebufferpool.ByteBuffer, req *Request, now time.Time) error {
	if req.Command != CmdNoOp {
		if err := validateKey(req.Key); err != nil {
			return err
		}
	}

	switch req.Command {
	case CmdGet:
		return encodeGet(buf, req, now)
	case CmdSet:
		return encodeSet(buf, req, now)
	case CmdDelete:
		return encodeDelete(buf, req)
	case CmdArithmetic:
		return encodeArithmetic(buf, req, now)
	case CmdDebug:
		return encodeDebug(buf, req)
	case CmdNoOp:
		buf.WriteString(string(CmdNoOp))
		buf.WriteString(CRLF)
		return nil
	default:
		return fmt.Errorf("meta: unknown command %q", req.Command)
	}
}

func encodeGet(buf *bytebufferpool.ByteBuffer, req *Request, now time.Time) error {
	buf.WriteString(string(CmdGet))
	buf.WriteByte(' ')
	buf.WriteString(req.Key)
	f := req.Flags
	if f.ReturnValue {
		writeFlag(buf, flagReturnValue, "")
	}
	if f.ReturnTTL {
		writeFlag(buf, flagReturnTTL, "")
	}
	if f.HasTTL {
		writeFlag(buf, flagTTL, strconv.FormatInt(f.TTL.seconds(now), 10))
	}
	if f.ReturnCAS {
		writeFlag(buf, flagReturnCAS, "")
	}
	if f.ReturnKey {
		writeFlag(buf, flagReturnKey, "")
	}
	if f.Quiet {
		writeFlag(buf, flagQuiet, "")
	}
	buf.WriteString(CRLF)
	return nil
}

func encodeSet(buf *bytebufferpool.ByteBuffer, req *Request, now time.Time) error {
	buf.WriteString(string(CmdSet))
	buf.WriteByte(' ')
	buf.WriteString(req.Key)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(req.Data)))

	f := req.Flags
	if f.HasTTL {
		writeFlag(buf, flagTTL, strconv.FormatInt(f.TTL.seconds(now), 10))
	}
	// The M flag is only sent for non-default storage modes; a plain set
	// omits it entirely rather than spelling out "MS".
	if f.HasStorageMode && f.StorageMode != ModeSet {
		writeFlag(buf, flagMode, string(f.StorageMode))
	}
	if f.ReturnCAS {
		writeFlag(buf, flagReturnCAS, "")
	}
	if f.ReturnKey {
		writeFlag(buf, flagReturnKey, "")
	}
	if f.Quiet {
		writeFlag(buf, flagQuiet, "")
	}
	buf.WriteString(CRLF)
	buf.Write(req.Data)
	buf.WriteString(CRLF)
	return nil
}

func encodeDelete(buf *bytebufferpool.ByteBuffer, req *Request) error {
	buf.WriteString(string(CmdDelete))
	buf.WriteByte(' ')
	buf.WriteString(req.Key)
	f := req.Flags
	if f.ReturnKey {
		writeFlag(buf, flagReturnKey, "")
	}
	if f.Quiet {
		writeFlag(buf, flagQuiet, "")
	}
	buf.WriteString(CRLF)
	return nil
}

func encodeArithmetic(buf *bytebufferpool.ByteBuffer, req *Request, now time.Time) error {
	buf.WriteString(string(CmdArithmetic))
	buf.WriteByte(' ')
	buf.WriteString(req.Key)

	f := req.Flags
	mode := f.ArithmeticMode
	if mode == 0 {
		mode = ModeIncrement
	}
	writeFlag(buf, flagMode, string(mode))
	writeFlag(buf, flagDelta, strconv.FormatUint(f.Delta, 10))
	if f.HasTTL {
		writeFlag(buf, flagTTL, strconv.FormatInt(f.TTL.seconds(now), 10))
	}
	if f.ReturnValue {
		writeFlag(buf, flagReturnValue, "")
	}
	if f.ReturnTTL {
		writeFlag(buf, flagReturnTTL, "")
	}
	if f.ReturnCAS {
		writeFlag(buf, flagReturnCAS, "")
	}
	if f.ReturnKey {
		writeFlag(buf, flagReturnKey, "")
	}
	if f.Quiet {
		writeFlag(buf, flagQuiet, "")
	}
	buf.WriteString(CRLF)
	return nil
}

func encodeDebug(buf *bytebufferpool.ByteBuffer, req *Request) error {
	buf.WriteString(string(CmdDebug))
	buf.WriteByte(' ')
	buf.WriteString(req.Key)
	buf.WriteString(CRLF)
	return nil
}

func writeFlag(buf *bytebufferpool.ByteBuffer, token byte, arg string) {
	buf.WriteByte(' ')
	buf.WriteByte(token)
	buf.WriteString(arg)
}
