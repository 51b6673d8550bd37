package meta

import (
	"bytes"
	"strconv"
)

// ResponseDecoder parses a byte stream into Responses. It is stateless
// across calls: Decode is given the full unconsumed buffer each time and
// reports how many leading bytes it turned into complete Responses. The
// caller is responsible for retaining the unconsumed remainder (e.g. via
// bufio.Reader) and calling Decode again once more bytes have arrived.
type ResponseDecoder struct{}

// Decode consumes as many complete responses as are present in data and
// returns them along with the number of bytes consumed. A trailing
// partial response is left unconsumed; the caller must supply it again,
// with more data appended, on the next call. Decode never blocks and
// never does I/O itself.
func (ResponseDecoder) Decode(data []byte) (responses []*Response, consumed int, err error) {
	pos := 0
	for {
		remaining := data[pos:]
		idx := bytes.Index(remaining, crlf)
		if idx < 0 {
			if len(remaining) > MaxHeaderLength {
				return responses, pos, &DecodeError{Message: "response header exceeds maximum length"}
			}
			return responses, pos, nil
		}
		if idx > MaxHeaderLength {
			return responses, pos, &DecodeError{Message: "response header exceeds maximum length"}
		}

		line := remaining[:idx]
		headerLen := idx + 2

		code, rest, err := splitCode(line)
		if err != nil {
			return responses, pos, err
		}

		if code == CodeVA {
			dataLen, tokens, err := parseVAHeader(rest)
			if err != nil {
				return responses, pos, err
			}
			total := headerLen + dataLen + 2
			if len(remaining) < total {
				return responses, pos, nil
			}
			value := remaining[headerLen : headerLen+dataLen]
			if !bytes.HasSuffix(remaining[:total], crlf) {
				return responses, pos, &DecodeError{Message: "value block missing trailing CRLF"}
			}
			resp, err := buildResponse(code, tokens, value)
			if err != nil {
				return responses, pos, err
			}
			responses = append(responses, resp)
			pos += total
			continue
		}

		tokens := splitTokens(rest)
		resp, err := buildResponse(code, tokens, nil)
		if err != nil {
			return responses, pos, err
		}
		responses = append(responses, resp)
		pos += headerLen
	}
}

var crlf = []byte(CRLF)

func splitCode(line []byte) (ReturnCode, []byte, error) {
	sp := bytes.IndexByte(line, ' ')
	var codeBytes []byte
	var rest []byte
	if sp < 0 {
		codeBytes = line
	} else {
		codeBytes = line[:sp]
		rest = line[sp+1:]
	}
	if len(codeBytes) != 2 {
		return "", nil, &DecodeError{Message: "malformed status code: " + string(line)}
	}
	code := ReturnCode(codeBytes)
	if !knownCodes[code] {
		return "", nil, &DecodeError{Message: "unknown status code: " + string(codeBytes)}
	}
	return code, rest, nil
}

var knownCodes = map[ReturnCode]bool{
	CodeHD: true,
	CodeVA: true,
	CodeEN: true,
	CodeNF: true,
	CodeNS: true,
	CodeEX: true,
	CodeMN: true,
	CodeME: true,
}

// parseVAHeader parses "<data_len> <flags>*" following a VA code.
func parseVAHeader(rest []byte) (dataLen int, tokens [][]byte, err error) {
	tokens = splitTokens(rest)
	if len(tokens) == 0 {
		return 0, nil, &DecodeError{Message: "VA response missing data length"}
	}
	n, convErr := strconv.Atoi(string(tokens[0]))
	if convErr != nil || n < 0 {
		return 0, nil, &DecodeError{Message: "VA response has invalid data length", Err: convErr}
	}
	return n, tokens[1:], nil
}

func splitTokens(rest []byte) [][]byte {
	if len(rest) == 0 {
		return nil
	}
	return bytes.Fields(rest)
}

func buildResponse(code ReturnCode, tokens [][]byte, value []byte) (*Response, error) {
	resp := &Response{Code: code, Data: value}

	if code == CodeME {
		// meta-debug responses look like "ME <key> name=value name=value...",
		// not "ME <single-byte-flag><arg>" like every other command.
		if len(tokens) > 0 {
			resp.HasKey = true
			resp.Key = string(tokens[0])
			tokens = tokens[1:]
		}
		resp.Raw = make(map[byte]string, len(tokens))
		for _, tok := range tokens {
			name, value, ok := bytes.Cut(tok, []byte("="))
			if !ok || len(name) == 0 {
				continue
			}
			resp.Raw[name[0]] = string(value)
		}
		return resp, nil
	}

	for _, tok := range tokens {
		if len(tok) == 0 {
			continue
		}
		flag := tok[0]
		arg := string(tok[1:])
		switch flag {
		case flagReturnTTL:
			n, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return nil, &DecodeError{Message: "malformed t flag", Err: err}
			}
			resp.HasTTL = true
			resp.TTLSeconds = n
		case flagReturnCAS:
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				return nil, &DecodeError{Message: "malformed c flag", Err: err}
			}
			resp.HasCAS = true
			resp.CAS = n
		case flagReturnKey:
			resp.HasKey = true
			resp.Key = arg
		default:
			// Unknown flags are ignored: the protocol is designed to be
			// forward-compatible with flags a client didn't request or
			// doesn't recognize.
		}
	}
	return resp, nil
}
