package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseDecoderWholeMessages(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []*Response
	}{
		{
			name:  "HD",
			input: "HD\r\n",
			want:  []*Response{{Code: CodeHD}},
		},
		{
			name:  "VA with value",
			input: "VA 5\r\nhello\r\n",
			want:  []*Response{{Code: CodeVA, Data: []byte("hello")}},
		},
		{
			name:  "VA with ttl and cas flags",
			input: "VA 5 t90 c42\r\nhello\r\n",
			want: []*Response{{
				Code: CodeVA, Data: []byte("hello"),
				HasTTL: true, TTLSeconds: 90,
				HasCAS: true, CAS: 42,
			}},
		},
		{
			name:  "EN miss",
			input: "EN\r\n",
			want:  []*Response{{Code: CodeEN}},
		},
		{
			name:  "NF not found",
			input: "NF\r\n",
			want:  []*Response{{Code: CodeNF}},
		},
		{
			name:  "NS not stored",
			input: "NS\r\n",
			want:  []*Response{{Code: CodeNS}},
		},
		{
			name:  "EX cas mismatch",
			input: "EX\r\n",
			want:  []*Response{{Code: CodeEX}},
		},
		{
			name:  "MN noop sentinel",
			input: "MN\r\n",
			want:  []*Response{{Code: CodeMN}},
		},
		{
			name:  "HD with key echo",
			input: "HD kfoo\r\n",
			want:  []*Response{{Code: CodeHD, HasKey: true, Key: "foo"}},
		},
		{
			name:  "two pipelined responses in one buffer",
			input: "HD\r\nVA 2\r\nhi\r\n",
			want: []*Response{
				{Code: CodeHD},
				{Code: CodeVA, Data: []byte("hi")},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses, consumed, err := (ResponseDecoder{}).Decode([]byte(tt.input))
			require.NoError(t, err)
			require.Equal(t, len(tt.input), consumed)
			require.Equal(t, tt.want, responses)
		})
	}
}

func TestResponseDecoderPartialHeaderNeedsMoreData(t *testing.T) {
	responses, consumed, err := (ResponseDecoder{}).Decode([]byte("VA 5"))
	require.NoError(t, err)
	require.Nil(t, responses)
	require.Equal(t, 0, consumed)
}

func TestResponseDecoderPartialValueNeedsMoreData(t *testing.T) {
	responses, consumed, err := (ResponseDecoder{}).Decode([]byte("VA 5\r\nhel"))
	require.NoError(t, err)
	require.Nil(t, responses)
	require.Equal(t, 0, consumed)
}

func TestResponseDecoderByteAtATimeMatchesWholeMessage(t *testing.T) {
	input := []byte("HD\r\nVA 11 t30\r\nhello world\r\nEN\r\n")

	whole, wholeConsumed, err := (ResponseDecoder{}).Decode(input)
	require.NoError(t, err)
	require.Equal(t, len(input), wholeConsumed)

	var got []*Response
	var buf []byte
	dec := ResponseDecoder{}
	for _, b := range input {
		buf = append(buf, b)
		responses, consumed, err := dec.Decode(buf)
		require.NoError(t, err)
		got = append(got, responses...)
		buf = buf[consumed:]
	}
	require.Equal(t, whole, got)
	require.Empty(t, buf)
}

func TestResponseDecoderMalformedStatusCode(t *testing.T) {
	_, _, err := (ResponseDecoder{}).Decode([]byte("BOGUS\r\n"))
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestResponseDecoderUnknownStatusCode(t *testing.T) {
	_, _, err := (ResponseDecoder{}).Decode([]byte("ZZ\r\n"))
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestResponseDecoderVAInvalidLength(t *testing.T) {
	_, _, err := (ResponseDecoder{}).Decode([]byte("VA notanumber\r\n"))
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestResponseDecoderMetaDebugRawFlags(t *testing.T) {
	input := "ME foo la=3 exp=90\r\n"
	responses, consumed, err := (ResponseDecoder{}).Decode([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), consumed)
	require.Len(t, responses, 1)
	require.True(t, responses[0].HasKey)
	require.Equal(t, "foo", responses[0].Key)
	require.Equal(t, "3", responses[0].Raw['l'])
	require.Equal(t, "90", responses[0].Raw['e'])
}
