package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/compiler"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	proto := compile(t, `
fun outer(a, b = 2, ...rest)
  var n = 0
  fun inner()
    n += 1
    return n
  end
  return inner
end
var x = outer(1)`)

	data, err := compiler.Encode(proto)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := compiler.Decode(data)
	require.NoError(t, err)
	require.Equal(t, proto, decoded)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	proto := compile(t, "var x = 1 + 2")
	data, err := compiler.Encode(proto)
	require.NoError(t, err)

	_, err = compiler.Decode(data[:len(data)/2])
	require.Error(t, err)
}

func TestLineTableMatchesCodeLength(t *testing.T) {
	proto := compile(t, `
var a = 1
var b = a + 2
print(b)`)
	require.Equal(t, len(proto.Code), len(proto.Lines))
	for _, c := range proto.Constants {
		if nested, ok := c.(*compiler.Proto); ok {
			require.Equal(t, len(nested.Code), len(nested.Lines))
		}
	}
}
