package resp

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOne(t *testing.T, wire string) Value {
	t.Helper()
	d := NewDecoder(NewReader(strings.NewReader(wire)))
	v, err := d.ReadValue()
	require.NoError(t, err)
	return v
}

func TestDecodeSimpleString(t *testing.T) {
	v := decodeOne(t, "+OK\r\n")
	assert.Equal(t, KindSimpleString, v.Kind)
	assert.Equal(t, "OK", v.Str)
}

func TestDecodeError(t *testing.T) {
	v := decodeOne(t, "-WRONGTYPE Operation against a key\r\n")
	assert.Equal(t, KindError, v.Kind)
	assert.Equal(t, "WRONGTYPE", v.ErrKind)
	e, ok := v.AsError()
	require.True(t, ok)
	assert.Contains(t, e.Error(), "WRONGTYPE")
}

func TestDecodeInteger(t *testing.T) {
	v := decodeOne(t, ":-9223372036854775808\r\n")
	assert.Equal(t, KindInteger, v.Kind)
	assert.Equal(t, int64(math.MinInt64), v.Int)
}

func TestDecodeBulkStringNullVsEmpty(t *testing.T) {
	null := decodeOne(t, "$-1\r\n")
	assert.True(t, null.IsNull())

	empty := decodeOne(t, "$0\r\n\r\n")
	assert.False(t, empty.IsNull())
	assert.Equal(t, []byte{}, empty.Bulk)
}

func TestDecodeBulkStringBinarySafe(t *testing.T) {
	payload := []byte("a\r\nb\x00c")
	wire := "$6\r\n" + string(payload) + "\r\n"
	v := decodeOne(t, wire)
	assert.Equal(t, payload, v.Bulk)
}

func TestDecodeArrayNullVsEmpty(t *testing.T) {
	nullArr := decodeOne(t, "*-1\r\n")
	assert.True(t, nullArr.IsNull())

	emptyArr := decodeOne(t, "*0\r\n")
	assert.False(t, emptyArr.IsNull())
	assert.Len(t, emptyArr.Array, 0)
}

func TestDecodeArraySizes(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		var sb strings.Builder
		sb.WriteString("*")
		sb.WriteString(itoa(n))
		sb.WriteString("\r\n")
		for i := 0; i < n; i++ {
			sb.WriteString(":1\r\n")
		}
		v := decodeOne(t, sb.String())
		assert.Len(t, v.Array, n)
	}
}

func TestDecodeNestedArraysFiveDeep(t *testing.T) {
	// *1\r\n repeated five times wrapping a single integer leaf.
	wire := strings.Repeat("*1\r\n", 5) + ":7\r\n"
	v := decodeOne(t, wire)
	cur := v
	for i := 0; i < 5; i++ {
		require.Equal(t, KindArray, cur.Kind)
		require.Len(t, cur.Array, 1)
		cur = cur.Array[0]
	}
	assert.Equal(t, int64(7), cur.Int)
}

func TestDecodeMapNonStringKeys(t *testing.T) {
	// %2\r\n :1 :2  +a +b  -> {1: 2, "a": "b"}
	wire := "%2\r\n:1\r\n:2\r\n+a\r\n+b\r\n"
	v := decodeOne(t, wire)
	require.Equal(t, KindMap, v.Kind)
	require.Len(t, v.MapPairs, 2)
	assert.Equal(t, int64(1), v.MapPairs[0].Key.Int)
	assert.Equal(t, int64(2), v.MapPairs[0].Value.Int)
	assert.Equal(t, "a", v.MapPairs[1].Key.Str)
}

func TestDecodeSet(t *testing.T) {
	v := decodeOne(t, "~2\r\n+a\r\n+b\r\n")
	assert.Equal(t, KindSet, v.Kind)
	assert.Len(t, v.Array, 2)
}

func TestDecodeDoubleSpecials(t *testing.T) {
	cases := map[string]float64{
		",inf\r\n":  math.Inf(1),
		",-inf\r\n": math.Inf(-1),
		",3.14\r\n": 3.14,
	}
	for wire, want := range cases {
		v := decodeOne(t, wire)
		assert.Equal(t, want, v.Double)
	}
	nanVal := decodeOne(t, ",nan\r\n")
	assert.True(t, math.IsNaN(nanVal.Double))
}

func TestDecodeBoolean(t *testing.T) {
	assert.True(t, decodeOne(t, "#t\r\n").Bool)
	assert.False(t, decodeOne(t, "#f\r\n").Bool)
}

func TestDecodeBigNumber(t *testing.T) {
	v := decodeOne(t, "(3492890328409238509324850943850943825024385\r\n")
	assert.Equal(t, "3492890328409238509324850943850943825024385", v.BigNum)
}

func TestDecodeVerbatimStrings(t *testing.T) {
	for _, format := range []string{"txt", "mkd"} {
		wire := "=9\r\n" + format + ":hello\r\n"
		v := decodeOne(t, wire)
		require.Equal(t, KindVerbatimString, v.Kind)
		assert.Equal(t, format, v.VerbatimFormat)
		assert.Equal(t, "hello", v.VerbatimText)
	}
}

func TestDecodeNull(t *testing.T) {
	v := decodeOne(t, "_\r\n")
	assert.True(t, v.IsNull())
}

func TestDecodeLargeBulkStringLengthOnly(t *testing.T) {
	// 512 MiB length-only check: verify the framing accepts the declared
	// size without reading the full payload eagerly beyond what's needed.
	const size = 512 << 20
	var header strings.Builder
	header.WriteString("$")
	header.WriteString(itoa(size))
	header.WriteString("\r\n")
	payload := make([]byte, size)
	r := NewReader(io.MultiReader(strings.NewReader(header.String()), bytes.NewReader(payload), strings.NewReader("\r\n")))
	d := NewDecoder(r)
	v, err := d.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, size, len(v.Bulk))
}

func TestPushDivertedFromReply(t *testing.T) {
	// A push frame followed by the actual reply must not be visible to
	// ReadReply as the reply itself.
	wire := ">2\r\n+invalidate\r\n*1\r\n$1\r\nk\r\n+OK\r\n"
	d := NewDecoder(NewReader(strings.NewReader(wire)))
	var pushed []Value
	v, err := d.ReadReply(func(p Value) { pushed = append(pushed, p) })
	require.NoError(t, err)
	assert.Equal(t, KindSimpleString, v.Kind)
	assert.Equal(t, "OK", v.Str)
	require.Len(t, pushed, 1)
	assert.Equal(t, KindPush, pushed[0].Kind)
}

func TestEncodeCommandArrayOfBulkStrings(t *testing.T) {
	e := NewEncoder(nil)
	e.Command("SET", "key", "value")
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n", string(e.Bytes()))
}

func TestEncodeBinaryPayload(t *testing.T) {
	e := NewEncoder(nil)
	payload := []byte{0x00, 0xff, '\r', '\n'}
	e.Command1("SET", payload)
	// Size-prefixed by byte length, not by any text notion of length.
	assert.Contains(t, string(e.Bytes()), "$4\r\n")
}

func TestEncodePipelineConcatenatesCommands(t *testing.T) {
	e := NewEncoder(nil)
	e.Command2("SET", "a", "1")
	e.Command1("GET", "a")
	// A pipeline concatenates multiple commands into one write; verify the
	// buffer contains exactly two back-to-back arrays.
	wire := string(e.Bytes())
	assert.Equal(t, 2, strings.Count(wire, "*"))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
