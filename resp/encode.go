/*
Encoder implementation.

Generalizes the teacher's writeValue Array/BulkString branches
(protocol.go) — which serialized a Command struct back to a client — into
the client-side direction: serializing a command *request* as an array of
bulk strings. The wire shape (`*<n>\r\n$<len>\r\n<bytes>\r\n...`) is
identical in both directions; only who writes it differs.
*/
package resp

import (
	"strconv"
)

// Encoder accumulates one or more commands into a single contiguous
// buffer, so a pipeline of N commands costs one syscall instead of N.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with buf as its initial backing array
// (reused across calls by callers that pool Encoders).
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf[:0]}
}

// Reset discards any buffered bytes, retaining the backing array.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Bytes returns the accumulated buffer. The slice aliases the Encoder's
// internal storage and is invalidated by the next Command/Reset call.
func (e *Encoder) Bytes() []byte { return e.buf }

// Command appends one command as a RESP array of bulk strings. args may be
// any mix of string, []byte, int64, or fmt.Stringer-free plain ints —
// arbitrary byte payloads are accepted and size-prefixed by byte length,
// never by rune or UTF-8 length, since Redis keys and values are opaque
// byte sequences.
func (e *Encoder) Command(name string, args ...any) {
	e.writeArrayHeader(1 + len(args))
	e.writeBulkString([]byte(name))
	for _, a := range args {
		e.writeBulkArg(a)
	}
}

// Command1, Command2, and Command3 are fixed-arity fast paths for the
// hottest call shapes (GET key / SET key value / SET key value EX) that
// avoid the variadic slice allocation Command incurs for every call.
func (e *Encoder) Command1(name string, a1 any) {
	e.writeArrayHeader(2)
	e.writeBulkString([]byte(name))
	e.writeBulkArg(a1)
}

func (e *Encoder) Command2(name string, a1, a2 any) {
	e.writeArrayHeader(3)
	e.writeBulkString([]byte(name))
	e.writeBulkArg(a1)
	e.writeBulkArg(a2)
}

func (e *Encoder) Command3(name string, a1, a2, a3 any) {
	e.writeArrayHeader(4)
	e.writeBulkString([]byte(name))
	e.writeBulkArg(a1)
	e.writeBulkArg(a2)
	e.writeBulkArg(a3)
}

func (e *Encoder) writeBulkArg(a any) {
	switch v := a.(type) {
	case []byte:
		e.writeBulkString(v)
	case string:
		e.writeBulkString([]byte(v))
	case int:
		e.writeBulkString(strconv.AppendInt(nil, int64(v), 10))
	case int64:
		e.writeBulkString(strconv.AppendInt(nil, v, 10))
	case uint64:
		e.writeBulkString(strconv.AppendUint(nil, v, 10))
	case float64:
		e.writeBulkString(strconv.AppendFloat(nil, v, 'g', -1, 64))
	case bool:
		if v {
			e.writeBulkString([]byte("1"))
		} else {
			e.writeBulkString([]byte("0"))
		}
	default:
		// Falls back to fmt-free stringification via %v semantics is
		// deliberately not supported: an unrecognized argument type is a
		// caller bug, not a value to coerce silently.
		panic("resp: unsupported command argument type")
	}
}

func (e *Encoder) writeArrayHeader(n int) {
	e.buf = append(e.buf, '*')
	e.buf = strconv.AppendInt(e.buf, int64(n), 10)
	e.buf = append(e.buf, '\r', '\n')
}

func (e *Encoder) writeBulkString(b []byte) {
	e.buf = append(e.buf, '$')
	e.buf = strconv.AppendInt(e.buf, int64(len(b)), 10)
	e.buf = append(e.buf, '\r', '\n')
	e.buf = append(e.buf, b...)
	e.buf = append(e.buf, '\r', '\n')
}
