/*
Command verb taxonomy.

Adapted from the teacher's commands.go CommandType catalog — which
enumerated every Redis command name as a typed constant for server-side
dispatch — into the one classification the client core actually needs:
whether a command is safe to route to a replica (§4.5.3 of the spec). The
hundreds of per-command wrapper methods the teacher's catalog implied are
out of scope (spec.md §1); this table exists only to serve cluster/Sentinel
routing's read/write split.
*/
package resp

import "strings"

// readOnlyVerbs is the fixed read-command taxonomy from spec.md §4.5.3.
// Commands not listed here are treated as writes (routed to the master)
// unless a caller explicitly overrides via CallOptions.ForceReadOnly.
var readOnlyVerbs = map[string]struct{}{
	"GET": {}, "MGET": {}, "GETRANGE": {}, "STRLEN": {}, "SUBSTR": {},
	"HGET": {}, "HGETALL": {}, "HMGET": {}, "HKEYS": {}, "HVALS": {}, "HLEN": {}, "HEXISTS": {}, "HRANDFIELD": {}, "HSCAN": {},
	"LRANGE": {}, "LLEN": {}, "LINDEX": {}, "LPOS": {},
	"SMEMBERS": {}, "SCARD": {}, "SISMEMBER": {}, "SMISMEMBER": {}, "SRANDMEMBER": {}, "SSCAN": {}, "SDIFF": {}, "SINTER": {}, "SUNION": {},
	"ZRANGE": {}, "ZRANGEBYSCORE": {}, "ZRANGEBYLEX": {}, "ZREVRANGE": {}, "ZREVRANGEBYSCORE": {}, "ZSCORE": {}, "ZMSCORE": {}, "ZCARD": {}, "ZCOUNT": {}, "ZRANK": {}, "ZREVRANK": {}, "ZSCAN": {},
	"EXISTS": {}, "TYPE": {}, "TTL": {}, "PTTL": {}, "DUMP": {}, "OBJECT": {}, "RANDOMKEY": {}, "KEYS": {}, "SCAN": {},
	"XRANGE": {}, "XREVRANGE": {}, "XREAD": {}, "XLEN": {}, "XINFO": {},
	"BITCOUNT": {}, "BITPOS": {}, "GETBIT": {},
	"GEODIST": {}, "GEOPOS": {}, "GEOHASH": {}, "GEOSEARCH": {}, "GEORADIUS_RO": {}, "GEORADIUSBYMEMBER_RO": {},
	"PFCOUNT": {},
	"MEMORY":  {}, "TOUCH": {},
}

// IsReadOnly reports whether verb belongs to the fixed read-only taxonomy.
// Matching is case-insensitive since command requests are conventionally
// uppercased but callers may pass either case.
func IsReadOnly(verb string) bool {
	_, ok := readOnlyVerbs[strings.ToUpper(verb)]
	return ok
}
