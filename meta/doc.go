// Package meta implements the wire codec for the memcached meta text
// protocol (mg, ms, md, ma, mn). It has no knowledge of connections, pools,
// or retries — it only turns a Request into bytes and a byte stream into
// Responses.
//
// Request and Response are plain data; RequestEncoder and ResponseDecoder
// do the serialization and parsing. Encoding never fails for a
// well-formed Request. Decoding is incremental: Decode consumes as many
// complete responses as are available in the buffer and reports how many
// bytes it consumed, leaving a partial trailing response for the next
// call.
package meta
