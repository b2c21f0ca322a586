// Package decoder adapts a length-prefixed H.264 chunk stream to a decode
// capability and feeds the decoded frames to the compositor.
//
// Each chunk on the wire is a big-endian u32 payload length, a u32 flag
// word and the payload itself, an Annex B access unit. The first chunk of
// a session carries the sequence parameter set; its profile bytes select
// the decoder configuration. Decoded frames arrive on the capability's own
// goroutine and are handed to the compositor from there.
package decoder
