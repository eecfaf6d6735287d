// Package protocol owns the chat wire contract.
//
// Ownership boundary:
// - message records and the client/server frame vocabularies
// - newline framing with a maximum line length
// - per-argument base64 encoding and verb/arity dispatch
//
// A frame on the wire is one line:
//
//	<verb> [<base64 argument>]*\n
//
// Arguments are standard, padded base64 of the UTF-8 field values and are
// separated by a single space.
package protocol
