/*
Package msg defines the command envelope and its wire codec.

A Message is {cmd, args, kwargs}. Encode/Decode round-trip messages through
msgpack: Decode(Encode(m)) is structurally equal to m. Values that need to
cross the wire as concrete Go types (file handles, mount descriptors)
register an Ext with a tag plus lower/lift functions; on the wire they are
tagged maps, so the format stays self-describing.

Decoding normalizes scalars: signed integers arrive as int64, unsigned ones
as uint64, floats as float64,
containers as []any and map[string]any with string keys.
*/
package msg
