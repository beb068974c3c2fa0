/*
Package transport implements the request/reply wire layer: length-prefixed
frames over TCP, a Dealer client with a per-connection UUID identity, and a
multi-threaded Rep server that fans frames from one listening endpoint out
to a fixed worker set.

Each dealer keeps strict request/reply discipline: one outstanding request
per socket. The rep server answers requests from different connections in
parallel (default worker count = logical CPUs) while preserving per-
connection ordering, and converts handler panics into error replies instead
of dropping frames.
*/
package transport
