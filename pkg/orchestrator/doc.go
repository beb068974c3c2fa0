/*
Package orchestrator is the client side of the fabric.

An Orchestrator connects to worker nodes, broadcasts mount descriptors,
ships the job script with Setup and then fans calls out across every
remote worker process. Setup builds the slot list (each node contributes
one host/port entry per advertised process, in node order) and starts
the local slot pool: one local worker per slot, each owning a single
dealer, pinned 1:1 to its remote process. After a call returns, the owning
worker propagates produced files from the node's staging tier back into
the authoritative workdir before handing the result to the caller.

Call/CallAsync submit one invocation; Map and IMap preserve input order;
IMapUnordered yields completions as they happen.
*/
package orchestrator
