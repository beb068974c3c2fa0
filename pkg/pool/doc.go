/*
Package pool runs user scripts in a set of spawned worker processes.

Each worker is a fresh child of the current executable (re-exec, marked by
the QUICKDIST_WORKER environment variable), so children share no memory
with the node server and inherit none of its sockets. The parent hands out
slot indices from a monotonic counter, exports them to the child as
PROCESS_ID and PID, then completes an INIT handshake that loads the script
and runs its optional init entry. After that, workers answer CALL frames
over their stdin/stdout pipe until the pool shuts down.

Dispatch is a shared task queue: Call and CallAsync submit one call, Map
and IMap preserve input order, IMapUnordered yields completions as they
happen. A failure inside the script's main travels back to the caller; the
worker process survives it. A crashed worker process is not respawned.
*/
package pool
