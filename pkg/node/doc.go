/*
Package node implements the worker-node server.

The server answers five commands on one listening port: PING echoes, INFO
advertises the process count, SETUP (re)builds the worker pool from a
shipped script, MOUNT executes a mount descriptor to install the tier
roots, and CALL dispatches into the pool. Every CALL is wrapped by the
staging protocol: file arguments are pulled origin→local before the script
runs, file results pushed local→temp before the reply leaves the node, each
side behind a barrier over a bounded copy group.

Handler failures of any kind become ERROR replies; the server never dies
from a request. CLOSE is rejected: a node's lifetime is its process
lifetime.
*/
package node
