/*
Package mount ships storage shares from the orchestrator to worker nodes.

A mount descriptor is a serializable value built on the orchestrator,
broadcast with the MOUNT command and executed on each node. Mounting
installs the WORKDIR/WORKDIR_<TAG>/LOCALDIR/TEMPDIR environment variables
that the file tier resolver reads; a remote node exports only WORKDIR,
WORKDIR_<TAG> and TEMPDIR and leaves LOCALDIR as it was. The descriptor records its creator's
persistent node id (~/.quickdist/nodeid): executing on that same host
merely hosts the shares through symlinks, while any other node binds them
remotely; the SSHFS descriptor renders and runs an sshfs shell script per
share.
*/
package mount
