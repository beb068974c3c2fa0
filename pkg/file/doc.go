/*
Package file implements the three-tier storage model that surrounds every
call: workdir (authoritative origin), localdir (node-local cache) and
tempdir (staging, propagated back to the workdir by the orchestrator).

A File is a logical handle, not the bytes: an origin tag naming a workdir
family plus a tier-agnostic relative path. Tier roots resolve per tag from
environment variables (WORKDIR, WORKDIR_<TAG>, LOCALDIR, TEMPDIR), then the
persistent configuration file, then (for the local cache only) a default
under the user's home. Tempdir and localdir roots taken from the
environment or the configuration file gain a per-tag subdirectory so
families never collide; the home default for the local cache is a single
directory shared by every family.

ToLocal/ToTemp/ToOrigin share one staging contract: same real file is a
no-op, a destination whose MD5 matches the handle's cached digest is a
no-op, anything else is a byte copy that creates parent directories.
Digests are memoized in a bbolt database keyed by path, size and mtime, so
repeated staging of large inputs does not rehash them.
*/
package file
