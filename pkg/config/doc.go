// Package config owns the persistent quickdist configuration file at
// $HOME/.quickdist/config.json: the workdir/workdirs/localdir/tempdir root
// mapping consulted by the file tier resolver. Partial files are tolerated.
package config
