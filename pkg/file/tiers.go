package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/levalup/quickdist/pkg/config"
)

// Tier names one of the three storage roots a file handle can resolve
// against.
type Tier int

const (
	// TierOrigin is the authoritative workdir storage.
	TierOrigin Tier = iota + 1
	// TierLocal is the node-local cache.
	TierLocal
	// TierTemp is the staging area propagated back to the workdir.
	TierTemp
)

func (t Tier) String() string {
	switch t {
	case TierOrigin:
		return "origin"
	case TierLocal:
		return "local"
	case TierTemp:
		return "temp"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// tag subdirectory for tempdir/localdir roots; the root workdir family maps
// to "__root__" so tagged and untagged files never collide.
func tierSubdir(origin string) string {
	if origin == "" {
		return "__root__"
	}
	return strings.ToLower(origin)
}

// Workdir resolves the authoritative root for an origin tag: WORKDIR or
// WORKDIR_<TAG> environment variable first, then the config file.
func Workdir(origin string) (string, error) {
	env := "WORKDIR"
	key := "workdir"
	if origin != "" {
		env = "WORKDIR_" + strings.ToUpper(origin)
		key = "workdirs." + strings.ToLower(origin)
	}

	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	if v := config.Load().WorkdirFor(origin); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing config in environment %s or json(%s, %q)", env, config.Path(), key)
}

// Tempdir resolves the staging root for an origin tag. The configured root
// is suffixed with the tag subdirectory.
func Tempdir(origin string) (string, error) {
	if v := os.Getenv("TEMPDIR"); v != "" {
		return filepath.Join(v, tierSubdir(origin)), nil
	}
	if v := config.Load().Tempdir; v != "" {
		return filepath.Join(v, tierSubdir(origin)), nil
	}
	return "", fmt.Errorf("missing config in environment TEMPDIR or json(%s, %q)", config.Path(), "tempdir")
}

// Localdir resolves the node-local cache root for an origin tag. Unlike the
// other tiers it always resolves: absent configuration falls back to a
// default under the user's home.
func Localdir(origin string) string {
	if v := os.Getenv("LOCALDIR"); v != "" {
		return filepath.Join(v, tierSubdir(origin))
	}
	if v := config.Load().Localdir; v != "" {
		return filepath.Join(v, tierSubdir(origin))
	}
	return filepath.Join(config.Dir(), "cache")
}

// tierRoot resolves one tier root for an origin tag.
func tierRoot(t Tier, origin string) (string, error) {
	switch t {
	case TierOrigin:
		return Workdir(origin)
	case TierLocal:
		return Localdir(origin), nil
	case TierTemp:
		return Tempdir(origin)
	}
	return "", fmt.Errorf("unknown tier %d", int(t))
}
