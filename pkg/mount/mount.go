package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mount is a serializable descriptor shipped by the orchestrator and
// executed on a node. Mounting installs the environment variables that
// point the file tier resolver at its three roots.
type Mount interface {
	Mount() error
}

// hostingRoot is where the creator's own node hosts its shares.
func hostingRoot() string {
	return filepath.Join(os.TempDir(), "quickdist", "hosting")
}

// relink replaces dst with a symlink to src, creating parents.
func relink(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("failed to replace %s: %w", dst, err)
		}
	}
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.Symlink(src, dst); err != nil {
		return fmt.Errorf("failed to link %s -> %s: %w", dst, src, err)
	}
	return nil
}

// mountHost installs the tier roots on the share owner itself. The shares
// are already local paths, so the local and temp tiers point at a hosting
// directory of symlinks into them and staging degenerates into same-file
// no-ops.
func mountHost(workdir string, workdirs map[string]string) error {
	root := hostingRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create hosting root: %w", err)
	}

	env := make([][2]string, 0, len(workdirs)+4)

	// The host ignores any shipped tempdir and stages through the same
	// hosting directory as the local tier.
	if workdir != "" || len(workdirs) > 0 {
		env = append(env, [2]string{"LOCALDIR", root}, [2]string{"TEMPDIR", root})
	}

	if workdir != "" {
		if err := relink(workdir, filepath.Join(root, "__root__")); err != nil {
			return err
		}
		env = append(env, [2]string{"WORKDIR", workdir})
	}
	for tag, path := range workdirs {
		if err := relink(path, filepath.Join(root, strings.ToLower(tag))); err != nil {
			return err
		}
		env = append(env, [2]string{"WORKDIR_" + strings.ToUpper(tag), path})
	}

	return setEnv(env)
}

func setEnv(env [][2]string) error {
	for _, kv := range env {
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to set %s: %w", kv[0], err)
		}
	}
	return nil
}
