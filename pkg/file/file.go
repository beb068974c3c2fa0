package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/levalup/quickdist/pkg/log"
)

// File is a logical handle to content stored in the three-tier layout. It
// carries a tier-agnostic relative path plus the workdir family it belongs
// to; the bytes live wherever the handle was last staged.
type File struct {
	// Origin names the workdir family; empty selects the root family.
	Origin string
	// Rel is the path relative to whichever tier root is selected.
	Rel string
	// NoCopy suppresses automatic staging around calls.
	NoCopy bool
	// MD5 is the cached content digest, set once the file has been
	// observed in some tier.
	MD5 string

	tier Tier
}

// NewWorkFile builds a handle anchored in the authoritative workdir.
// Absolute paths are reduced against the workdir root.
func NewWorkFile(path, origin string) (*File, error) {
	root, err := Workdir(origin)
	if err != nil {
		return nil, err
	}
	return &File{Origin: origin, Rel: reduceAbsolute(path, root), tier: TierOrigin}, nil
}

// NewLocalFile builds a handle anchored in the node-local cache.
func NewLocalFile(path, origin string) *File {
	return &File{Origin: origin, Rel: reduceAbsolute(path, Localdir(origin)), tier: TierLocal}
}

// NewTempFile builds a handle anchored in the staging tier.
func NewTempFile(path, origin string) (*File, error) {
	root, err := Tempdir(origin)
	if err != nil {
		return nil, err
	}
	return &File{Origin: origin, Rel: reduceAbsolute(path, root), tier: TierTemp}, nil
}

// at rebuilds a handle with an explicit tier; used by the codec.
func at(origin, rel string, nocopy bool, md5 string, tier Tier) *File {
	return &File{Origin: origin, Rel: rel, NoCopy: nocopy, MD5: md5, tier: tier}
}

// Tier reports which tier the handle currently resolves against.
func (f *File) Tier() Tier {
	return f.tier
}

// Path resolves the handle inside its current tier.
func (f *File) Path() (string, error) {
	return f.PathIn(f.tier)
}

// PathIn resolves the handle inside an explicit tier.
func (f *File) PathIn(t Tier) (string, error) {
	root, err := tierRoot(t, f.Origin)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, f.Rel), nil
}

// ToLocal stages the file into the node-local cache.
func (f *File) ToLocal() error {
	return f.to(TierLocal)
}

// ToTemp stages the file into the staging tier.
func (f *File) ToTemp() error {
	return f.to(TierTemp)
}

// ToOrigin stages the file back into the authoritative workdir.
func (f *File) ToOrigin() error {
	return f.to(TierOrigin)
}

// to moves the handle to the destination tier, copying bytes unless the
// destination already holds identical content.
func (f *File) to(dst Tier) error {
	if f.tier == dst {
		return nil
	}

	src, err := f.Path()
	if err != nil {
		return err
	}
	dstPath, err := f.PathIn(dst)
	if err != nil {
		return err
	}

	if samePath(src, dstPath) {
		f.tier = dst
		return nil
	}

	if f.MD5 == "" {
		digest, err := fileMD5(src)
		if err != nil {
			return fmt.Errorf("stage %s -> %s: %w", f.tier, dst, err)
		}
		f.MD5 = digest
	}

	if fi, err := os.Stat(dstPath); err == nil && fi.Mode().IsRegular() {
		digest, err := fileMD5(dstPath)
		if err == nil && digest == f.MD5 {
			f.tier = dst
			return nil
		}
	}

	if err := copyFile(src, dstPath); err != nil {
		return fmt.Errorf("stage %s -> %s: %w", f.tier, dst, err)
	}
	rememberDigest(dstPath, f.MD5)

	logger := log.WithComponent("file")
	logger.Debug().
		Str("src", src).Str("dst", dstPath).Msg("staged")

	f.tier = dst
	return nil
}

// reduceAbsolute turns a path into a tier-relative one. Absolute paths are
// made relative to the root; a relative path that is missing under the root
// but present on disk is treated as a local path and reduced the same way.
// Paths outside the root keep working through the resulting ".." components.
func reduceAbsolute(path, root string) string {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(root, path); err == nil {
			return rel
		}
		return path
	}
	if _, err := os.Stat(filepath.Join(root, path)); os.IsNotExist(err) {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				if rel, err := filepath.Rel(root, abs); err == nil {
					return rel
				}
			}
		}
	}
	return path
}

func samePath(a, b string) bool {
	fa, errA := os.Stat(a)
	fb, errB := os.Stat(b)
	if errA == nil && errB == nil && os.SameFile(fa, fb) {
		return true
	}

	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	if errA != nil || errB != nil {
		ra, rb = filepath.Clean(a), filepath.Clean(b)
	}
	return ra == rb
}

func copyFile(src, dst string) error {
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
