package file

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/levalup/quickdist/pkg/config"
)

// Content digests short-circuit redundant staging copies. Hashing large
// inputs on every call is the dominant cost, so digests are memoized in a
// small bbolt database keyed by absolute path; an entry is trusted only
// while the file's size and mtime are unchanged. The cache is best-effort:
// any failure falls back to hashing.

var bucketDigests = []byte("digests")

type digestEntry struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
	MD5     string `json:"md5"`
}

var (
	digestOnce sync.Once
	digestDB   *bolt.DB
)

func digestCache() *bolt.DB {
	digestOnce.Do(func() {
		if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
			return
		}
		// The lock may be held by another quickdist process on the same
		// host (a worker child, a second node); give up quickly and fall
		// back to hashing rather than wait on it.
		db, err := bolt.Open(filepath.Join(config.Dir(), "digests.db"), 0o600,
			&bolt.Options{Timeout: time.Second})
		if err != nil {
			return
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketDigests)
			return err
		})
		if err != nil {
			db.Close()
			return
		}
		digestDB = db
	})
	return digestDB
}

// fileMD5 returns the hex MD5 of a file, consulting the digest cache first.
func fileMD5(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if db := digestCache(); db != nil {
		var entry digestEntry
		found := false
		_ = db.View(func(tx *bolt.Tx) error {
			data := tx.Bucket(bucketDigests).Get([]byte(abs))
			if data == nil {
				return nil
			}
			if err := json.Unmarshal(data, &entry); err == nil {
				found = true
			}
			return nil
		})
		if found && entry.Size == fi.Size() && entry.ModTime == fi.ModTime().UnixNano() {
			return entry.MD5, nil
		}
	}

	digest, err := hashFile(abs)
	if err != nil {
		return "", err
	}
	storeDigest(abs, fi.Size(), fi.ModTime().UnixNano(), digest)
	return digest, nil
}

// rememberDigest records a just-written copy so the next staging pass can
// skip rehashing it.
func rememberDigest(path, digest string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return
	}
	storeDigest(abs, fi.Size(), fi.ModTime().UnixNano(), digest)
}

func storeDigest(abs string, size, mtime int64, digest string) {
	db := digestCache()
	if db == nil {
		return
	}
	data, err := json.Marshal(digestEntry{Size: size, ModTime: mtime, MD5: digest})
	if err != nil {
		return
	}
	_ = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDigests).Put([]byte(abs), data)
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
