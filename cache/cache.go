// Package cache implements the filesystem-backed, header-driven response
// cache: callers admit a response body under a key derived from a header
// directive, later requests for a matching path are served straight off
// disk, and directives let callers evict single keys or whole key prefixes.
// Entries are published with an exclusive-create lock file plus rename so a
// half-written entry is never visible under its final name.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrIO wraps filesystem failures encountered while reading, writing, or
// evicting cache entries.
var ErrIO = errors.New("cache: io error")

const (
	headerRequest     = "x-cache-request"
	headerDelete      = "x-cache-delete"
	headerDeleteLike  = "x-cache-delete-like"
)

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"?", "_",
	"&", "_",
	"|", "_",
	"<", "_",
	">", "_",
	"*", "_",
	`"`, "_",
	`\`, "_",
	":", "_",
)

// Cache holds the directory cache entries are stored under, whether caching
// is enabled at all, and the path-prefix patterns that qualify a request
// for cache lookup.
type Cache struct {
	Enabled  bool
	Dir      string
	Patterns []string
}

// KeyToFilename sanitizes an arbitrary cache key (typically a request path)
// into a flat filename: one leading slash is stripped, then every
// path-unsafe or cache-directive-unsafe character is replaced with '_'.
func KeyToFilename(key string) string {
	key = strings.TrimPrefix(key, "/")
	return filenameReplacer.Replace(key)
}

// FilePath returns the on-disk path a key resolves to.
func (c *Cache) FilePath(key string) string {
	return filepath.Join(c.Dir, KeyToFilename(key))
}

// Qualifies reports whether path matches one of the configured cache
// patterns (simple prefix match, same as request routing elsewhere in this
// server).
func (c *Cache) Qualifies(path string) bool {
	if !c.Enabled {
		return false
	}
	for _, p := range c.Patterns {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ProcessHeaders strips the three cache-control headers (case-insensitively)
// from headers in place, acting on X-Cache-Delete and X-Cache-Delete-Like
// immediately. If X-Cache-Request was present, it returns the write path the
// caller should admit the eventual response body under. A disabled cache
// returns at once and leaves headers untouched.
func (c *Cache) ProcessHeaders(headers map[string]string) (writePath string, armed bool) {
	if !c.Enabled {
		return "", false
	}

	var requestKey, deleteKey, deleteLikePrefix string
	var haveRequest, haveDeleteLike, haveDelete bool

	for name, value := range headers {
		switch strings.ToLower(name) {
		case headerRequest:
			requestKey, haveRequest = value, true
		case headerDeleteLike:
			deleteLikePrefix, haveDeleteLike = value, true
		case headerDelete:
			deleteKey, haveDelete = value, true
		}
	}
	for name := range headers {
		switch strings.ToLower(name) {
		case headerRequest, headerDeleteLike, headerDelete:
			delete(headers, name)
		}
	}

	if haveDeleteLike {
		_ = c.DeleteLike(deleteLikePrefix)
	}
	if haveDelete {
		_ = c.Delete(deleteKey)
	}

	if haveRequest {
		path := c.FilePath(requestKey)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			return path, true
		}
	}
	return "", false
}

// Write admits buf under path using exclusive-create-then-rename
// publication: a sibling ".lock" file is created with O_EXCL, flocked,
// written, and renamed into place. If path already exists this is a no-op
// success — the first writer to publish an entry wins. If another writer is
// racing to create the same lock file, O_EXCL causes this call to fail
// rather than corrupt the winner's write.
func (c *Cache) Write(buf []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: creating lock file: %v", ErrIO, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		os.Remove(lockPath)
		return fmt.Errorf("%w: locking: %v", ErrIO, err)
	}
	_, writeErr := f.Write(buf)
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
	if writeErr != nil {
		os.Remove(lockPath)
		return fmt.Errorf("%w: writing: %v", ErrIO, writeErr)
	}

	if err := os.Rename(lockPath, path); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("%w: publishing: %v", ErrIO, err)
	}
	return nil
}

// Delete removes the cache entry for key, if present, taking an exclusive
// lock on the file before unlinking it so a concurrent reader mid-Read isn't
// handed a truncated file.
func (c *Cache) Delete(key string) error {
	if !c.Enabled {
		return nil
	}
	return lockAndRemove(c.FilePath(key))
}

// DeleteLike removes every cache entry whose sanitized filename starts with
// the sanitized form of prefix.
func (c *Cache) DeleteLike(prefix string) error {
	if !c.Enabled {
		return nil
	}
	sanitized := KeyToFilename(prefix)
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: listing cache dir: %v", ErrIO, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), sanitized) {
			_ = lockAndRemove(filepath.Join(c.Dir, e.Name()))
		}
	}
	return nil
}

func lockAndRemove(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: opening for delete: %v", ErrIO, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("%w: locking for delete: %v", ErrIO, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: removing: %v", ErrIO, err)
	}
	return nil
}

// TryServe opens the cached entry for key if path qualifies for caching and
// an entry exists. The caller is responsible for closing the returned file.
func (c *Cache) TryServe(path, key string) (*os.File, bool, error) {
	if !c.Qualifies(path) {
		return nil, false, nil
	}
	f, err := os.Open(c.FilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: opening cached entry: %v", ErrIO, err)
	}
	return f, true, nil
}
