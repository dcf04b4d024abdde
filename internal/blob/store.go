// Package blob implements a digest-tracking file store for raw source
// payloads. Objects are written under deterministic keys, streamed to disk
// while a SHA-256 digest accumulates, and never buffered in memory.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when no object exists at a key.
var ErrNotFound = errors.New("blob not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key       string    `json:"key"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	StoredAt  time.Time `json:"storedAt"`
	ContentMD string    `json:"contentType,omitempty"`
}

// Store persists blobs under a root directory. Each object carries a sidecar
// metadata file recording its digest and size, so re-runs can adopt a stored
// object without re-reading it.
type Store struct {
	root string
	id   string
}

// NewStore creates (or reuses) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store root: %w", err)
	}
	return &Store{root: filepath.Clean(dir), id: "fs:" + filepath.Base(dir)}, nil
}

// ID identifies this store instance in checkpoints.
func (s *Store) ID() string {
	return s.id
}

// RawKey is the deterministic key for a source revision.
func RawKey(namespace, sourceVersion string) string {
	return fmt.Sprintf("%s/raw/%s.json", namespace, sourceVersion)
}

func (s *Store) objectPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Exists reports whether an object is stored at key.
func (s *Store) Exists(key string) (bool, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	if _, err := os.Stat(path + ".meta.json"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob metadata: %w", err)
	}
	return true, nil
}

// Stat returns the stored metadata for a key.
func (s *Store) Stat(key string) (ObjectInfo, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	data, err := os.ReadFile(path + ".meta.json")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("failed to read blob metadata: %w", err)
	}

	var info ObjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to decode blob metadata: %w", err)
	}
	return info, nil
}

// Put streams the reader into the store under key, computing the SHA-256
// digest incrementally. The object lands atomically via rename; a crash
// mid-write leaves no partial object at the key.
func (s *Store) Put(key string, r io.Reader) (ObjectInfo, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stream blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to flush blob: %w", err)
	}

	info := ObjectInfo{
		Key:      key,
		SHA256:   hex.EncodeToString(hasher.Sum(nil)),
		Size:     size,
		StoredAt: time.Now().UTC(),
	}

	metaJSON, err := json.Marshal(info)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to encode blob metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta.json", metaJSON, 0o644); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to write blob metadata: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to finalize blob: %w", err)
	}

	return info, nil
}

// Open returns a reader over the stored object.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}
