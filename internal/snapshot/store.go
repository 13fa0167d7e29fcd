// Package snapshot defines the persistence collaborator for embedded
// database byte buffers.
//
// The engine never writes to disk itself: after a successful embedded
// mutation it exports its state as bytes and hands them to a Store keyed by
// the logical source path. Providers (local filesystem, MinIO) implement
// the Store interface; callers depend only on this package.
package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dbglass/dbglass/internal/errs"
)

// Store persists and retrieves database snapshots by logical path.
type Store interface {
	// Put durably writes data under path, replacing any previous snapshot.
	Put(ctx context.Context, path string, data []byte) error

	// Get reads the snapshot stored under path.
	// Returns a not-found error when no snapshot exists.
	Get(ctx context.Context, path string) ([]byte, error)
}

// Local is a filesystem-backed Store rooted at a single directory.
// Logical paths map to files under the root; escaping the root is rejected.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and returns a Local store.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create snapshot root", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Put(ctx context.Context, path string, data []byte) error {
	target, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to create snapshot dir", err)
	}

	// Write-then-rename so a crash mid-write never clobbers the previous
	// snapshot with a truncated one.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to write snapshot", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to finalize snapshot", err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, path string) ([]byte, error) {
	target, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.ErrKindNotFound, "no snapshot stored for %q", path)
		}
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to read snapshot", err)
	}
	return data, nil
}

func (l *Local) resolve(path string) (string, error) {
	key := Key(path)
	if key == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "snapshot path is empty")
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

// Key normalizes a logical source path into a storage key: slashes
// canonicalized, leading slashes and drive letters stripped, parent-dir
// segments removed.
func Key(path string) string {
	key := strings.ReplaceAll(path, "\\", "/")
	if i := strings.Index(key, ":/"); i == 1 {
		key = key[i+2:] // windows drive prefix
	}
	parts := strings.Split(key, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "/")
}
