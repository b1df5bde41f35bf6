// Package backup keeps versioned, immutable snapshots of files mutated by
// fixes so that a failed or unverified step can be rolled back.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/user/hostaudit/pkg/logging"
)

var (
	// ErrRestoreTargetMissing is returned when the snapshot's parent directory
	// no longer exists.
	ErrRestoreTargetMissing = errors.New("restore target directory missing")
	// ErrPermission is returned when the store cannot read or write a path.
	ErrPermission = errors.New("permission denied")
	// ErrSnapshotNotFound is returned by Load for unknown snapshot IDs.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

const (
	metaSuffix = ".meta.json"
	dataSuffix = ".data"
)

// Snapshot is an immutable point-in-time copy of one file.
type Snapshot struct {
	ID         string      `json:"id"` // "<path key>/<version>"
	Path       string      `json:"path"`
	CapturedAt time.Time   `json:"captured_at"`
	Mode       fs.FileMode `json:"mode"`
	Absent     bool        `json:"absent"` // the file did not exist; restore removes it
	Digest     string      `json:"sha256"`
	Payload    []byte      `json:"-"`
}

// Store persists snapshots under root, one directory per snapshotted path.
type Store struct {
	fs   afero.Fs
	root string
	now  func() time.Time

	mu  sync.Mutex
	seq int
}

// NewStore creates a store rooted at root on the given filesystem.
func NewStore(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: root, now: time.Now}
}

// NewOsStore creates a store on the real filesystem.
func NewOsStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// PathKey is the directory name used for all versions of one path.
func PathKey(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:8])
}

// Snapshot captures the current content of path. A missing file is captured
// as Absent so that restoring removes whatever a fix created.
func (s *Store) Snapshot(path string) (Snapshot, error) {
	path = filepath.Clean(path)
	snap := Snapshot{Path: path}

	info, err := s.fs.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		snap.Absent = true
	case err != nil:
		return Snapshot{}, wrapFSErr("stat", path, err)
	case info.IsDir():
		return Snapshot{}, fmt.Errorf("snapshot %s: is a directory", path)
	default:
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return Snapshot{}, wrapFSErr("read", path, err)
		}
		snap.Payload = data
		snap.Mode = info.Mode().Perm()
	}

	sum := sha256.Sum256(snap.Payload)
	snap.Digest = hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.seq++
	snap.CapturedAt = s.now().UTC()
	version := fmt.Sprintf("%020d-%06d", snap.CapturedAt.UnixNano(), s.seq)
	s.mu.Unlock()

	key := PathKey(path)
	snap.ID = key + "/" + version
	dir := filepath.Join(s.root, key)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return Snapshot{}, wrapFSErr("mkdir", dir, err)
	}
	if err := s.writeNew(filepath.Join(dir, version+dataSuffix), snap.Payload); err != nil {
		return Snapshot{}, err
	}
	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot metadata: %w", err)
	}
	if err := s.writeNew(filepath.Join(dir, version+metaSuffix), meta); err != nil {
		return Snapshot{}, err
	}

	logging.Logger.Debugw("snapshot captured", "path", path, "id", snap.ID, "absent", snap.Absent)
	return snap, nil
}

// writeNew creates a file that must not exist yet; snapshots are never
// overwritten.
func (s *Store) writeNew(path string, data []byte) error {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return wrapFSErr("create", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return wrapFSErr("write", path, err)
	}
	return f.Close()
}

// Restore writes the snapshot content back to its path. Restoring the same
// snapshot again yields the same file state.
func (s *Store) Restore(snap Snapshot) error {
	parent := filepath.Dir(snap.Path)
	info, err := s.fs.Stat(parent)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("restore %s: %w", snap.Path, ErrRestoreTargetMissing)
	}
	if err != nil {
		return wrapFSErr("stat", parent, err)
	}

	if snap.Absent {
		if err := s.fs.Remove(snap.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return wrapFSErr("remove", snap.Path, err)
		}
		logging.Logger.Infow("restored absent file", "path", snap.Path, "id", snap.ID)
		return nil
	}

	if snap.Payload == nil {
		loaded, err := s.Load(snap.ID)
		if err != nil {
			return err
		}
		snap.Payload = loaded.Payload
	}
	mode := snap.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := writeFileAtomic(s.fs, snap.Path, snap.Payload, mode); err != nil {
		return err
	}
	logging.Logger.Infow("restored snapshot", "path", snap.Path, "id", snap.ID)
	return nil
}

// writeFileAtomic writes data to path via temp file + rename so a reader never
// observes a partially restored file.
func writeFileAtomic(fsys afero.Fs, path string, data []byte, perm fs.FileMode) error {
	tmp, err := afero.TempFile(fsys, filepath.Dir(path), ".hostaudit-restore-*")
	if err != nil {
		return wrapFSErr("create temp", path, err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = fsys.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return wrapFSErr("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return wrapFSErr("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return wrapFSErr("close", tmpName, err)
	}
	if err := fsys.Chmod(tmpName, perm); err != nil {
		return wrapFSErr("chmod", tmpName, err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		return wrapFSErr("rename", path, err)
	}
	ok = true
	return nil
}

// Load reads a snapshot, including its payload, by ID.
func (s *Store) Load(id string) (Snapshot, error) {
	key, version, found := strings.Cut(id, "/")
	if !found || key == "" || version == "" || strings.Contains(version, "/") {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
	}
	dir := filepath.Join(s.root, key)
	raw, err := afero.ReadFile(s.fs, filepath.Join(dir, version+metaSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return Snapshot{}, wrapFSErr("read", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	if !snap.Absent {
		data, err := afero.ReadFile(s.fs, filepath.Join(dir, version+dataSuffix))
		if err != nil {
			return Snapshot{}, wrapFSErr("read", id, err)
		}
		snap.Payload = data
	}
	return snap, nil
}

// List returns the snapshots of path, most recent first.
func (s *Store) List(path string) ([]Snapshot, error) {
	return s.listKey(PathKey(path))
}

func (s *Store) listKey(key string) ([]Snapshot, error) {
	dir := filepath.Join(s.root, key)
	entries, err := afero.ReadDir(s.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapFSErr("list", dir, err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		snap, err := s.Load(key + "/" + strings.TrimSuffix(name, metaSuffix))
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].ID > snaps[j].ID
	})
	return snaps, nil
}

// Latest returns the most recent snapshot of path.
func (s *Store) Latest(path string) (Snapshot, error) {
	snaps, err := s.List(path)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no snapshot of %s", ErrSnapshotNotFound, path)
	}
	return snaps[0], nil
}

// All returns every snapshot in the store, most recent first per path.
func (s *Store) All() ([]Snapshot, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapFSErr("list", s.root, err)
	}
	var all []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snaps, err := s.listKey(e.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, snaps...)
	}
	return all, nil
}

// Prune keeps the newest keep snapshots of every path and deletes the rest.
// It returns the number of snapshots removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	entries, err := afero.ReadDir(s.fs, s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapFSErr("list", s.root, err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snaps, err := s.listKey(e.Name())
		if err != nil {
			return removed, err
		}
		if len(snaps) <= keep {
			continue
		}
		for _, snap := range snaps[keep:] {
			_, version, _ := strings.Cut(snap.ID, "/")
			dir := filepath.Join(s.root, e.Name())
			for _, suffix := range []string{metaSuffix, dataSuffix} {
				if err := s.fs.Remove(filepath.Join(dir, version+suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return removed, wrapFSErr("remove", snap.ID, err)
				}
			}
			removed++
		}
	}
	return removed, nil
}

func wrapFSErr(op, path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s %s: %w: %v", op, path, ErrPermission, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
