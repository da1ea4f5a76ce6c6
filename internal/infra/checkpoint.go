package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"syscall"

	specs "github.com/chrisconley/rhizome/specs"
)

var (
	// ErrCheckpointGap reports a missing page in an otherwise contiguous run.
	ErrCheckpointGap = errors.New("checkpoint gap")
	// ErrCheckpointIncomplete reports a checkpoint directory whose harvest never finished.
	ErrCheckpointIncomplete = errors.New("checkpoint incomplete")
)

const (
	pagePrefix    = "page_"
	manifestName  = "manifest.json"
	archiveSuffix = "_old"
)

// FileCheckpointStore keeps one file per fetched page, named page_<seq>, in a
// single directory. Every write is atomic: a reader sees either the whole page
// or no page.
type FileCheckpointStore struct {
	dir string
}

func NewFileCheckpointStore(dir string) *FileCheckpointStore {
	return &FileCheckpointStore{dir: dir}
}

func (s *FileCheckpointStore) Dir() string {
	return s.dir
}

// ArchiveDir is where Reset moves the previous run.
func (s *FileCheckpointStore) ArchiveDir() string {
	return filepath.Clean(s.dir) + archiveSuffix
}

// Reset archives any previous run to ArchiveDir, replacing an older archive,
// and leaves an empty directory behind. It reports whether anything was archived.
func (s *FileCheckpointStore) Reset() (bool, error) {
	archived := false
	if _, err := os.Stat(s.dir); err == nil {
		if err := os.RemoveAll(s.ArchiveDir()); err != nil {
			return false, fmt.Errorf("failed to remove old archive: %w", err)
		}
		if err := os.Rename(s.dir, s.ArchiveDir()); err != nil {
			return false, fmt.Errorf("failed to archive checkpoints: %w", err)
		}
		archived = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat checkpoint dir: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return archived, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return archived, nil
}

func (s *FileCheckpointStore) pagePath(seq int) string {
	return filepath.Join(s.dir, pagePrefix+strconv.Itoa(seq))
}

func (s *FileCheckpointStore) Write(seq int, raw []byte) error {
	if seq < 0 {
		return fmt.Errorf("invalid page sequence %d", seq)
	}
	if err := writeFileAtomic(s.pagePath(seq), raw); err != nil {
		return fmt.Errorf("failed to write page %d: %w", seq, err)
	}
	return nil
}

func (s *FileCheckpointStore) Read(seq int) ([]byte, error) {
	raw, err := os.ReadFile(s.pagePath(seq))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: page %d is missing", ErrCheckpointGap, seq)
		}
		return nil, fmt.Errorf("failed to read page %d: %w", seq, err)
	}
	return raw, nil
}

// Pages returns the number of stored pages. Sequence numbers must run from 0
// with no holes.
func (s *FileCheckpointStore) Pages() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var seqs []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pagePrefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(name, pagePrefix))
		if err != nil || seq < 0 {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		if seq != i {
			return 0, fmt.Errorf("%w: expected page %d, found page %d", ErrCheckpointGap, i, seq)
		}
	}
	return len(seqs), nil
}

func (s *FileCheckpointStore) WriteManifest(m specs.CheckpointManifestSpec) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, manifestName), raw); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest fails with ErrCheckpointIncomplete when no manifest exists.
func (s *FileCheckpointStore) ReadManifest() (specs.CheckpointManifestSpec, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return specs.CheckpointManifestSpec{}, fmt.Errorf("%w: no manifest in %s", ErrCheckpointIncomplete, s.dir)
		}
		return specs.CheckpointManifestSpec{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m specs.CheckpointManifestSpec
	if err := json.Unmarshal(raw, &m); err != nil {
		return specs.CheckpointManifestSpec{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}

// RemoveManifest marks the directory as in progress again.
func (s *FileCheckpointStore) RemoveManifest() error {
	err := os.Remove(filepath.Join(s.dir, manifestName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fsyncDir(dir)
}

// Directory sync is unsupported on windows and may return ENOTSUP on darwin.
func fsyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	if err := df.Sync(); err != nil && !errors.Is(err, syscall.ENOTSUP) {
		return err
	}
	return nil
}
