// Package flatfile implements VersionStore over a single on-disk file,
// in either a JSON text format or a length-prefixed binary format.
//
// Grounded on claircore's libvuln/jsonblob package for the encode/decode
// shape (a single JSON document vs. a tagged binary record stream) and
// on its diskbuf helpers for temp-file handling, generalized here to a
// durable, atomically-rewritten single file rather than a disposable
// buffer.
package flatfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/internal/index"
)

// Format selects which on-disk encoding Store uses when writing.
// Reads always auto-detect regardless of this setting.
type Format int

const (
	// FormatBinary is the default: compact, versioned, self-describing.
	FormatBinary Format = iota
	// FormatText is the JSON `{"entries": [...]}` document, useful for
	// interop and manual inspection.
	FormatText
)

// Store is a VersionStore backed by the single file named at Open.
type Store struct {
	path   string
	format Format

	mu                        sync.Mutex
	closed                    bool
	lastFileReadSerialization uint16
	lastLoadElapsed           time.Duration
}

// Open returns a Store backed by path. It does not itself read or
// create the file; that happens lazily on first use, mirroring the
// teacher's jsonblob.Store which only materializes content when asked.
func Open(path string, format Format) *Store {
	return &Store{path: path, format: format}
}

// LastFileReadSerializationVersion reports the binary format version
// the file was last loaded at, or 0 if the file has never been read as
// binary (e.g. it is in text format, or has not been loaded yet).
func (s *Store) LastFileReadSerializationVersion() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFileReadSerialization
}

// GetAllVersions implements VersionStore.
func (s *Store) GetAllVersions(ctx context.Context) ([]*versiontracker.VersionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, closedErr("GetAllVersions")
	}
	infos, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make([]*versiontracker.VersionInfo, len(infos))
	for i, info := range infos {
		out[i] = info.Clone()
	}
	return out, nil
}

// GetVersionInfo implements VersionStore.
func (s *Store) GetVersionInfo(ctx context.Context, groupID, artifactID string) (*versiontracker.VersionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, closedErr("GetVersionInfo")
	}
	infos, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Artifact.GroupID == groupID && info.Artifact.ArtifactID == artifactID {
			return info.Clone(), nil
		}
	}
	return nil, nil
}

// SaveOrUpdate implements VersionStore.
func (s *Store) SaveOrUpdate(ctx context.Context, info *versiontracker.VersionInfo) error {
	return s.SaveOrUpdateAll(ctx, []*versiontracker.VersionInfo{info})
}

// SaveOrUpdateAll implements VersionStore.
func (s *Store) SaveOrUpdateAll(ctx context.Context, infos []*versiontracker.VersionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedErr("SaveOrUpdateAll")
	}
	existing, err := s.loadLocked()
	if err != nil {
		return err
	}

	idx := index.New[*versiontracker.VersionInfo]()
	for _, info := range existing {
		idx.Put(info.Artifact.GroupID, info.Artifact.ArtifactID, info)
	}
	for _, info := range infos {
		idx.Put(info.Artifact.GroupID, info.Artifact.ArtifactID, info.Clone())
	}
	return s.writeLocked(idx.Snapshot())
}

// Statistics implements VersionStore.
func (s *Store) Statistics(ctx context.Context) (versiontracker.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return versiontracker.Stats{}, closedErr("Statistics")
	}
	infos, err := s.loadLocked()
	if err != nil {
		return versiontracker.Stats{}, err
	}
	fi, err := os.Stat(s.path)
	var size int64
	if err == nil {
		size = fi.Size()
	}
	return versiontracker.Stats{
		EntryCount:      len(infos),
		FileSizeBytes:   size,
		LastLoadElapsed: s.lastLoadElapsed,
	}, nil
}

// Close implements VersionStore. The flat-file backend has nothing
// buffered in memory to flush; Close only marks the Store unusable.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func closedErr(op string) error {
	return &versiontracker.Error{Kind: versiontracker.ErrProgrammer, Op: "flatfile." + op, Message: "store is closed"}
}

// loadLocked reads the current file contents, auto-detecting its
// format. A missing file is treated as empty.
func (s *Store) loadLocked() ([]*versiontracker.VersionInfo, error) {
	start := time.Now()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "flatfile.loadLocked", Inner: err}
	}
	if len(b) == 0 {
		return nil, nil
	}

	loadInstant := time.Now().UTC()
	var infos []*versiontracker.VersionInfo
	switch {
	case b[0] == '{':
		infos, err = readText(bytes.NewReader(b), loadInstant)
		s.lastFileReadSerialization = 0
	case len(b) >= 6 && bytes.Equal(b[:6], Magic[:]):
		res, rerr := readBinary(bytes.NewReader(b), loadInstant)
		err = rerr
		if res != nil {
			infos = res.infos
			s.lastFileReadSerialization = res.fileFormatVers
		}
	default:
		err = &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "flatfile.loadLocked", Message: fmt.Sprintf("unrecognized file header in %s", s.path)}
	}
	s.lastLoadElapsed = time.Since(start)
	return infos, err
}

// writeLocked performs an atomic rewrite: encode to a sibling temp
// file, then rename it over the live path. A write that fails or is
// interrupted leaves the previous file intact.
func (s *Store) writeLocked(infos []*versiontracker.VersionInfo) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "flatfile.writeLocked", Inner: err}
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		tmp.Close()
		if !succeeded {
			os.Remove(tmpName)
		}
	}()

	switch s.format {
	case FormatText:
		err = writeText(tmp, infos)
	default:
		err = writeBinary(tmp, infos)
	}
	if err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "flatfile.writeLocked", Inner: err}
	}
	if err := tmp.Sync(); err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "flatfile.writeLocked", Inner: err}
	}
	if err := tmp.Close(); err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "flatfile.writeLocked", Inner: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "flatfile.writeLocked", Inner: err}
	}
	succeeded = true
	return nil
}
