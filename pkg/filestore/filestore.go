// Package filestore persists cached image bytes under human-readable names
// derived from the APOD title.
package filestore

import (
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/security"
	"golang.org/x/text/unicode/norm"
)

const (
	// StagingDir holds in-flight downloads and is ignored by List.
	StagingDir = ".staging"

	defaultName = "apod"
	tempPattern = ".save-*"
)

// Store reads and writes image files in a single cache directory.
type Store struct {
	dir       string
	validator *security.Validator
	ignore    map[string]struct{}
}

// New creates the cache directory if needed. Names in ignore (the index and
// lock files) are skipped by List.
func New(dir string, validator *security.Validator, ignore ...string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve cache dir")
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		slog.Error("filestore_mkdir_failed", "dir", abs, "error", err)
		return nil, errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}

	s := &Store{
		dir:       abs,
		validator: validator,
		ignore:    map[string]struct{}{StagingDir: {}},
	}
	for _, name := range ignore {
		s.ignore[name] = struct{}{}
	}

	slog.Info("filestore_ready", "dir", abs)
	return s, nil
}

// Dir returns the absolute cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// ComputeFilePath derives the cache path for an image from its title and
// source URL. It is a pure function of its inputs and the cache directory.
func (s *Store) ComputeFilePath(title, sourceURL string) string {
	return filepath.Join(s.dir, FileName(title, sourceURL))
}

// FileName builds "<sanitized title><url extension>".
func FileName(title, sourceURL string) string {
	name := SanitizeTitle(title)
	if name == "" {
		name = defaultName
	}
	return name + Extension(sourceURL)
}

// SanitizeTitle trims the title, collapses inner whitespace runs into one
// underscore and drops everything that is not a letter, digit or underscore.
func SanitizeTitle(title string) string {
	title = norm.NFC.String(strings.TrimSpace(title))

	var b strings.Builder
	inSpace := false
	for _, r := range title {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Extension returns the extension of the URL's last path segment, including
// the dot, or "" if it has none. Query strings and fragments are ignored.
func Extension(sourceURL string) string {
	p := sourceURL
	if u, err := url.Parse(sourceURL); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Ext(path.Base(p))
}

// Save writes data to p through a temp file and rename, so readers never
// observe a partial file. Failures are returned as StorageFailure.
func (s *Store) Save(p string, data []byte) (err error) {
	if s.validator != nil {
		if verr := s.validator.ValidatePath(p); verr != nil {
			return errors.E(errors.KindStorageFailure, errors.StageStore, verr)
		}
	}
	p = s.abs(p)
	if s.Reserved(p) {
		slog.Error("filestore_reserved_name", "path", p)
		return errors.Ef(errors.KindStorageFailure, errors.StageStore, "refusing to overwrite reserved file %s", filepath.Base(p))
	}

	slog.Info("filestore_save_start", "path", p, "size", len(data))

	staging := filepath.Join(s.dir, StagingDir)
	if err = os.MkdirAll(staging, 0755); err != nil {
		slog.Error("filestore_staging_create_failed", "dir", staging, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}

	tmp, err := os.CreateTemp(staging, tempPattern)
	if err != nil {
		slog.Error("filestore_temp_create_failed", "dir", staging, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	tmpPath := tmp.Name()

	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		slog.Error("filestore_write_failed", "path", p, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	if err = tmp.Sync(); err != nil {
		slog.Error("filestore_sync_failed", "path", p, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		slog.Error("filestore_close_failed", "path", p, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	if err = os.Chmod(tmpPath, 0644); err != nil {
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	if err = os.Rename(tmpPath, p); err != nil {
		slog.Error("filestore_rename_failed", "path", p, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}

	slog.Info("filestore_saved", "path", p, "size", len(data))
	return nil
}

// Read returns the bytes stored at p, or NotFound.
func (s *Store) Read(p string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.E(errors.KindNotFound, "", err)
	}
	if err != nil {
		slog.Error("filestore_read_failed", "path", p, "error", err)
		return nil, errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	return data, nil
}

// Exists reports whether a regular file exists at p.
func (s *Store) Exists(p string) (bool, error) {
	info, err := os.Stat(s.abs(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to stat file")
	}
	return info.Mode().IsRegular(), nil
}

// Remove deletes the file at p. A missing file is not an error.
func (s *Store) Remove(p string) error {
	if err := os.Remove(s.abs(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("filestore_remove_failed", "path", p, "error", err)
		return errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	slog.Info("filestore_removed", "path", p)
	return nil
}

// Reserved reports whether p names a file the store must never write, such
// as the index or the lock file.
func (s *Store) Reserved(p string) bool {
	_, ok := s.ignore[filepath.Base(p)]
	return ok
}

// List returns the absolute paths of the image files in the cache directory.
// Hidden files, ignored names and the staging area are skipped.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache dir")
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := s.ignore[name]; skip {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	return paths, nil
}

// StagingPath returns a path in the staging area for an in-flight download.
func (s *Store) StagingPath(name string) (string, error) {
	dir := filepath.Join(s.dir, StagingDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.E(errors.KindStorageFailure, errors.StageStore, err)
	}
	return filepath.Join(dir, filepath.Base(name)), nil
}

// ClearStaging removes everything in the staging area, plus temp files an
// interrupted Save left in the cache directory, and returns how many entries
// were deleted.
func (s *Store) ClearStaging() (int, error) {
	removed := 0
	leftovers, err := filepath.Glob(filepath.Join(s.dir, tempPattern))
	if err != nil {
		return 0, errors.Wrap(err, "failed to scan for temp files")
	}
	for _, p := range leftovers {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, errors.Wrap(err, "failed to remove temp file")
		}
		removed++
	}

	dir := filepath.Join(s.dir, StagingDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return removed, nil
	}
	if err != nil {
		return removed, errors.Wrap(err, "failed to read staging dir")
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, errors.Wrap(err, "failed to remove staged file")
		}
		removed++
	}
	return removed, nil
}

func (s *Store) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.dir, p)
}
