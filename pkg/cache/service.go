// Package cache is the content-addressed APOD image cache: it deduplicates
// images by SHA-256 and keeps every index record paired with a file on disk.
package cache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/db"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/filestore"
	"github.com/apod-desktop/apod/pkg/hasher"
	"github.com/apod-desktop/apod/pkg/security"
)

const (
	// IndexFileName is the SQLite index inside the cache directory.
	IndexFileName = "image_cache.db"
	// LockFileName is the advisory lock taken by mutating commands.
	LockFileName = ".apod.lock"
)

// Config is the explicit cache configuration.
type Config struct {
	Dir          string
	MaxImageSize int64
}

// Service orchestrates hashing, file storage and indexing.
type Service struct {
	dir    string
	source apod.Source
	index  *db.Repository
	files  *filestore.Store
}

// Open initialises the cache in cfg.Dir, creating the directory and index if
// they are missing and reusing them otherwise. source may be nil for
// read-only use.
func Open(cfg Config, source apod.Source) (*Service, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache dir cannot be empty")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve cache dir")
	}

	slog.Info("cache_init", "dir", dir)

	validator := security.NewValidator(dir, cfg.MaxImageSize)
	files, err := filestore.New(dir, validator,
		IndexFileName, IndexFileName+"-journal", IndexFileName+"-wal", IndexFileName+"-shm", LockFileName)
	if err != nil {
		return nil, errors.Wrap(err, "file store init failed")
	}

	index, err := db.NewRepository(filepath.Join(dir, IndexFileName))
	if err != nil {
		return nil, errors.Wrap(err, "index init failed")
	}

	slog.Info("cache_ready", "dir", dir)
	return &Service{dir: dir, source: source, index: index, files: files}, nil
}

// Close releases the index.
func (s *Service) Close() error {
	return s.index.Close()
}

// Dir returns the absolute cache directory.
func (s *Service) Dir() string {
	return s.dir
}

// Files exposes the file store.
func (s *Service) Files() *filestore.Store {
	return s.files
}

// Meta is the APOD metadata stored with an image.
type Meta struct {
	Date        string
	Title       string
	Explanation string
	MediaType   string
	ImageURL    string
}

// MetaFromResult extracts the metadata of a fetch result.
func MetaFromResult(r *apod.Result) Meta {
	return Meta{
		Date:        r.Date,
		Title:       r.Title,
		Explanation: r.Explanation,
		MediaType:   r.MediaType,
		ImageURL:    r.ImageURL,
	}
}

// AddToCache fetches the APOD for date and returns the id of the record
// holding its image, storing the image only if its content is new.
func (s *Service) AddToCache(ctx context.Context, date time.Time) (int64, error) {
	result, err := s.Fetch(ctx, date)
	if err != nil {
		return 0, err
	}

	id, _, err := s.Store(ctx, MetaFromResult(result), result.Data)
	return id, err
}

// Fetch obtains metadata and bytes from the source and rejects unsupported
// media before anything touches the cache.
func (s *Service) Fetch(ctx context.Context, date time.Time) (*apod.Result, error) {
	if s.source == nil {
		return nil, errors.Ef(errors.KindRemoteFetch, errors.StageFetch, "no APOD source configured")
	}

	day := date.Format(apod.DateLayout)
	slog.Info("cache_fetch_start", "date", day)

	result, err := s.source.Fetch(ctx, date)
	if err != nil {
		slog.Error("cache_fetch_failed", "date", day, "error", err)
		if errors.KindOf(err) == errors.KindUnknown {
			err = errors.E(errors.KindRemoteFetch, errors.StageFetch, err)
		}
		return nil, err
	}

	if result.MediaType != db.MediaImage && result.MediaType != db.MediaVideo {
		slog.Warn("cache_unsupported_media", "date", day, "media_type", result.MediaType)
		return nil, errors.Ef(errors.KindUnsupportedMedia, errors.StageFetch, "unsupported media type %q", result.MediaType)
	}
	if len(result.Data) == 0 {
		slog.Error("cache_fetch_empty", "date", day)
		return nil, errors.Ef(errors.KindRemoteFetch, errors.StageFetch, "empty image payload for %s", day)
	}
	if result.Date == "" {
		result.Date = day
	}

	slog.Info("cache_fetch_complete", "date", day, "title", result.Title, "size", len(result.Data))
	return result, nil
}

// Lookup returns the record whose image hashes to contentHash, or NotFound.
func (s *Service) Lookup(ctx context.Context, contentHash string) (*db.Record, error) {
	return s.index.FindByHash(ctx, contentHash)
}

// Store caches data unless an identical image is already indexed. It
// reports the record id and whether the image was already cached. The
// check, file write and insert share one index transaction.
func (s *Service) Store(ctx context.Context, meta Meta, data []byte) (int64, bool, error) {
	contentHash := hasher.Hash(data)

	var id int64
	var hit bool
	var saved string
	err := s.index.RunInTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.Lookup(txCtx, contentHash)
		if err == nil {
			slog.Info("cache_hit", "title", meta.Title, "image_id", existing.ID, "content_hash", contentHash[:16]+"...")
			id, hit = existing.ID, true
			return nil
		}
		if !errors.IsNotFound(err) {
			return err
		}

		slog.Info("cache_miss", "title", meta.Title, "content_hash", contentHash[:16]+"...")

		path, err := s.SaveImage(meta, data, contentHash)
		if err != nil {
			return err
		}
		saved = path
		id, err = s.IndexImage(txCtx, meta, path, contentHash)
		return err
	})
	if err != nil {
		// The insert may have succeeded and the commit failed.
		if saved != "" {
			s.files.Remove(saved)
		}
		if errors.KindOf(err) == errors.KindUnknown {
			err = errors.E(errors.KindIndexFailure, errors.StageIndex, err)
		}
		return 0, false, err
	}
	return id, hit, nil
}

// SaveImage writes data to the path derived from meta. When that name is
// taken by different content the hash prefix is appended to the name.
func (s *Service) SaveImage(meta Meta, data []byte, contentHash string) (string, error) {
	path, err := s.pathFor(meta, contentHash)
	if err != nil {
		return "", err
	}

	if err := s.files.Save(path, data); err != nil {
		slog.Error("cache_store_failed", "path", path, "error", err)
		if errors.KindOf(err) == errors.KindUnknown {
			err = errors.E(errors.KindStorageFailure, errors.StageStore, err)
		}
		return "", err
	}
	return path, nil
}

// IndexImage inserts the record for a saved file. If the insert fails the
// file is removed so no unindexed file is left behind.
func (s *Service) IndexImage(ctx context.Context, meta Meta, path, contentHash string) (int64, error) {
	id, err := s.index.Insert(ctx, &db.Record{
		Title:       meta.Title,
		Explanation: meta.Explanation,
		FilePath:    path,
		ContentHash: contentHash,
		APODDate:    meta.Date,
		MediaType:   meta.MediaType,
		SourceURL:   meta.ImageURL,
	})
	if err != nil {
		slog.Error("cache_index_failed", "path", path, "error", err)
		if rmErr := s.files.Remove(path); rmErr != nil {
			slog.Error("cache_rollback_file_failed", "path", path, "error", rmErr)
		}
		if errors.KindOf(err) == errors.KindUnknown {
			err = errors.E(errors.KindIndexFailure, errors.StageIndex, err)
		}
		return 0, err
	}

	slog.Info("cache_stored", "image_id", id, "path", path)
	return id, nil
}

// pathFor resolves the file name for a new image, disambiguating when the
// derived name is reserved or already holds different bytes.
func (s *Service) pathFor(meta Meta, contentHash string) (string, error) {
	path := s.files.ComputeFilePath(meta.Title, meta.ImageURL)

	if !s.files.Reserved(path) {
		exists, err := s.files.Exists(path)
		if err != nil {
			return "", errors.E(errors.KindStorageFailure, errors.StageStore, err)
		}
		if !exists {
			return path, nil
		}

		if existing, err := hasher.HashFile(path); err == nil && existing == contentHash {
			return path, nil
		}
	}

	ext := filepath.Ext(path)
	alt := strings.TrimSuffix(path, ext) + "_" + contentHash[:8] + ext
	slog.Info("cache_path_collision", "path", path, "alternate", alt)
	return alt, nil
}

// GetRecord returns the record with id, or NotFound.
func (s *Service) GetRecord(ctx context.Context, id int64) (*db.Record, error) {
	return s.index.FindByID(ctx, id)
}

// ListAllTitles returns cached titles in insertion order.
func (s *Service) ListAllTitles(ctx context.Context) ([]string, error) {
	return s.index.ListTitles(ctx)
}

// ListRecords returns every record in insertion order.
func (s *Service) ListRecords(ctx context.Context) ([]*db.Record, error) {
	return s.index.List(ctx)
}

// ReadImage returns the cached bytes for a record.
func (s *Service) ReadImage(rec *db.Record) ([]byte, error) {
	return s.files.Read(rec.FilePath)
}

// Problem describes one inconsistency found by Verify.
type Problem struct {
	RecordID int64
	Path     string
	Reason   string
}

// Verify checks that every record has a readable file matching its hash and
// that every image file belongs to a record.
func (s *Service) Verify(ctx context.Context) ([]Problem, error) {
	records, err := s.index.List(ctx)
	if err != nil {
		return nil, err
	}

	var problems []Problem
	referenced := make(map[string]struct{}, len(records))
	for _, rec := range records {
		referenced[filepath.Clean(rec.FilePath)] = struct{}{}

		digest, err := hasher.HashFile(rec.FilePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			problems = append(problems, Problem{RecordID: rec.ID, Path: rec.FilePath, Reason: "missing file"})
		case err != nil:
			problems = append(problems, Problem{RecordID: rec.ID, Path: rec.FilePath, Reason: "unreadable file: " + err.Error()})
		case digest != rec.ContentHash:
			problems = append(problems, Problem{RecordID: rec.ID, Path: rec.FilePath, Reason: "content hash mismatch"})
		}
	}

	orphans, err := s.Orphans(ctx, referenced)
	if err != nil {
		return nil, err
	}
	for _, p := range orphans {
		problems = append(problems, Problem{Path: p, Reason: "file not referenced by any record"})
	}

	slog.Info("cache_verify_complete", "records", len(records), "problems", len(problems))
	return problems, nil
}

// Orphans lists image files that no record references. referenced may be
// nil, in which case it is loaded from the index.
func (s *Service) Orphans(ctx context.Context, referenced map[string]struct{}) ([]string, error) {
	if referenced == nil {
		records, err := s.index.List(ctx)
		if err != nil {
			return nil, err
		}
		referenced = make(map[string]struct{}, len(records))
		for _, rec := range records {
			referenced[filepath.Clean(rec.FilePath)] = struct{}{}
		}
	}

	paths, err := s.files.List()
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, p := range paths {
		if _, ok := referenced[filepath.Clean(p)]; !ok {
			orphans = append(orphans, p)
		}
	}
	return orphans, nil
}
