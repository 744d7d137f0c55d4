package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/log"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const (
	entryKeyPrefix   = "entry:"    // Prefix for mirror entry keys in DB
	contentKeyPrefix = "content:"  // Prefix for kept fetched bytes
	runKeyPrefix     = "run:"      // Prefix for run info keys
	lastRunKey       = "run:last"  // Copy of the most recent run info
	mirrorDBDir      = "mirror_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the MirrorStore interface using BadgerDB for metadata
// and the local filesystem, rooted at outputDir, for mirrored files
type BadgerStore struct {
	db            *badger.DB
	log           *logrus.Entry
	outputDir     string
	keepOriginals bool // Also write fetched bytes below outputDir/.originals
}

var _ MirrorStore = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the mirror database in stateDir.
// Existing state is always kept: it is what makes update runs incremental.
func NewBadgerStore(stateDir, outputDir string, keepOriginals bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log:           logger.WithField("component", "store"),
		outputDir:     outputDir,
		keepOriginals: keepOriginals,
	}

	dbPath := filepath.Join(stateDir, mirrorDBDir)
	store.log.Infof("Initializing mirror database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create output directory %s: %w", utils.ErrFilesystem, outputDir, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	store.log.Info("Mirror database initialized successfully.")
	return store, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func (s *BadgerStore) getEntry(txn *badger.Txn, canonicalURL string) (*models.MirrorEntry, error) {
	item, err := txn.Get([]byte(entryKeyPrefix + canonicalURL))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry models.MirrorEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func setEntry(txn *badger.Txn, entry *models.MirrorEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return txn.Set([]byte(entryKeyPrefix+entry.URL), data)
}

// Lookup implements the MirrorStore interface
func (s *BadgerStore) Lookup(canonicalURL string) (*models.CacheValidator, *models.MirrorEntry, error) {
	var entry *models.MirrorEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var errGet error
		entry, errGet = s.getEntry(txn, canonicalURL)
		return errGet
	})
	if err != nil {
		s.log.WithField("url", canonicalURL).Errorf("DB View error in Lookup: %v", err)
		return nil, nil, fmt.Errorf("%w: looking up '%s': %w", utils.ErrDatabase, canonicalURL, err)
	}
	if entry == nil {
		return nil, nil, nil
	}
	// A validator is only usable if the file it describes is still on disk
	if _, statErr := os.Stat(s.absPath(entry.LocalPath)); statErr != nil {
		return nil, entry, nil
	}
	return entry.Validator(), entry, nil
}

// Persist implements the MirrorStore interface
func (s *BadgerStore) Persist(canonicalURL string, body []byte, meta PersistMeta) (string, error) {
	u, err := parseCanonical(canonicalURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrPersist, err)
	}
	localPath := LocalPath(u, meta.ContentType)
	hash := utils.CalculateBytesSHA256(body)
	persistLog := s.log.WithFields(logrus.Fields{"url": canonicalURL, "local_path": localPath})

	_, prev, err := s.Lookup(canonicalURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrPersist, err)
	}

	unchanged := prev != nil && prev.ContentHash == hash && prev.LocalPath == localPath && fileExists(s.absPath(localPath))
	if unchanged {
		persistLog.Debug("Content unchanged, keeping existing file")
	} else {
		if prev != nil && prev.LocalPath != localPath {
			s.removeFiles(prev.LocalPath)
		}
		if _, err := writeFileAtomic(s.absPath(localPath), body); err != nil {
			return "", fmt.Errorf("%w: %w", utils.ErrPersist, err)
		}
		persistLog.WithField("bytes", len(body)).Debug("Wrote mirror file")
	}
	if s.keepOriginals {
		if _, err := writeFileAtomic(s.originalPath(localPath), body); err != nil {
			return "", fmt.Errorf("%w: %w", utils.ErrPersist, err)
		}
	}

	entry := models.MirrorEntry{
		URL:           canonicalURL,
		LocalPath:     localPath,
		ContentType:   meta.ContentType,
		ContentHash:   hash,
		LastSeenRunID: meta.RunID,
		SavedAt:       time.Now().UTC(),
	}
	if meta.Validator != nil {
		entry.ETag = meta.Validator.ETag
		entry.LastModified = meta.Validator.LastModified
	}
	if unchanged {
		entry.SavedAt = prev.SavedAt
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		if err := setEntry(txn, &entry); err != nil {
			return err
		}
		contentKey := []byte(contentKeyPrefix + canonicalURL)
		if meta.KeepContent {
			return txn.Set(contentKey, body)
		}
		return txn.Delete(contentKey)
	})
	if err != nil {
		persistLog.Errorf("DB Update error in Persist: %v", err)
		return "", fmt.Errorf("%w: %w: storing entry: %w", utils.ErrPersist, utils.ErrDatabase, err)
	}
	return localPath, nil
}

// Touch implements the MirrorStore interface
func (s *BadgerStore) Touch(canonicalURL, runID string) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		entry, err := s.getEntry(txn, canonicalURL)
		if err != nil {
			return err
		}
		if entry == nil {
			return utils.ErrNotInMirror
		}
		if entry.LastSeenRunID == runID {
			return nil
		}
		entry.LastSeenRunID = runID
		return setEntry(txn, entry)
	})
	if errors.Is(err, utils.ErrNotInMirror) {
		return fmt.Errorf("%w: %s", utils.ErrNotInMirror, canonicalURL)
	}
	if err != nil {
		return fmt.Errorf("%w: touching '%s': %w", utils.ErrDatabase, canonicalURL, err)
	}
	return nil
}

// ReadContent implements the MirrorStore interface. Kept bytes are preferred;
// otherwise the mirrored file is read, which is only the fetched content when
// links were not converted.
func (s *BadgerStore) ReadContent(canonicalURL string) ([]byte, error) {
	var body []byte
	var entry *models.MirrorEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(contentKeyPrefix + canonicalURL))
		if err == nil {
			body, err = item.ValueCopy(nil)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry, err = s.getEntry(txn, canonicalURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading content of '%s': %w", utils.ErrDatabase, canonicalURL, err)
	}
	if body != nil {
		return body, nil
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", utils.ErrNotInMirror, canonicalURL)
	}
	body, err = os.ReadFile(s.absPath(entry.LocalPath))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", utils.ErrFilesystem, entry.LocalPath, err)
	}
	return body, nil
}

// WriteLocal implements the MirrorStore interface
func (s *BadgerStore) WriteLocal(localPath string, data []byte) (bool, error) {
	return writeFileAtomic(s.absPath(localPath), data)
}

// SaveRunInfo implements the MirrorStore interface
func (s *BadgerStore) SaveRunInfo(info *models.RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("%w: encoding run info: %w", utils.ErrDatabase, err)
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(runKeyPrefix+info.RunID), data); err != nil {
			return err
		}
		return txn.Set([]byte(lastRunKey), data)
	})
	if err != nil {
		return fmt.Errorf("%w: saving run info %s: %w", utils.ErrDatabase, info.RunID, err)
	}
	return nil
}

// LoadRunInfo implements the MirrorStore interface
func (s *BadgerStore) LoadRunInfo() (*models.RunInfo, error) {
	var info *models.RunInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastRunKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			info = &models.RunInfo{}
			return json.Unmarshal(val, info)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading run info: %w", utils.ErrDatabase, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: no previous run recorded", utils.ErrNotInMirror)
	}
	return info, nil
}

// Entries implements the MirrorStore interface
func (s *BadgerStore) Entries() ([]models.MirrorEntry, error) {
	var entries []models.MirrorEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry models.MirrorEntry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				s.log.Warnf("Skipping undecodable entry '%s': %v", item.Key(), err)
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing entries: %w", utils.ErrDatabase, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LocalPath < entries[j].LocalPath })
	return entries, nil
}

// SweepUnseen implements the MirrorStore interface
func (s *BadgerStore) SweepUnseen(runID string) ([]string, error) {
	var stale []models.MirrorEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry models.MirrorEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				return err
			}
			if entry.LastSeenRunID != runID {
				stale = append(stale, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning for unseen entries: %w", utils.ErrDatabase, err)
	}

	removed := make([]string, 0, len(stale))
	var errs []error
	for _, entry := range stale {
		err := s.dbUpdate(func(txn *badger.Txn) error {
			if err := txn.Delete([]byte(entryKeyPrefix + entry.URL)); err != nil {
				return err
			}
			return txn.Delete([]byte(contentKeyPrefix + entry.URL))
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: deleting '%s': %w", utils.ErrDatabase, entry.URL, err))
			continue
		}
		if err := s.removeFiles(entry.LocalPath); err != nil {
			errs = append(errs, err)
		}
		s.log.WithFields(logrus.Fields{"url": entry.URL, "local_path": entry.LocalPath}).Info("Removed resource no longer in mirror")
		removed = append(removed, entry.LocalPath)
	}
	return removed, errors.Join(errs...)
}

// RunGC implements the MirrorStore interface
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the MirrorStore interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing mirror DB: %v", err)
			return err
		}
		s.log.Debug("Mirror DB closed.")
	}
	return nil
}

func (s *BadgerStore) absPath(localPath string) string {
	return filepath.Join(s.outputDir, filepath.FromSlash(localPath))
}

func (s *BadgerStore) originalPath(localPath string) string {
	return filepath.Join(s.outputDir, originalsDir, filepath.FromSlash(localPath))
}

// removeFiles deletes a mirrored file and its pristine copy, then prunes empty parent directories
func (s *BadgerStore) removeFiles(localPath string) error {
	var errs []error
	for _, p := range []string{s.absPath(localPath), s.originalPath(localPath)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: removing %s: %w", utils.ErrFilesystem, p, err))
			continue
		}
		pruneEmptyDirs(filepath.Dir(p), s.outputDir)
	}
	return errors.Join(errs...)
}

func pruneEmptyDirs(dir, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			return
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// writeFileAtomic writes data to path through a temp file and rename. A file
// already holding data is left alone. Reports whether the file changed.
func writeFileAtomic(path string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("%w: creating directory for %s: %w", utils.ErrFilesystem, path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("%w: creating temp file for %s: %w", utils.ErrFilesystem, path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, fmt.Errorf("%w: writing %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("%w: closing %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("%w: chmod %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("%w: renaming into %s: %w", utils.ErrFilesystem, path, err)
	}
	return true, nil
}

func parseCanonical(canonicalURL string) (*url.URL, error) {
	u, _, err := parse.Canonicalize(canonicalURL, nil)
	return u, err
}
