package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// PersistMeta describes a resource being written into the mirror
type PersistMeta struct {
	RunID       string
	ContentType string // Media type, used to pick an extension for the local file
	Validator   *models.CacheValidator
	KeepContent bool // Also keep the fetched bytes in the state store, for later rewriting or re-extraction
}

// EntryStore handles per-URL mirror state and the mirrored files themselves
type EntryStore interface {
	// Lookup returns the stored validator and entry for a canonical URL.
	// Both are nil when the URL has never been saved.
	Lookup(canonicalURL string) (*models.CacheValidator, *models.MirrorEntry, error)

	// Persist writes body into the mirror and records its metadata.
	// Writing the same content again leaves the file untouched.
	// Returns the path of the file relative to the mirror root.
	Persist(canonicalURL string, body []byte, meta PersistMeta) (localPath string, err error)

	// Touch marks an already mirrored URL as seen in runID
	Touch(canonicalURL, runID string) error

	// ReadContent returns the fetched (unrewritten) bytes of a mirrored URL
	ReadContent(canonicalURL string) ([]byte, error)

	// WriteLocal replaces a file below the mirror root if its content differs.
	// Reports whether the file changed.
	WriteLocal(localPath string, data []byte) (changed bool, err error)
}

// RunStore keeps the arguments and totals of crawl runs
type RunStore interface {
	SaveRunInfo(info *models.RunInfo) error

	// LoadRunInfo returns the most recently saved run, or utils.ErrNotInMirror if none exists
	LoadRunInfo() (*models.RunInfo, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// SweepUnseen deletes every entry, and its files, not seen in runID.
	// Returns the removed local paths.
	SweepUnseen(runID string) (removed []string, err error)

	// Entries lists all mirror entries ordered by local path
	Entries() ([]models.MirrorEntry, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// MirrorStore combines all store interfaces for components that need full access
type MirrorStore interface {
	EntryStore
	RunStore
	StoreAdmin
}
