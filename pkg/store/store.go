package store

import (
	"errors"

	"shelfscan/pkg/domain"
)

// ErrDuplicateISBN is returned by InsertEntry when the entry's non-empty ISBN
// already exists in the catalog. The unique index behind it is one half of
// the dedup guarantee; the pipeline's per-ISBN critical section is the other.
var ErrDuplicateISBN = errors.New("catalog entry with this ISBN already exists")

// ErrEntryNotFound is returned by UpdateEntry when the target id is unknown.
var ErrEntryNotFound = errors.New("catalog entry not found")

// Store defines persistence operations for catalog entries.
type Store interface {
	InsertEntry(domain.CatalogEntry) error
	GetEntry(id string) (domain.CatalogEntry, bool, error)
	// FindByISBN returns at most one entry with an exact, case-sensitive
	// ISBN match. Empty ISBNs never match.
	FindByISBN(isbn string) (domain.CatalogEntry, bool, error)
	UpdateEntry(domain.CatalogEntry) error
	DeleteEntry(id string) error
	ListEntries() ([]domain.CatalogEntry, error)
	ListFavorites() ([]domain.CatalogEntry, error)
	// SearchEntries matches the query case-insensitively against title and
	// authors.
	SearchEntries(query string) ([]domain.CatalogEntry, error)
	EntryCount() (int, error)
}
