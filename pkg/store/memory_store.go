package store

import (
	"sort"
	"strings"
	"sync"

	"shelfscan/pkg/domain"
)

// MemoryStore keeps catalog entries in-process. It backs tests and the
// storeless dev mode, and enforces the same ISBN uniqueness as the Postgres
// store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.CatalogEntry
	byISBN  map[string]string // isbn -> entry ID
	order   []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]domain.CatalogEntry),
		byISBN:  make(map[string]string),
	}
}

// InsertEntry creates a new entry, rejecting duplicate non-empty ISBNs.
func (m *MemoryStore) InsertEntry(e domain.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ISBN != "" {
		if _, exists := m.byISBN[e.ISBN]; exists {
			return ErrDuplicateISBN
		}
		m.byISBN[e.ISBN] = e.ID
	}
	if _, exists := m.entries[e.ID]; !exists {
		m.order = append(m.order, e.ID)
	}
	m.entries[e.ID] = e
	return nil
}

// GetEntry retrieves an entry by id.
func (m *MemoryStore) GetEntry(id string) (domain.CatalogEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok, nil
}

// FindByISBN returns at most one entry with the exact ISBN.
func (m *MemoryStore) FindByISBN(isbn string) (domain.CatalogEntry, bool, error) {
	if isbn == "" {
		return domain.CatalogEntry{}, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byISBN[isbn]
	if !ok {
		return domain.CatalogEntry{}, false, nil
	}
	e, ok := m.entries[id]
	return e, ok, nil
}

// UpdateEntry replaces a stored entry's mutable fields.
func (m *MemoryStore) UpdateEntry(e domain.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.entries[e.ID]
	if !ok {
		return ErrEntryNotFound
	}
	// ID, ISBN and AddedAt are immutable after creation.
	e.ISBN = existing.ISBN
	e.AddedAt = existing.AddedAt
	m.entries[e.ID] = e
	return nil
}

// DeleteEntry removes an entry.
func (m *MemoryStore) DeleteEntry(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	if e.ISBN != "" {
		delete(m.byISBN, e.ISBN)
	}
	delete(m.entries, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// ListEntries returns all entries, newest first.
func (m *MemoryStore) ListEntries() ([]domain.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(domain.CatalogEntry) bool { return true }), nil
}

// ListFavorites returns favorite entries, newest first.
func (m *MemoryStore) ListFavorites() ([]domain.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(e domain.CatalogEntry) bool { return e.Favorite }), nil
}

// SearchEntries matches title and authors case-insensitively.
func (m *MemoryStore) SearchEntries(query string) ([]domain.CatalogEntry, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	if query == "" {
		return m.collect(func(domain.CatalogEntry) bool { return true }), nil
	}
	return m.collect(func(e domain.CatalogEntry) bool {
		return strings.Contains(strings.ToLower(e.Title), query) ||
			strings.Contains(strings.ToLower(e.Authors), query)
	}), nil
}

// EntryCount returns the number of entries.
func (m *MemoryStore) EntryCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryStore) collect(keep func(domain.CatalogEntry) bool) []domain.CatalogEntry {
	res := make([]domain.CatalogEntry, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok && keep(e) {
			res = append(res, e)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].AddedAt.After(res[j].AddedAt)
	})
	return res
}
