package domain

import "time"

// DefaultTitle and DefaultAuthors are the placeholders applied by the
// resolver when the remote catalog omits the corresponding field. Defaulting
// happens in exactly one place (the resolver mapping); downstream code must
// never re-apply its own fallbacks.
const (
	DefaultTitle   = "Untitled"
	DefaultAuthors = "Unknown author"
)

// BookRecord is the normalized in-flight representation of a resolved book.
// It is an immutable value constructed once per successful lookup or per
// subject-browse item.
type BookRecord struct {
	Title        string   `json:"title"`
	Authors      string   `json:"authors"`
	ISBN         string   `json:"isbn,omitempty"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	Publisher    string   `json:"publisher,omitempty"`
	Published    string   `json:"published,omitempty"`
	Description  string   `json:"description,omitempty"`
	Subjects     []string `json:"subjects,omitempty"`
}

// CatalogEntry is the persisted form of a book, owned by the catalog store.
// ID and AddedAt are assigned at creation and never reassigned.
type CatalogEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Authors      string    `json:"authors"`
	ISBN         string    `json:"isbn,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Publisher    string    `json:"publisher,omitempty"`
	Published    string    `json:"published,omitempty"`
	Description  string    `json:"description,omitempty"`
	Subjects     []string  `json:"subjects,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Favorite     bool      `json:"favorite"`
	AddedAt      time.Time `json:"addedAt"`
}

// Record converts the entry back to its in-flight form. Round-tripping a
// BookRecord through a CatalogEntry reproduces every field exactly.
func (e CatalogEntry) Record() BookRecord {
	return BookRecord{
		Title:        e.Title,
		Authors:      e.Authors,
		ISBN:         e.ISBN,
		ThumbnailURL: e.ThumbnailURL,
		Publisher:    e.Publisher,
		Published:    e.Published,
		Description:  e.Description,
		Subjects:     e.Subjects,
	}
}

// NewEntry builds a fresh catalog entry from a resolved record. The caller
// supplies the generated id and creation timestamp so the construction stays
// deterministic under test.
func NewEntry(id string, rec BookRecord, addedAt time.Time) CatalogEntry {
	return CatalogEntry{
		ID:           id,
		Title:        rec.Title,
		Authors:      rec.Authors,
		ISBN:         rec.ISBN,
		ThumbnailURL: rec.ThumbnailURL,
		Publisher:    rec.Publisher,
		Published:    rec.Published,
		Description:  rec.Description,
		Subjects:     rec.Subjects,
		Favorite:     false,
		AddedAt:      addedAt,
	}
}

// OutcomeKind tags the result of one pipeline add attempt.
type OutcomeKind string

const (
	OutcomeAdded         OutcomeKind = "added"
	OutcomeAlreadyExists OutcomeKind = "already_exists"
	OutcomeSaveFailed    OutcomeKind = "save_failed"
)

// Outcome is the terminal result of an ingestion attempt.
type Outcome struct {
	Kind   OutcomeKind   `json:"kind"`
	Entry  *CatalogEntry `json:"entry,omitempty"`
	Reason string        `json:"reason,omitempty"`
}
