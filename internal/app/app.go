// Package app wires the ingestion pipeline: it is the only component that
// both calls the metadata resolver and writes to the catalog store, and it
// owns the ISBN dedup invariant.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"shelfscan/pkg/domain"
	"shelfscan/pkg/openlibrary"
	"shelfscan/pkg/queue"
	"shelfscan/pkg/storage"
	"shelfscan/pkg/store"
)

// Resolver is the metadata lookup surface the pipeline depends on.
type Resolver interface {
	ResolveByCode(ctx context.Context, code string) (domain.BookRecord, error)
	ResolveByQuery(ctx context.Context, query string) (domain.BookRecord, error)
	BrowseBySubject(ctx context.Context, subject, publishedIn string) ([]domain.BookRecord, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Resolver    Resolver
	Objects     storage.ObjectStore
	ImportQueue *queue.RedisJobQueue

	ImportConcurrency int
	PresignExpiry     time.Duration
}

// App is the core application service.
type App struct {
	store    store.Store
	resolver Resolver
	objects  storage.ObjectStore
	imports  *queue.RedisJobQueue

	importConcurrency int
	presignExpiry     time.Duration

	// addGroup serializes concurrent adds per ISBN so a rapid double-tap
	// cannot slip two rows past the existence check. The store's unique
	// index is the backstop.
	addGroup singleflight.Group

	now   func() time.Time
	newID func() string
}

// New constructs the application. A nil Store falls back to a Postgres store
// opened from DatabaseURL; Objects and ImportQueue are optional capabilities.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver required")
	}
	importConcurrency := cfg.ImportConcurrency
	if importConcurrency <= 0 {
		importConcurrency = 4
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	return &App{
		store:             dataStore,
		resolver:          cfg.Resolver,
		objects:           cfg.Objects,
		imports:           cfg.ImportQueue,
		importConcurrency: importConcurrency,
		presignExpiry:     presignExpiry,
		now:               func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
	}, nil
}

// LookupAndAdd resolves a scanned code and feeds the record through the
// pipeline. Resolver failures surface as errors; the ingestion result is an
// Outcome.
func (a *App) LookupAndAdd(ctx context.Context, code string) (domain.Outcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Outcome{}, fmt.Errorf("code required")
	}
	rec, err := a.resolver.ResolveByCode(ctx, code)
	if err != nil {
		return domain.Outcome{}, err
	}
	return a.AddFromLookup(ctx, rec), nil
}

// QueryAndAdd resolves a caller-constructed query (author:…, title:…) and
// feeds the record through the pipeline.
func (a *App) QueryAndAdd(ctx context.Context, query string) (domain.Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Outcome{}, fmt.Errorf("query required")
	}
	rec, err := a.resolver.ResolveByQuery(ctx, query)
	if err != nil {
		return domain.Outcome{}, err
	}
	return a.AddFromLookup(ctx, rec), nil
}

// AddFromLookup runs the dedup-checked persistence sequence for one resolved
// record and returns its terminal outcome. Entries without an ISBN are never
// deduplicated. Concurrent calls for the same ISBN collapse onto one attempt
// and share its outcome.
func (a *App) AddFromLookup(ctx context.Context, rec domain.BookRecord) domain.Outcome {
	if rec.ISBN == "" {
		return a.addEntry(rec)
	}
	v, _, _ := a.addGroup.Do("isbn:"+rec.ISBN, func() (any, error) {
		return a.addDeduped(rec), nil
	})
	return v.(domain.Outcome)
}

func (a *App) addDeduped(rec domain.BookRecord) domain.Outcome {
	existing, found, err := a.store.FindByISBN(rec.ISBN)
	if err != nil {
		// A failed existence check is non-fatal: favor availability over
		// strict dedup and let the insert decide.
		slog.Warn("isbn existence check failed", "isbn", rec.ISBN, "err", err)
	} else if found {
		return domain.Outcome{Kind: domain.OutcomeAlreadyExists, Entry: &existing}
	}
	return a.addEntry(rec)
}

func (a *App) addEntry(rec domain.BookRecord) domain.Outcome {
	entry := domain.NewEntry(a.newID(), rec, a.now())
	if err := a.store.InsertEntry(entry); err != nil {
		if errors.Is(err, store.ErrDuplicateISBN) {
			outcome := domain.Outcome{Kind: domain.OutcomeAlreadyExists}
			if existing, found, findErr := a.store.FindByISBN(rec.ISBN); findErr == nil && found {
				outcome.Entry = &existing
			}
			return outcome
		}
		return domain.Outcome{Kind: domain.OutcomeSaveFailed, Reason: err.Error()}
	}
	return domain.Outcome{Kind: domain.OutcomeAdded, Entry: &entry}
}

// Browse lists subject works as normalized records.
func (a *App) Browse(ctx context.Context, subject, publishedIn string) ([]domain.BookRecord, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("subject required")
	}
	return a.resolver.BrowseBySubject(ctx, subject, publishedIn)
}

// ListEntries returns the catalog, newest first. A non-empty query narrows to
// title/author matches; favoritesOnly narrows to favorites.
func (a *App) ListEntries(query string, favoritesOnly bool) ([]domain.CatalogEntry, error) {
	if favoritesOnly {
		return a.store.ListFavorites()
	}
	if strings.TrimSpace(query) != "" {
		return a.store.SearchEntries(query)
	}
	return a.store.ListEntries()
}

// GetEntry retrieves an entry by id.
func (a *App) GetEntry(id string) (domain.CatalogEntry, bool, error) {
	return a.store.GetEntry(id)
}

// EntryEdit carries the user-editable fields of an entry. Nil fields are
// left unchanged.
type EntryEdit struct {
	Title    *string `json:"title"`
	Authors  *string `json:"authors"`
	Notes    *string `json:"notes"`
	Favorite *bool   `json:"favorite"`
}

// UpdateEntry applies user edits outside the pipeline. Identity fields (id,
// ISBN, addedAt) stay untouched.
func (a *App) UpdateEntry(id string, edit EntryEdit) (domain.CatalogEntry, error) {
	entry, ok, err := a.store.GetEntry(id)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	if !ok {
		return domain.CatalogEntry{}, store.ErrEntryNotFound
	}
	if edit.Title != nil && strings.TrimSpace(*edit.Title) != "" {
		entry.Title = strings.TrimSpace(*edit.Title)
	}
	if edit.Authors != nil && strings.TrimSpace(*edit.Authors) != "" {
		entry.Authors = strings.TrimSpace(*edit.Authors)
	}
	if edit.Notes != nil {
		entry.Notes = *edit.Notes
	}
	if edit.Favorite != nil {
		entry.Favorite = *edit.Favorite
	}
	if err := a.store.UpdateEntry(entry); err != nil {
		return domain.CatalogEntry{}, err
	}
	return entry, nil
}

// DeleteEntry removes an entry by explicit user action.
func (a *App) DeleteEntry(id string) error {
	return a.store.DeleteEntry(id)
}

// EntryCount returns the catalog size.
func (a *App) EntryCount() (int, error) {
	return a.store.EntryCount()
}

var _ Resolver = (*openlibrary.Client)(nil)
