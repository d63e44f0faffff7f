package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shelfscan/pkg/domain"
	"shelfscan/pkg/store"
)

type stubResolver struct {
	record  domain.BookRecord
	records []domain.BookRecord
	err     error
	calls   int
}

func (r *stubResolver) ResolveByCode(_ context.Context, code string) (domain.BookRecord, error) {
	r.calls++
	if r.err != nil {
		return domain.BookRecord{}, r.err
	}
	rec := r.record
	if rec.ISBN == "" {
		rec.ISBN = code
	}
	return rec, nil
}

func (r *stubResolver) ResolveByQuery(context.Context, string) (domain.BookRecord, error) {
	r.calls++
	if r.err != nil {
		return domain.BookRecord{}, r.err
	}
	return r.record, nil
}

func (r *stubResolver) BrowseBySubject(context.Context, string, string) ([]domain.BookRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.records, nil
}

func newTestApp(t *testing.T, st store.Store) *App {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	a, err := New(Config{
		Store:    st,
		Resolver: &stubResolver{record: domain.BookRecord{Title: "Clean Code", Authors: "Robert C. Martin"}},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestAddFromLookupDedupsOnISBN(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	rec := domain.BookRecord{Title: "Clean Code", Authors: "Robert C. Martin", ISBN: "978-0132350884"}

	first := a.AddFromLookup(context.Background(), rec)
	if first.Kind != domain.OutcomeAdded {
		t.Fatalf("first outcome = %q, want added", first.Kind)
	}
	if first.Entry == nil || first.Entry.ID == "" {
		t.Fatalf("added outcome carries no entry: %+v", first)
	}
	if first.Entry.Favorite {
		t.Fatalf("new entry must not be favorite")
	}
	if first.Entry.AddedAt.IsZero() {
		t.Fatalf("addedAt not set")
	}

	second := a.AddFromLookup(context.Background(), rec)
	if second.Kind != domain.OutcomeAlreadyExists {
		t.Fatalf("second outcome = %q, want already_exists", second.Kind)
	}
	if second.Entry == nil || second.Entry.ID != first.Entry.ID {
		t.Fatalf("already_exists should reference the existing entry")
	}

	count, _ := st.EntryCount()
	if count != 1 {
		t.Fatalf("store has %d entries, want 1", count)
	}
}

func TestAddFromLookupNeverDedupsEmptyISBN(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	rec := domain.BookRecord{Title: "Untitled", Authors: "Unknown author"}

	for i := 0; i < 2; i++ {
		outcome := a.AddFromLookup(context.Background(), rec)
		if outcome.Kind != domain.OutcomeAdded {
			t.Fatalf("outcome %d = %q, want added", i, outcome.Kind)
		}
	}
	count, _ := st.EntryCount()
	if count != 2 {
		t.Fatalf("store has %d entries, want 2 distinct entries", count)
	}
}

func TestAddFromLookupConcurrentSameISBN(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	rec := domain.BookRecord{Title: "Dune", Authors: "Frank Herbert", ISBN: "9780441013593"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := a.AddFromLookup(context.Background(), rec)
			if outcome.Kind == domain.OutcomeSaveFailed {
				t.Errorf("unexpected save failure: %s", outcome.Reason)
			}
		}()
	}
	wg.Wait()

	count, _ := st.EntryCount()
	if count != 1 {
		t.Fatalf("store has %d entries after concurrent adds, want 1", count)
	}
}

// failingFindStore simulates a broken existence check; the insert path still
// works.
type failingFindStore struct {
	*store.MemoryStore
}

func (s *failingFindStore) FindByISBN(string) (domain.CatalogEntry, bool, error) {
	return domain.CatalogEntry{}, false, errors.New("index unavailable")
}

func TestAddFromLookupExistenceCheckFailureIsNonFatal(t *testing.T) {
	st := &failingFindStore{MemoryStore: store.NewMemoryStore()}
	a := newTestApp(t, st)
	rec := domain.BookRecord{Title: "Emma", Authors: "Jane Austen", ISBN: "123"}

	outcome := a.AddFromLookup(context.Background(), rec)
	if outcome.Kind != domain.OutcomeAdded {
		t.Fatalf("outcome = %q, want added despite failed check", outcome.Kind)
	}

	// The unique index still catches the duplicate on the second write.
	outcome = a.AddFromLookup(context.Background(), rec)
	if outcome.Kind != domain.OutcomeAlreadyExists {
		t.Fatalf("outcome = %q, want already_exists from insert backstop", outcome.Kind)
	}
}

// failingInsertStore rejects all writes.
type failingInsertStore struct {
	*store.MemoryStore
}

func (s *failingInsertStore) InsertEntry(domain.CatalogEntry) error {
	return errors.New("disk full")
}

func TestAddFromLookupSaveFailed(t *testing.T) {
	st := &failingInsertStore{MemoryStore: store.NewMemoryStore()}
	a := newTestApp(t, st)

	outcome := a.AddFromLookup(context.Background(), domain.BookRecord{Title: "X", Authors: "Y", ISBN: "z"})
	if outcome.Kind != domain.OutcomeSaveFailed {
		t.Fatalf("outcome = %q, want save_failed", outcome.Kind)
	}
	if outcome.Reason != "disk full" {
		t.Fatalf("reason = %q", outcome.Reason)
	}
}

func TestLookupAndAddUsesScannedCodeFallback(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)

	outcome, err := a.LookupAndAdd(context.Background(), "978-0132350884")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if outcome.Kind != domain.OutcomeAdded {
		t.Fatalf("outcome = %q", outcome.Kind)
	}
	if outcome.Entry.ISBN != "978-0132350884" {
		t.Fatalf("isbn = %q, want scanned code", outcome.Entry.ISBN)
	}
}

func TestLookupAndAddPropagatesResolverError(t *testing.T) {
	resolverErr := errors.New("No books found for ISBN 000")
	a, err := New(Config{
		Store:    store.NewMemoryStore(),
		Resolver: &stubResolver{err: resolverErr},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.LookupAndAdd(context.Background(), "000"); !errors.Is(err, resolverErr) {
		t.Fatalf("err = %v, want resolver error", err)
	}
}

func TestUpdateEntryAppliesEdits(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st)
	outcome := a.AddFromLookup(context.Background(), domain.BookRecord{Title: "Dune", Authors: "Frank Herbert", ISBN: "1"})

	notes := "lent to Sam"
	fav := true
	updated, err := a.UpdateEntry(outcome.Entry.ID, EntryEdit{Notes: &notes, Favorite: &fav})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Notes != "lent to Sam" || !updated.Favorite {
		t.Fatalf("edits not applied: %+v", updated)
	}
	if updated.Title != "Dune" {
		t.Fatalf("title changed unexpectedly: %q", updated.Title)
	}

	if _, err := a.UpdateEntry("missing", EntryEdit{Notes: &notes}); !errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("update missing = %v, want ErrEntryNotFound", err)
	}
}

func TestNewRequiresResolver(t *testing.T) {
	if _, err := New(Config{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without resolver")
	}
}

func TestOutcomeTimestampsAreUTC(t *testing.T) {
	a := newTestApp(t, nil)
	outcome := a.AddFromLookup(context.Background(), domain.BookRecord{Title: "T", Authors: "A"})
	if outcome.Entry.AddedAt.Location() != time.UTC {
		t.Fatalf("addedAt not UTC: %v", outcome.Entry.AddedAt)
	}
}
