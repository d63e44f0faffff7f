package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"shelfscan/pkg/domain"
	"shelfscan/pkg/storage"
	"shelfscan/pkg/store"
)

func TestRenderEntryTextFullEntry(t *testing.T) {
	entry := domain.CatalogEntry{
		Title:       "Dune",
		Authors:     "Frank Herbert",
		ISBN:        "9780441013593",
		Publisher:   "Ace Books",
		Published:   "1965",
		Description: "Desert planet epic.",
		Subjects:    []string{"Science Fiction", "Classics"},
		Notes:       "signed copy",
	}

	want := strings.Join([]string{
		"Dune",
		"by Frank Herbert",
		"",
		"ISBN: 9780441013593",
		"Publisher: Ace Books",
		"Published: 1965",
		"Subjects: Science Fiction, Classics",
		"",
		"Desert planet epic.",
		"",
		"Notes: signed copy",
		"",
	}, "\n")
	if got := RenderEntryText(entry); got != want {
		t.Fatalf("render mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderEntryTextOmitsEmptyFields(t *testing.T) {
	entry := domain.CatalogEntry{Title: "Untitled", Authors: "Unknown author"}
	want := "Untitled\nby Unknown author\n"
	if got := RenderEntryText(entry); got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}

	// A partially populated field block keeps only the present lines.
	entry.Published = "2001"
	want = "Untitled\nby Unknown author\n\nPublished: 2001\n"
	if got := RenderEntryText(entry); got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

type memObjects struct {
	objects map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string]string{}}
}

func (m *memObjects) PutExport(_ context.Context, key, text string) error {
	if !storage.ValidExportKey(key) {
		return storage.ErrBadExportKey
	}
	m.objects[key] = text
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestCreateExportStoresRenderedCatalog(t *testing.T) {
	st := store.NewMemoryStore()
	objects := newMemObjects()
	a, err := New(Config{
		Store:    st,
		Resolver: &stubResolver{},
		Objects:  objects,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	a.AddFromLookup(context.Background(), domain.BookRecord{Title: "Dune", Authors: "Frank Herbert", ISBN: "1"})
	a.AddFromLookup(context.Background(), domain.BookRecord{Title: "Emma", Authors: "Jane Austen", ISBN: "2"})

	export, err := a.CreateExport(context.Background())
	if err != nil {
		t.Fatalf("create export: %v", err)
	}
	if export.Entries != 2 {
		t.Fatalf("entries = %d, want 2", export.Entries)
	}
	if !strings.HasPrefix(export.Key, "exports/") || !strings.HasSuffix(export.Key, ".txt") {
		t.Fatalf("unexpected key %q", export.Key)
	}
	if export.URL != "https://objects.test/"+export.Key {
		t.Fatalf("url = %q", export.URL)
	}

	body := objects.objects[export.Key]
	if !strings.Contains(body, "Dune\nby Frank Herbert") || !strings.Contains(body, "Emma\nby Jane Austen") {
		t.Fatalf("export body missing entries:\n%s", body)
	}
	// Entries are separated by a blank line.
	if !strings.Contains(body, "\n\n") {
		t.Fatalf("expected blank line between entries:\n%s", body)
	}
}

func TestCreateExportWithoutObjectStorage(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.CreateExport(context.Background()); err == nil {
		t.Fatalf("expected error when object storage unconfigured")
	}
}
