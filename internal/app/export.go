package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shelfscan/pkg/domain"
	"shelfscan/pkg/storage"
)

// RenderEntryText renders one catalog entry in the plain-text export layout:
// title line, optional "by {authors}" line, a blank line before the field
// block (ISBN/Publisher/Published/Subjects, present fields only), then blank
// line + description and blank line + "Notes:" when set.
func RenderEntryText(e domain.CatalogEntry) string {
	var b strings.Builder
	b.WriteString(e.Title)
	b.WriteString("\n")
	if e.Authors != "" {
		b.WriteString("by ")
		b.WriteString(e.Authors)
		b.WriteString("\n")
	}

	var fields []string
	if e.ISBN != "" {
		fields = append(fields, "ISBN: "+e.ISBN)
	}
	if e.Publisher != "" {
		fields = append(fields, "Publisher: "+e.Publisher)
	}
	if e.Published != "" {
		fields = append(fields, "Published: "+e.Published)
	}
	if len(e.Subjects) > 0 {
		fields = append(fields, "Subjects: "+strings.Join(e.Subjects, ", "))
	}
	if len(fields) > 0 {
		b.WriteString("\n")
		for _, field := range fields {
			b.WriteString(field)
			b.WriteString("\n")
		}
	}
	if e.Description != "" {
		b.WriteString("\n")
		b.WriteString(e.Description)
		b.WriteString("\n")
	}
	if e.Notes != "" {
		b.WriteString("\nNotes: ")
		b.WriteString(e.Notes)
		b.WriteString("\n")
	}
	return b.String()
}

// ExportText renders the whole catalog as plain text, one entry per
// line-group separated by blank lines.
func (a *App) ExportText() (string, error) {
	entries, err := a.store.ListEntries()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, RenderEntryText(e))
	}
	return strings.Join(parts, "\n"), nil
}

// Export is a stored export artifact.
type Export struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Entries   int       `json:"entries"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateExport renders the catalog, stores the text in object storage, and
// returns a presigned download URL.
func (a *App) CreateExport(ctx context.Context) (Export, error) {
	if a.objects == nil {
		return Export{}, fmt.Errorf("object storage not configured")
	}
	entries, err := a.store.ListEntries()
	if err != nil {
		return Export{}, err
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, RenderEntryText(e))
	}
	text := strings.Join(parts, "\n")

	createdAt := a.now()
	key := storage.ExportKey(createdAt, a.newID())
	if err := a.objects.PutExport(ctx, key, text); err != nil {
		return Export{}, fmt.Errorf("store export: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.presignExpiry)
	if err != nil {
		return Export{}, fmt.Errorf("presign export: %w", err)
	}
	return Export{Key: key, URL: url, Entries: len(entries), CreatedAt: createdAt}, nil
}
