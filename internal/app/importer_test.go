package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"shelfscan/pkg/domain"
	"shelfscan/pkg/queue"
	"shelfscan/pkg/store"
)

type perCodeResolver struct {
	records map[string]domain.BookRecord
}

func (r *perCodeResolver) ResolveByCode(_ context.Context, code string) (domain.BookRecord, error) {
	rec, ok := r.records[code]
	if !ok {
		return domain.BookRecord{}, errors.New("No books found for ISBN " + code)
	}
	return rec, nil
}

func (r *perCodeResolver) ResolveByQuery(context.Context, string) (domain.BookRecord, error) {
	return domain.BookRecord{}, errors.New("not implemented")
}

func (r *perCodeResolver) BrowseBySubject(context.Context, string, string) ([]domain.BookRecord, error) {
	return nil, errors.New("not implemented")
}

func TestRunImportRecordsPerISBNOutcomes(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := &perCodeResolver{records: map[string]domain.BookRecord{
		"1": {Title: "Dune", Authors: "Frank Herbert", ISBN: "1"},
		"2": {Title: "Emma", Authors: "Jane Austen", ISBN: "2"},
	}}
	// Sequential workers keep the repeated-ISBN outcome deterministic.
	a, err := New(Config{Store: st, Resolver: resolver, ImportConcurrency: 1})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	payload, _ := json.Marshal(ImportRequest{ISBNs: []string{"1", "2", "missing", "1"}})
	result, err := a.runImport(context.Background(), queue.JobStatus{ID: "job-1", Payload: string(payload)})
	if err != nil {
		t.Fatalf("run import: %v", err)
	}

	var results []ImportResult
	if err := json.Unmarshal([]byte(result), &results); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	if results[0].Kind != domain.OutcomeAdded || results[0].EntryID == "" {
		t.Fatalf("result[0] = %+v, want added with entry id", results[0])
	}
	if results[1].Kind != domain.OutcomeAdded {
		t.Fatalf("result[1] = %+v, want added", results[1])
	}
	if results[2].Error != "No books found for ISBN missing" || results[2].Kind != "" {
		t.Fatalf("result[2] = %+v, want lookup error", results[2])
	}
	if results[3].Kind != domain.OutcomeAlreadyExists {
		t.Fatalf("result[3] = %+v, want already_exists for repeated ISBN", results[3])
	}

	count, _ := st.EntryCount()
	if count != 2 {
		t.Fatalf("store has %d entries, want 2", count)
	}
}

func TestRunImportRejectsMalformedPayload(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.runImport(context.Background(), queue.JobStatus{ID: "job-2", Payload: "not json"}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEnqueueImportValidation(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.EnqueueImport(context.Background(), []string{"1"}); err == nil {
		t.Fatalf("expected error without configured queue")
	}
}
