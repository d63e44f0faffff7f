package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"shelfscan/pkg/domain"
	"shelfscan/pkg/queue"
)

// ImportRequest is the payload of a batch import job.
type ImportRequest struct {
	ISBNs []string `json:"isbns"`
}

// ImportResult records the per-ISBN outcome of a batch import.
type ImportResult struct {
	ISBN    string             `json:"isbn"`
	Kind    domain.OutcomeKind `json:"kind,omitempty"`
	EntryID string             `json:"entryId,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// EnqueueImport queues a batch ISBN import job.
func (a *App) EnqueueImport(ctx context.Context, isbns []string) (queue.JobStatus, error) {
	if a.imports == nil {
		return queue.JobStatus{}, fmt.Errorf("import queue not configured")
	}
	if len(isbns) == 0 {
		return queue.JobStatus{}, fmt.Errorf("at least one ISBN required")
	}
	payload, err := json.Marshal(ImportRequest{ISBNs: isbns})
	if err != nil {
		return queue.JobStatus{}, err
	}
	return a.imports.Enqueue(ctx, string(payload))
}

// GetImport returns the status of an import job.
func (a *App) GetImport(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	if a.imports == nil {
		return queue.JobStatus{}, false, fmt.Errorf("import queue not configured")
	}
	return a.imports.GetJob(ctx, jobID)
}

// StartImporter launches the queue consumers. It is a no-op without a queue.
func (a *App) StartImporter(ctx context.Context, concurrency int) {
	if a.imports == nil {
		return
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	a.imports.Start(ctx, concurrency, a.runImport)
}

// runImport resolves every ISBN of the job with bounded concurrency and feeds
// each record through the pipeline. Lookup failures are recorded per ISBN and
// never fail the job as a whole.
func (a *App) runImport(ctx context.Context, job queue.JobStatus) (string, error) {
	var req ImportRequest
	if err := json.Unmarshal([]byte(job.Payload), &req); err != nil {
		return "", fmt.Errorf("decode import payload: %w", err)
	}

	results := make([]ImportResult, len(req.ISBNs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.importConcurrency)
	for i, isbn := range req.ISBNs {
		g.Go(func() error {
			res := a.importOne(gctx, isbn)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	slog.Info("import job finished", "job_id", job.ID, "isbns", len(req.ISBNs))
	return string(encoded), nil
}

func (a *App) importOne(ctx context.Context, isbn string) ImportResult {
	rec, err := a.resolver.ResolveByCode(ctx, isbn)
	if err != nil {
		return ImportResult{ISBN: isbn, Error: err.Error()}
	}
	outcome := a.AddFromLookup(ctx, rec)
	res := ImportResult{ISBN: isbn, Kind: outcome.Kind, Error: outcome.Reason}
	if outcome.Entry != nil {
		res.EntryID = outcome.Entry.ID
	}
	return res
}
