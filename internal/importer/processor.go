// Package importer parses downloaded files and persists their derived rows
// through type-specific mappers, one transaction per file.
package importer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/metrics"
)

// txBeginner is the slice of a pgx pool the processor needs; pgxmock
// satisfies it in tests.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config tunes the import stage.
type Config struct {
	// Workers is the fixed parse/import pool size. Must stay below the
	// database pool capacity; config validation enforces that.
	Workers int
	// Strict makes mappers reject documents with unknown fields instead of
	// ignoring them.
	Strict bool
}

// FileResult is the terminal outcome of one file's import attempt.
type FileResult struct {
	RecordID        int64
	Status          catalog.Status
	RecordsImported int
	Err             error
}

// Processor runs claimed imports on a fixed worker pool. Workers receive
// record ids only and re-read the row themselves; a stale copy is never
// trusted across the dispatch boundary.
type Processor struct {
	store    catalog.Store
	db       txBeginner
	registry *Registry
	logger   *zap.Logger
	workers  int
	strict   bool

	// readFile is swappable in tests.
	readFile func(string) ([]byte, error)
}

// NewProcessor builds an import processor.
func NewProcessor(cfg Config, store catalog.Store, db txBeginner, registry *Registry, logger *zap.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Processor{
		store:    store,
		db:       db,
		registry: registry,
		logger:   logger,
		workers:  cfg.Workers,
		strict:   cfg.Strict,
		readFile: os.ReadFile,
	}
}

// ProcessBatch imports every claimed id and returns one result per id, in
// input order. A failure in one file never aborts the rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context, ids []int64) []FileResult {
	results := make([]FileResult, len(ids))
	jobs := make(chan int, len(ids))
	for i := range ids {
		jobs <- i
	}
	close(jobs)

	workers := p.workers
	if workers > len(ids) {
		workers = len(ids)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.processFile(ctx, ids[i])
			}
		}()
	}
	wg.Wait()
	return results
}

// processFile runs one import end to end and persists its outcome. Panics
// from mappers are contained here: the file is marked import_error and the
// worker keeps going.
func (p *Processor) processFile(ctx context.Context, id int64) (res FileResult) {
	res = FileResult{RecordID: id}
	defer func() {
		if r := recover(); r != nil {
			res.Status = catalog.StatusImportError
			res.Err = fmt.Errorf("import panicked: %v", r)
			p.logger.Error("import worker recovered from panic",
				zap.Int64("id", id),
				zap.Any("panic", r))
			p.finalize(ctx, &res)
		}
	}()

	rec, err := p.store.Get(ctx, id)
	if err != nil {
		res.Status = catalog.StatusImportError
		res.Err = fmt.Errorf("re-read record: %w", err)
		p.finalize(ctx, &res)
		return res
	}
	if rec.Status != catalog.StatusProcessing {
		res.Status = catalog.StatusImportError
		res.Err = fmt.Errorf("record %d is %s, not processing", id, rec.Status)
		return res
	}
	if rec.FilePath == "" || rec.FileHash == "" {
		res.Status = catalog.StatusImportError
		res.Err = fmt.Errorf("record %d has no downloaded content", id)
		p.finalize(ctx, &res)
		return res
	}

	raw, err := p.readFile(rec.FilePath)
	if err != nil {
		res.Status = catalog.StatusImportError
		res.Err = fmt.Errorf("read %s: %w", rec.FilePath, err)
		p.finalize(ctx, &res)
		return res
	}

	doc, charset, err := Decode(raw)
	if err != nil {
		res.Status = catalog.StatusImportError
		res.Err = err
		p.finalize(ctx, &res)
		return res
	}

	mapper, ok := p.registry.Lookup(rec.FileType)
	if !ok {
		res.Status = catalog.StatusSchemaMismatch
		res.Err = &SchemaMismatchError{FileType: rec.FileType, Detail: "no mapper registered"}
		p.finalize(ctx, &res)
		return res
	}

	info := FileInfo{
		RecordID:    rec.ID,
		FileName:    rec.FileName,
		FileType:    rec.FileType,
		Category:    rec.Category,
		Legislature: rec.Legislature,
		SubSeries:   rec.SubSeries,
		Session:     rec.Session,
		Number:      rec.Number,
		FilePath:    rec.FilePath,
	}

	n, err := p.runMapper(ctx, mapper, doc, info)
	if err != nil {
		res.Status = classifyMapError(err)
		res.Err = err
		p.finalize(ctx, &res)
		return res
	}

	res.Status = catalog.StatusCompleted
	res.RecordsImported = n
	p.logger.Info("imported file",
		zap.Int64("id", id),
		zap.String("file", rec.FileName),
		zap.String("charset", charset),
		zap.Int("records", n))
	p.finalize(ctx, &res)
	return res
}

// runMapper owns the per-file transaction: all derived rows commit together
// or none do. The deferred rollback also covers a panicking mapper.
func (p *Processor) runMapper(ctx context.Context, mapper Mapper, doc *xmlquery.Node, info FileInfo) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := mapper.ValidateAndMap(ctx, tx, doc, info, p.strict)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// finalize writes the outcome to the catalog and emits metrics.
func (p *Processor) finalize(ctx context.Context, res *FileResult) {
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
	}
	if err := p.store.MarkImportOutcome(ctx, res.RecordID, res.Status, res.RecordsImported, msg); err != nil {
		p.logger.Error("failed to persist import outcome",
			zap.Int64("id", res.RecordID),
			zap.String("status", string(res.Status)),
			zap.Error(err))
	}
	metrics.ObserveImport(string(res.Status), res.RecordsImported)
}

func classifyMapError(err error) catalog.Status {
	switch {
	case IsSchemaMismatch(err):
		return catalog.StatusSchemaMismatch
	case isUnprocessable(err):
		return catalog.StatusSkipped
	default:
		return catalog.StatusImportError
	}
}
